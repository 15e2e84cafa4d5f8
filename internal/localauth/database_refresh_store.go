package localauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"github.com/tyemirov/fraudguide/internal/storage"
	"gorm.io/gorm"
)

// refreshGrantRow is the refresh_grants table. A null revoked_at means the grant is live.
type refreshGrantRow struct {
	TokenID     string     `gorm:"column:token_id;primaryKey"`
	IdentityID  string     `gorm:"column:identity_id;index;not null"`
	Digest      string     `gorm:"column:secret_digest;uniqueIndex;not null"`
	RotatedFrom string     `gorm:"column:rotated_from;not null;default:''"`
	IssuedAt    time.Time  `gorm:"column:issued_at;not null"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null"`
	RevokedAt   *time.Time `gorm:"column:revoked_at"`
}

func (refreshGrantRow) TableName() string {
	return "refresh_grants"
}

func (row refreshGrantRow) grant() RefreshGrant {
	grant := RefreshGrant{
		TokenID:     row.TokenID,
		IdentityID:  row.IdentityID,
		RotatedFrom: row.RotatedFrom,
		IssuedAt:    row.IssuedAt.UTC(),
		ExpiresAt:   row.ExpiresAt.UTC(),
	}
	if row.RevokedAt != nil {
		grant.RevokedAt = row.RevokedAt.UTC()
	}
	return grant
}

// DatabaseRefreshTokenStore keeps refresh grants in the shared GORM database so they survive restarts.
type DatabaseRefreshTokenStore struct {
	db     *gorm.DB
	driver string
	clock  authkit.Clock
}

// NewDatabaseRefreshTokenStore migrates refresh_grants and returns a store bound to it.
func NewDatabaseRefreshTokenStore(ctx context.Context, database *storage.Database, clock authkit.Clock) (*DatabaseRefreshTokenStore, error) {
	if err := database.DB.WithContext(ctx).AutoMigrate(&refreshGrantRow{}); err != nil {
		return nil, fmt.Errorf("localauth.refresh_token.migrate.%s: %w", database.Driver, err)
	}
	if clock == nil {
		clock = authkit.NewSystemClock()
	}
	return &DatabaseRefreshTokenStore{db: database.DB, driver: database.Driver, clock: clock}, nil
}

func (store *DatabaseRefreshTokenStore) Issue(ctx context.Context, identityID string, expiresAt time.Time, rotatedFrom string) (RefreshGrant, string, error) {
	secret, digest, err := newRefreshSecret()
	if err != nil {
		return RefreshGrant{}, "", err
	}
	row := refreshGrantRow{
		TokenID:     uuid.NewString(),
		IdentityID:  identityID,
		Digest:      digest,
		RotatedFrom: rotatedFrom,
		IssuedAt:    store.clock.Now().UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	if createErr := store.db.WithContext(ctx).Create(&row).Error; createErr != nil {
		return RefreshGrant{}, "", fmt.Errorf("localauth.refresh_token.issue.%s: %w", store.driver, createErr)
	}
	return row.grant(), secret, nil
}

func (store *DatabaseRefreshTokenStore) Lookup(ctx context.Context, secret string) (RefreshGrant, error) {
	if strings.TrimSpace(secret) == "" {
		return RefreshGrant{}, fmt.Errorf("localauth.refresh_token.lookup.%s: %w", store.driver, ErrRefreshTokenEmptyOpaque)
	}
	var row refreshGrantRow
	if err := store.db.WithContext(ctx).Where("secret_digest = ?", refreshSecretDigest(secret)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrRefreshTokenNotFound
		}
		return RefreshGrant{}, fmt.Errorf("localauth.refresh_token.lookup.%s: %w", store.driver, err)
	}
	grant := row.grant()
	if err := grant.usable(store.clock.Now()); err != nil {
		return grant, fmt.Errorf("localauth.refresh_token.lookup.%s: %w", store.driver, err)
	}
	return grant, nil
}

// Revoke stamps revoked_at. Revoking twice reports ErrRefreshTokenAlreadyRevoked.
func (store *DatabaseRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	var row refreshGrantRow
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if findErr := transaction.Where("token_id = ?", tokenID).Take(&row).Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenNotFound
			}
			return findErr
		}
		if row.RevokedAt != nil {
			return ErrRefreshTokenAlreadyRevoked
		}
		return transaction.Model(&refreshGrantRow{}).
			Where("token_id = ?", tokenID).
			Update("revoked_at", store.clock.Now().UTC()).Error
	})
	if err != nil {
		return fmt.Errorf("localauth.refresh_token.revoke.%s: %w", store.driver, err)
	}
	return nil
}
