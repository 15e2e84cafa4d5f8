package storagepg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/fraudguide/internal/authkit"
)

// PostgresProfileStore reads and writes entitlement profiles with raw SQL over pgx.
type PostgresProfileStore struct {
	pool *pgxpool.Pool
}

// NewPostgresProfileStore constructs a Postgres store.
func NewPostgresProfileStore(pool *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{pool: pool}
}

// GetProfile returns the profile row for the identity or authkit.ErrProfileNotFound.
func (store *PostgresProfileStore) GetProfile(ctx context.Context, identityID string) (authkit.Profile, error) {
	var isPremium bool
	var premiumExpiresAt *time.Time
	row := store.pool.QueryRow(ctx, `
SELECT is_premium, premium_expires_at
FROM profiles
WHERE id = $1
`, identityID)
	if scanErr := row.Scan(&isPremium, &premiumExpiresAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return authkit.Profile{}, fmt.Errorf("profile_store.get.pgx: %w", authkit.ErrProfileNotFound)
		}
		return authkit.Profile{}, fmt.Errorf("profile_store.get.pgx: %w", scanErr)
	}
	return authkit.Profile{
		IdentityID:       identityID,
		IsPremium:        isPremium,
		PremiumExpiresAt: premiumExpiresAt,
	}, nil
}

// UpsertProfile inserts or replaces the entitlement fields for the identity.
func (store *PostgresProfileStore) UpsertProfile(ctx context.Context, profile authkit.Profile) error {
	_, err := store.pool.Exec(ctx, `
INSERT INTO profiles (id, is_premium, premium_expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET is_premium = EXCLUDED.is_premium,
    premium_expires_at = EXCLUDED.premium_expires_at,
    updated_at = EXCLUDED.updated_at
`, profile.IdentityID, profile.IsPremium, profile.PremiumExpiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("profile_store.upsert.pgx: %w", err)
	}
	return nil
}
