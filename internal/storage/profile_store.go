package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/fraudguide/internal/authkit"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errEmptyIdentityID = errors.New("profile_store.empty_identity_id")

// ProfileWriter records entitlement changes made by the billing side.
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, profile authkit.Profile) error
}

type profileRecord struct {
	ID               string     `gorm:"column:id;primaryKey"`
	IsPremium        bool       `gorm:"column:is_premium;not null;default:false"`
	PremiumExpiresAt *time.Time `gorm:"column:premium_expires_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (profileRecord) TableName() string {
	return "profiles"
}

// DatabaseProfileStore reads and writes the profiles table using GORM.
type DatabaseProfileStore struct {
	db          *gorm.DB
	driverLabel string
}

// NewDatabaseProfileStore migrates the profiles table and returns a store bound to it.
func NewDatabaseProfileStore(ctx context.Context, database *Database) (*DatabaseProfileStore, error) {
	if migrateErr := database.DB.WithContext(ctx).AutoMigrate(&profileRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("profile_store.migrate.%s: %w", database.Driver, migrateErr)
	}
	return &DatabaseProfileStore{db: database.DB, driverLabel: database.Driver}, nil
}

// GetProfile returns the profile for the identity or authkit.ErrProfileNotFound.
func (store *DatabaseProfileStore) GetProfile(ctx context.Context, identityID string) (authkit.Profile, error) {
	if strings.TrimSpace(identityID) == "" {
		return authkit.Profile{}, fmt.Errorf("profile_store.get.%s: %w", store.driverLabel, errEmptyIdentityID)
	}
	var record profileRecord
	err := store.db.WithContext(ctx).Where("id = ?", identityID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authkit.Profile{}, fmt.Errorf("profile_store.get.%s: %w", store.driverLabel, authkit.ErrProfileNotFound)
		}
		return authkit.Profile{}, fmt.Errorf("profile_store.get.%s: %w", store.driverLabel, err)
	}
	return authkit.Profile{
		IdentityID:       record.ID,
		IsPremium:        record.IsPremium,
		PremiumExpiresAt: record.PremiumExpiresAt,
	}, nil
}

// UpsertProfile inserts or replaces the entitlement fields for the identity.
func (store *DatabaseProfileStore) UpsertProfile(ctx context.Context, profile authkit.Profile) error {
	if strings.TrimSpace(profile.IdentityID) == "" {
		return fmt.Errorf("profile_store.upsert.%s: %w", store.driverLabel, errEmptyIdentityID)
	}
	record := profileRecord{
		ID:               profile.IdentityID,
		IsPremium:        profile.IsPremium,
		PremiumExpiresAt: profile.PremiumExpiresAt,
		UpdatedAt:        time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_premium", "premium_expires_at", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("profile_store.upsert.%s: %w", store.driverLabel, err)
	}
	return nil
}

// MemoryProfileStore keeps profiles in memory for tests and local runs.
type MemoryProfileStore struct {
	mutex    sync.RWMutex
	profiles map[string]authkit.Profile
}

// NewMemoryProfileStore constructs an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]authkit.Profile)}
}

// GetProfile returns the stored profile or authkit.ErrProfileNotFound.
func (store *MemoryProfileStore) GetProfile(ctx context.Context, identityID string) (authkit.Profile, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	profile, ok := store.profiles[identityID]
	if !ok {
		return authkit.Profile{}, fmt.Errorf("profile_store.get.memory: %w", authkit.ErrProfileNotFound)
	}
	return profile, nil
}

// UpsertProfile stores the profile, replacing any previous value.
func (store *MemoryProfileStore) UpsertProfile(ctx context.Context, profile authkit.Profile) error {
	if strings.TrimSpace(profile.IdentityID) == "" {
		return fmt.Errorf("profile_store.upsert.memory: %w", errEmptyIdentityID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.profiles[profile.IdentityID] = profile
	return nil
}
