package localauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"github.com/tyemirov/fraudguide/internal/storage"
	"gorm.io/gorm"
)

// DatabaseUserDirectory persists accounts using GORM.
type DatabaseUserDirectory struct {
	db          *gorm.DB
	driverLabel string
}

type userRecord struct {
	ID            string  `gorm:"column:id;primaryKey"`
	Email         *string `gorm:"column:email;uniqueIndex"`
	Phone         *string `gorm:"column:phone;uniqueIndex"`
	GoogleSubject *string `gorm:"column:google_subject;uniqueIndex"`
	DisplayName   string  `gorm:"column:display_name;not null;default:''"`
	PasswordHash  []byte  `gorm:"column:password_hash"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (userRecord) TableName() string {
	return "users"
}

func (record userRecord) identity() authkit.Identity {
	identity := authkit.Identity{ID: record.ID, DisplayName: record.DisplayName}
	if record.Email != nil {
		identity.Email = *record.Email
	}
	if record.Phone != nil {
		identity.Phone = *record.Phone
	}
	return identity
}

// NewDatabaseUserDirectory migrates the users table and returns a directory bound to it.
func NewDatabaseUserDirectory(ctx context.Context, database *storage.Database) (*DatabaseUserDirectory, error) {
	if migrateErr := database.DB.WithContext(ctx).AutoMigrate(&userRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("user_directory.migrate.%s: %w", database.Driver, migrateErr)
	}
	return &DatabaseUserDirectory{db: database.DB, driverLabel: database.Driver}, nil
}

// CreatePasswordUser stores a new email/password account.
func (directory *DatabaseUserDirectory) CreatePasswordUser(ctx context.Context, email string, passwordHash []byte, displayName string) (authkit.Identity, error) {
	emailKey := normalizeEmail(email)
	var existing int64
	if err := directory.db.WithContext(ctx).Model(&userRecord{}).Where("email = ?", emailKey).Count(&existing).Error; err != nil {
		return authkit.Identity{}, fmt.Errorf("user_directory.create.%s: %w", directory.driverLabel, err)
	}
	if existing > 0 {
		return authkit.Identity{}, fmt.Errorf("user_directory.create.%s: %w", directory.driverLabel, ErrUserExists)
	}
	record := userRecord{
		ID:           uuid.NewString(),
		Email:        &emailKey,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
	}
	if err := directory.db.WithContext(ctx).Create(&record).Error; err != nil {
		return authkit.Identity{}, fmt.Errorf("user_directory.create.%s: %w", directory.driverLabel, err)
	}
	return record.identity(), nil
}

// FindByEmail returns the account registered under the email.
func (directory *DatabaseUserDirectory) FindByEmail(ctx context.Context, email string) (UserRecord, error) {
	record, err := directory.take(ctx, "email = ?", normalizeEmail(email))
	if err != nil {
		return UserRecord{}, fmt.Errorf("user_directory.find.%s: %w", directory.driverLabel, err)
	}
	result := UserRecord{Identity: record.identity(), PasswordHash: record.PasswordHash}
	if record.GoogleSubject != nil {
		result.GoogleSubject = *record.GoogleSubject
	}
	return result, nil
}

// UpsertPhoneUser returns the account for the phone number, creating it on first verification.
func (directory *DatabaseUserDirectory) UpsertPhoneUser(ctx context.Context, phone string) (authkit.Identity, error) {
	record, err := directory.take(ctx, "phone = ?", phone)
	if err == nil {
		return record.identity(), nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return authkit.Identity{}, fmt.Errorf("user_directory.upsert_phone.%s: %w", directory.driverLabel, err)
	}
	phoneValue := phone
	created := userRecord{ID: uuid.NewString(), Phone: &phoneValue}
	if createErr := directory.db.WithContext(ctx).Create(&created).Error; createErr != nil {
		return authkit.Identity{}, fmt.Errorf("user_directory.upsert_phone.%s: %w", directory.driverLabel, createErr)
	}
	return created.identity(), nil
}

// UpsertGoogleUser inserts or updates an account keyed by Google subject, linking an existing email account.
func (directory *DatabaseUserDirectory) UpsertGoogleUser(ctx context.Context, googleSub string, email string, displayName string) (authkit.Identity, error) {
	emailKey := normalizeEmail(email)
	var identity authkit.Identity
	transactionErr := directory.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var record userRecord
		findErr := transaction.Where("google_subject = ?", googleSub).Or("email = ?", emailKey).Take(&record).Error
		if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			record = userRecord{ID: uuid.NewString()}
		}
		subject := googleSub
		record.GoogleSubject = &subject
		record.Email = &emailKey
		if displayName != "" {
			record.DisplayName = displayName
		}
		if saveErr := transaction.Save(&record).Error; saveErr != nil {
			return saveErr
		}
		identity = record.identity()
		return nil
	})
	if transactionErr != nil {
		return authkit.Identity{}, fmt.Errorf("user_directory.upsert_google.%s: %w", directory.driverLabel, transactionErr)
	}
	return identity, nil
}

// GetUser returns the identity by id.
func (directory *DatabaseUserDirectory) GetUser(ctx context.Context, identityID string) (authkit.Identity, error) {
	record, err := directory.take(ctx, "id = ?", identityID)
	if err != nil {
		return authkit.Identity{}, fmt.Errorf("user_directory.get.%s: %w", directory.driverLabel, err)
	}
	return record.identity(), nil
}

func (directory *DatabaseUserDirectory) take(ctx context.Context, query string, argument string) (userRecord, error) {
	var record userRecord
	err := directory.db.WithContext(ctx).Where(query, argument).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return userRecord{}, ErrUserNotFound
	}
	if err != nil {
		return userRecord{}, err
	}
	return record, nil
}
