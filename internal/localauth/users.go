package localauth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tyemirov/fraudguide/internal/authkit"
)

// MemoryUserDirectory is a user directory used for demo and local runs.
type MemoryUserDirectory struct {
	mutex     sync.RWMutex
	byID      map[string]UserRecord
	byEmail   map[string]string
	byPhone   map[string]string
	byGoogle  map[string]string
	newUserID func() string
}

// NewMemoryUserDirectory constructs an empty directory.
func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{
		byID:      make(map[string]UserRecord),
		byEmail:   make(map[string]string),
		byPhone:   make(map[string]string),
		byGoogle:  make(map[string]string),
		newUserID: uuid.NewString,
	}
}

// CreatePasswordUser stores a new email/password account.
func (directory *MemoryUserDirectory) CreatePasswordUser(ctx context.Context, email string, passwordHash []byte, displayName string) (authkit.Identity, error) {
	emailKey := normalizeEmail(email)
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	if _, exists := directory.byEmail[emailKey]; exists {
		return authkit.Identity{}, fmt.Errorf("user_directory.create.memory: %w", ErrUserExists)
	}
	identity := authkit.Identity{ID: directory.newUserID(), Email: emailKey, DisplayName: displayName}
	directory.byID[identity.ID] = UserRecord{Identity: identity, PasswordHash: passwordHash}
	directory.byEmail[emailKey] = identity.ID
	return identity, nil
}

// FindByEmail returns the account registered under the email.
func (directory *MemoryUserDirectory) FindByEmail(ctx context.Context, email string) (UserRecord, error) {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	identityID, ok := directory.byEmail[normalizeEmail(email)]
	if !ok {
		return UserRecord{}, fmt.Errorf("user_directory.find.memory: %w", ErrUserNotFound)
	}
	return directory.byID[identityID], nil
}

// UpsertPhoneUser returns the account for the phone number, creating it on first verification.
func (directory *MemoryUserDirectory) UpsertPhoneUser(ctx context.Context, phone string) (authkit.Identity, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	if identityID, ok := directory.byPhone[phone]; ok {
		return directory.byID[identityID].Identity, nil
	}
	identity := authkit.Identity{ID: directory.newUserID(), Phone: phone}
	directory.byID[identity.ID] = UserRecord{Identity: identity}
	directory.byPhone[phone] = identity.ID
	return identity, nil
}

// UpsertGoogleUser inserts or updates an account keyed by Google subject, linking an existing email account.
func (directory *MemoryUserDirectory) UpsertGoogleUser(ctx context.Context, googleSub string, email string, displayName string) (authkit.Identity, error) {
	emailKey := normalizeEmail(email)
	directory.mutex.Lock()
	defer directory.mutex.Unlock()

	identityID, ok := directory.byGoogle[googleSub]
	if !ok {
		identityID, ok = directory.byEmail[emailKey]
	}
	if !ok {
		identityID = directory.newUserID()
	}
	record := directory.byID[identityID]
	record.Identity.ID = identityID
	record.Identity.Email = emailKey
	if displayName != "" {
		record.Identity.DisplayName = displayName
	}
	record.GoogleSubject = googleSub
	directory.byID[identityID] = record
	directory.byGoogle[googleSub] = identityID
	directory.byEmail[emailKey] = identityID
	return record.Identity, nil
}

// GetUser returns the identity by id.
func (directory *MemoryUserDirectory) GetUser(ctx context.Context, identityID string) (authkit.Identity, error) {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	record, ok := directory.byID[identityID]
	if !ok {
		return authkit.Identity{}, fmt.Errorf("user_directory.get.memory: %w", ErrUserNotFound)
	}
	return record.Identity, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
