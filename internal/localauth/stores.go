package localauth

import (
	"context"
	"errors"

	"github.com/tyemirov/fraudguide/internal/authkit"
)

var (
	// ErrUserNotFound indicates no account matched the lookup.
	ErrUserNotFound = errors.New("user_directory.not_found")
	// ErrUserExists indicates an account with the same email already exists.
	ErrUserExists = errors.New("user_directory.exists")
)

// UserRecord is an account as stored by the directory.
type UserRecord struct {
	Identity      authkit.Identity
	PasswordHash  []byte
	GoogleSubject string
}

// UserDirectory persists accounts for the local provider.
type UserDirectory interface {
	CreatePasswordUser(ctx context.Context, email string, passwordHash []byte, displayName string) (authkit.Identity, error)
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	UpsertPhoneUser(ctx context.Context, phone string) (authkit.Identity, error)
	UpsertGoogleUser(ctx context.Context, googleSub string, email string, displayName string) (authkit.Identity, error)
	GetUser(ctx context.Context, identityID string) (authkit.Identity, error)
}
