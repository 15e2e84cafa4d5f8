package localauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// Refresh token lookups fail with one of these.
var (
	ErrRefreshTokenEmptyOpaque    = errors.New("localauth.refresh_token.empty")
	ErrRefreshTokenNotFound       = errors.New("localauth.refresh_token.unknown")
	ErrRefreshTokenRevoked        = errors.New("localauth.refresh_token.revoked")
	ErrRefreshTokenExpired        = errors.New("localauth.refresh_token.expired")
	ErrRefreshTokenAlreadyRevoked = errors.New("localauth.refresh_token.revoked_twice")
)

// RefreshGrant is the stored half of a refresh token. The opaque secret handed to the client is never stored.
type RefreshGrant struct {
	TokenID     string
	IdentityID  string
	RotatedFrom string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   time.Time
}

// RefreshTokenStore persists refresh grants keyed by the digest of their secret.
type RefreshTokenStore interface {
	Issue(ctx context.Context, identityID string, expiresAt time.Time, rotatedFrom string) (RefreshGrant, string, error)
	Lookup(ctx context.Context, secret string) (RefreshGrant, error)
	Revoke(ctx context.Context, tokenID string) error
}

const refreshSecretBytes = 32

var refreshSecretSource io.Reader = rand.Reader

// newRefreshSecret returns a fresh opaque secret and the digest under which it is stored.
func newRefreshSecret() (string, string, error) {
	raw := make([]byte, refreshSecretBytes)
	if _, err := io.ReadFull(refreshSecretSource, raw); err != nil {
		return "", "", fmt.Errorf("localauth.refresh_token.entropy: %w", err)
	}
	secret := hex.EncodeToString(raw)
	return secret, refreshSecretDigest(secret), nil
}

func refreshSecretDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// usable reports why a grant can no longer be exchanged at now, or nil.
func (grant RefreshGrant) usable(now time.Time) error {
	if !grant.RevokedAt.IsZero() {
		return ErrRefreshTokenRevoked
	}
	if !now.Before(grant.ExpiresAt) {
		return ErrRefreshTokenExpired
	}
	return nil
}
