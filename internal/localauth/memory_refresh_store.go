package localauth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/fraudguide/internal/authkit"
)

// MemoryRefreshTokenStore keeps refresh grants in process memory. Used in dev and tests.
type MemoryRefreshTokenStore struct {
	clock authkit.Clock

	mutex    sync.Mutex
	grants   map[string]*RefreshGrant
	byDigest map[string]string
}

// NewMemoryRefreshTokenStore constructs an empty store that judges expiry with clock.
func NewMemoryRefreshTokenStore(clock authkit.Clock) *MemoryRefreshTokenStore {
	if clock == nil {
		clock = authkit.NewSystemClock()
	}
	return &MemoryRefreshTokenStore{
		clock:    clock,
		grants:   make(map[string]*RefreshGrant),
		byDigest: make(map[string]string),
	}
}

func (store *MemoryRefreshTokenStore) Issue(ctx context.Context, identityID string, expiresAt time.Time, rotatedFrom string) (RefreshGrant, string, error) {
	secret, digest, err := newRefreshSecret()
	if err != nil {
		return RefreshGrant{}, "", err
	}
	grant := RefreshGrant{
		TokenID:     uuid.NewString(),
		IdentityID:  identityID,
		RotatedFrom: rotatedFrom,
		IssuedAt:    store.clock.Now().UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.grants[grant.TokenID] = &grant
	store.byDigest[digest] = grant.TokenID
	return grant, secret, nil
}

func (store *MemoryRefreshTokenStore) Lookup(ctx context.Context, secret string) (RefreshGrant, error) {
	if strings.TrimSpace(secret) == "" {
		return RefreshGrant{}, fmt.Errorf("localauth.refresh_token.lookup.memory: %w", ErrRefreshTokenEmptyOpaque)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	grant, ok := store.grants[store.byDigest[refreshSecretDigest(secret)]]
	if !ok {
		return RefreshGrant{}, fmt.Errorf("localauth.refresh_token.lookup.memory: %w", ErrRefreshTokenNotFound)
	}
	if err := grant.usable(store.clock.Now()); err != nil {
		return *grant, fmt.Errorf("localauth.refresh_token.lookup.memory: %w", err)
	}
	return *grant, nil
}

func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	grant, ok := store.grants[tokenID]
	switch {
	case !ok:
		return fmt.Errorf("localauth.refresh_token.revoke.memory: %w", ErrRefreshTokenNotFound)
	case !grant.RevokedAt.IsZero():
		return fmt.Errorf("localauth.refresh_token.revoke.memory: %w", ErrRefreshTokenAlreadyRevoked)
	}
	grant.RevokedAt = store.clock.Now().UTC()
	return nil
}
