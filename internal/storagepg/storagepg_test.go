package storagepg

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/tyemirov/fraudguide/internal/authkit"
)

func TestBuildPoolRejectsMalformedURL(t *testing.T) {
	if _, err := BuildPool(context.Background(), "postgres://user@localhost:notaport/profiles"); err == nil {
		t.Fatalf("expected malformed url to fail")
	}
}

func TestPostgresProfileStoreRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("APP_TEST_POSTGRES_URL")
	if databaseURL == "" {
		t.Skip("APP_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		t.Fatalf("build pool: %v", err)
	}
	defer pool.Close()
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	store := NewPostgresProfileStore(pool)
	identityID := "storagepg-test-" + time.Now().UTC().Format("20060102150405.000000000")
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM profiles WHERE id = $1`, identityID)
	})

	if _, err := store.GetProfile(ctx, identityID); !errors.Is(err, authkit.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	expiresAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := store.UpsertProfile(ctx, authkit.Profile{IdentityID: identityID, IsPremium: true, PremiumExpiresAt: &expiresAt}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	profile, err := store.GetProfile(ctx, identityID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !profile.IsPremium || profile.PremiumExpiresAt == nil || !profile.PremiumExpiresAt.Equal(expiresAt) {
		t.Fatalf("unexpected profile %+v", profile)
	}
}
