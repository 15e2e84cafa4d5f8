package supabase

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/tyemirov/fraudguide/internal/authkit"
)

func TestProfileReaderGetProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(responseWriter http.ResponseWriter, request *http.Request) {
		writeJSON(t, responseWriter, http.StatusOK, sessionPayload(testUserID, "access-1", 3600))
	})
	mux.HandleFunc("/rest/v1/profiles", func(responseWriter http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("select") != "is_premium,premium_expires_at" || query.Get("limit") != "1" {
			t.Errorf("unexpected query %v", query)
		}
		if request.Header.Get("Authorization") != "Bearer access-1" {
			t.Errorf("expected user bearer, got %q", request.Header.Get("Authorization"))
		}
		switch query.Get("id") {
		case "eq.user-1":
			writeJSON(t, responseWriter, http.StatusOK, []map[string]any{{"is_premium": true, "premium_expires_at": "2025-01-01 00:00:00+00"}})
		case "eq.free-user":
			writeJSON(t, responseWriter, http.StatusOK, []map[string]any{{"is_premium": false, "premium_expires_at": nil}})
		case "eq.expired":
			writeJSON(t, responseWriter, http.StatusUnauthorized, map[string]string{"code": "PGRST301", "message": "JWT expired"})
		case "eq.broken":
			writeJSON(t, responseWriter, http.StatusOK, []map[string]any{{"is_premium": true, "premium_expires_at": "next tuesday"}})
		default:
			writeJSON(t, responseWriter, http.StatusOK, []map[string]any{})
		}
	})
	client := newTestTransport(t, mux, nil).NewClient()
	ctx := context.Background()
	if _, err := client.SignInWithPassword(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	reader := client.Profiles()

	profile, err := reader.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if !profile.IsPremium || profile.PremiumExpiresAt == nil || !profile.PremiumExpiresAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected profile %+v", profile)
	}

	profile, err = reader.GetProfile(ctx, "free-user")
	if err != nil || profile.IsPremium || profile.PremiumExpiresAt != nil {
		t.Fatalf("unexpected free profile %+v, %v", profile, err)
	}

	if _, err := reader.GetProfile(ctx, "missing"); !errors.Is(err, authkit.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	_, err = reader.GetProfile(ctx, "expired")
	var providerError *authkit.ProviderError
	if !errors.As(err, &providerError) || providerError.Code != "PGRST301" || providerError.Message != "JWT expired" || providerError.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the REST rejection to surface, got %v", err)
	}
	if _, err := reader.GetProfile(ctx, "broken"); err == nil {
		t.Fatalf("expected unparseable expiry to fail")
	}
}

func TestParseExpiry(t *testing.T) {
	want := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	for _, value := range []string{"2025-03-01T10:30:00Z", "2025-03-01T16:00:00+05:30", "2025-03-01 10:30:00+00", "2025-03-01T10:30:00"} {
		t.Run(value, func(t *testing.T) {
			got, err := parseExpiry(value)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !got.Equal(want) {
				t.Fatalf("expected %v, got %v", want, got)
			}
		})
	}
	if got, err := parseExpiry("2025-03-01"); err != nil || !got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date-only parse %v, %v", got, err)
	}
}
