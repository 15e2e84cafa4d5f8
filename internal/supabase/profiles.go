package supabase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/fraudguide/internal/authkit"
)

var expiryLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02T15:04:05", "2006-01-02"}

type profileRow struct {
	IsPremium        bool    `json:"is_premium"`
	PremiumExpiresAt *string `json:"premium_expires_at"`
}

// ProfileReader reads the profiles table through the REST interface under row-level security.
type ProfileReader struct {
	transport   *Transport
	accessToken func() string
}

var _ authkit.ProfileStore = (*ProfileReader)(nil)

// GetProfile fetches the single profile row for the identity.
func (reader *ProfileReader) GetProfile(ctx context.Context, identityID string) (authkit.Profile, error) {
	bearer := ""
	if reader.accessToken != nil {
		bearer = reader.accessToken()
	}
	var rows []profileRow
	err := reader.transport.exchange(ctx, "profiles", func(scope *requestScope) error {
		_, callErr := reader.transport.rest(scope, bearer).
			From("profiles").
			Select("is_premium,premium_expires_at", "", false).
			Eq("id", identityID).
			Limit(1, "").
			ExecuteTo(&rows)
		return callErr
	})
	if err != nil {
		return authkit.Profile{}, fmt.Errorf("profile_store.get.rest: %w", err)
	}
	if len(rows) == 0 {
		return authkit.Profile{}, fmt.Errorf("profile_store.get.rest: %w", authkit.ErrProfileNotFound)
	}
	profile := authkit.Profile{IdentityID: identityID, IsPremium: rows[0].IsPremium}
	if rows[0].PremiumExpiresAt != nil && strings.TrimSpace(*rows[0].PremiumExpiresAt) != "" {
		expiresAt, err := parseExpiry(*rows[0].PremiumExpiresAt)
		if err != nil {
			return authkit.Profile{}, fmt.Errorf("profile_store.get.rest: %w", err)
		}
		profile.PremiumExpiresAt = &expiresAt
	}
	return profile, nil
}

func parseExpiry(value string) (time.Time, error) {
	for _, layout := range expiryLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable premium_expires_at %q", value)
}
