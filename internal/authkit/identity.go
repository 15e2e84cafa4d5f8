package authkit

import (
	"strings"
	"time"
)

// Identity is an authenticated end-user account owned by the identity provider.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Contact returns the primary contact of the identity, preferring email over phone.
func (identity Identity) Contact() string {
	if strings.TrimSpace(identity.Email) != "" {
		return identity.Email
	}
	return identity.Phone
}

// Session is a time-bounded bearer credential tied to one Identity.
type Session struct {
	Identity     Identity
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the access token has reached its expiry at the given instant.
func (session *Session) Expired(now time.Time) bool {
	if session == nil {
		return true
	}
	if session.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(session.ExpiresAt)
}

// Profile carries the entitlement fields stored for an identity.
type Profile struct {
	IdentityID       string
	IsPremium        bool
	PremiumExpiresAt *time.Time
}
