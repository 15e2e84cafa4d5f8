package authkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestResolveEntitlement(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Nanosecond)

	testCases := []struct {
		name    string
		profile Profile
		want    bool
	}{
		{name: "not premium", profile: Profile{IsPremium: false}, want: false},
		{name: "not premium with future expiry", profile: Profile{IsPremium: false, PremiumExpiresAt: &future}, want: false},
		{name: "premium without expiry", profile: Profile{IsPremium: true}, want: true},
		{name: "premium expiring later", profile: Profile{IsPremium: true, PremiumExpiresAt: &future}, want: true},
		{name: "premium expiring now", profile: Profile{IsPremium: true, PremiumExpiresAt: &now}, want: false},
		{name: "premium expired long ago", profile: Profile{IsPremium: true, PremiumExpiresAt: &past}, want: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := ResolveEntitlement(testCase.profile, now); got != testCase.want {
				t.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

type flakyProfiles struct {
	failures int
	calls    int
	profile  Profile
}

func (store *flakyProfiles) GetProfile(ctx context.Context, identityID string) (Profile, error) {
	store.calls++
	if store.calls <= store.failures {
		return Profile{}, errors.New("connection reset")
	}
	return store.profile, nil
}

func TestEntitlementResolverRetriesTransientFailures(t *testing.T) {
	clock := fixedClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	configuration := EntitlementConfig{MaxAttempts: 3, InitialInterval: time.Millisecond}

	recovering := &flakyProfiles{failures: 2, profile: Profile{IsPremium: true}}
	resolver := NewEntitlementResolver(recovering, clock, zaptest.NewLogger(t), configuration)
	if !resolver.Resolve(context.Background(), "identity-1") {
		t.Fatalf("expected premium after transient failures")
	}
	if recovering.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", recovering.calls)
	}

	failing := &flakyProfiles{failures: 10, profile: Profile{IsPremium: true}}
	resolver = NewEntitlementResolver(failing, clock, zaptest.NewLogger(t), configuration)
	if resolver.Resolve(context.Background(), "identity-1") {
		t.Fatalf("expected lookup failure to resolve to false")
	}
	if failing.calls != 3 {
		t.Fatalf("expected retries to stop after 3 attempts, got %d", failing.calls)
	}
}

func TestEntitlementResolverFailsClosed(t *testing.T) {
	clock := fixedClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	profiles := newMapProfiles()
	profiles.profiles["premium"] = Profile{IdentityID: "premium", IsPremium: true}
	resolver := NewEntitlementResolver(profiles, clock, zaptest.NewLogger(t), EntitlementConfig{MaxAttempts: 3, InitialInterval: time.Millisecond})

	if !resolver.Resolve(context.Background(), "premium") {
		t.Fatalf("expected premium identity to resolve true")
	}
	callsBefore := profiles.callCount()
	if resolver.Resolve(context.Background(), "missing") {
		t.Fatalf("expected missing profile to resolve false")
	}
	if profiles.callCount()-callsBefore != 1 {
		t.Fatalf("expected a missing profile not to be retried")
	}
	if resolver.Resolve(context.Background(), "") {
		t.Fatalf("expected empty identity to resolve false")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if resolver.Resolve(cancelled, "premium") {
		t.Fatalf("expected cancelled lookup to resolve false")
	}

	var nilResolver *EntitlementResolver
	if nilResolver.Resolve(context.Background(), "premium") {
		t.Fatalf("expected nil resolver to resolve false")
	}
	if NewEntitlementResolver(nil, clock, nil, EntitlementConfig{}).Resolve(context.Background(), "premium") {
		t.Fatalf("expected resolver without a store to resolve false")
	}
}
