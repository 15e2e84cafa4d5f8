package authkit

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	defaultEntitlementAttempts        = 3
	defaultEntitlementInitialInterval = 100 * time.Millisecond
)

// ResolveEntitlement reports whether the profile grants active premium access at now.
// An expiry equal to now is already lapsed.
func ResolveEntitlement(profile Profile, now time.Time) bool {
	if !profile.IsPremium {
		return false
	}
	if profile.PremiumExpiresAt == nil {
		return true
	}
	return profile.PremiumExpiresAt.After(now)
}

// EntitlementConfig bounds the profile lookup retries.
type EntitlementConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
}

// EntitlementResolver looks up the profile for an identity and derives the premium flag.
// Lookup failures resolve to false.
type EntitlementResolver struct {
	profiles        ProfileStore
	clock           Clock
	logger          *zap.Logger
	maxAttempts     uint
	initialInterval time.Duration
}

// NewEntitlementResolver constructs a resolver. A nil ProfileStore always resolves to false.
func NewEntitlementResolver(profiles ProfileStore, clock Clock, logger *zap.Logger, configuration EntitlementConfig) *EntitlementResolver {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := configuration.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultEntitlementAttempts
	}
	initialInterval := configuration.InitialInterval
	if initialInterval <= 0 {
		initialInterval = defaultEntitlementInitialInterval
	}
	return &EntitlementResolver{
		profiles:        profiles,
		clock:           clock,
		logger:          logger,
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
	}
}

// Resolve returns the effective entitlement for the identity.
func (resolver *EntitlementResolver) Resolve(ctx context.Context, identityID string) bool {
	if resolver == nil || resolver.profiles == nil || identityID == "" {
		return false
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = resolver.initialInterval

	profile, lookupErr := backoff.Retry(ctx, func() (Profile, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Profile{}, backoff.Permanent(ctxErr)
		}
		profile, err := resolver.profiles.GetProfile(ctx, identityID)
		if errors.Is(err, ErrProfileNotFound) {
			return Profile{}, backoff.Permanent(err)
		}
		return profile, err
	}, backoff.WithBackOff(exponential), backoff.WithMaxTries(resolver.maxAttempts))
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrProfileNotFound) {
			resolver.logger.Debug("profile missing",
				zap.String("code", "entitlement.profile_missing"),
				zap.String("identity_id", identityID))
			return false
		}
		resolver.logger.Warn("profile lookup failed",
			zap.String("code", "entitlement.lookup_failed"),
			zap.String("identity_id", identityID),
			zap.Error(lookupErr))
		return false
	}
	return ResolveEntitlement(profile, resolver.clock.Now())
}
