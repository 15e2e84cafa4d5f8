package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"github.com/tyemirov/fraudguide/internal/checklist"
	"go.uber.org/zap"
)

// ProviderFactory creates the provider view for a new browser context.
// A nil provider runs the context in disabled mode.
type ProviderFactory func() (authkit.IdentityProvider, authkit.ProfileStore)

// RegistryConfig configures how browser contexts are assembled.
type RegistryConfig struct {
	Gateway     authkit.GatewayConfig
	Entitlement authkit.EntitlementConfig
	Clock       authkit.Clock
	Logger      *zap.Logger
	Metrics     authkit.MetricsRecorder
}

// BrowserContext is the server-side state of one browser: its gateway, session store, and checklist progress.
type BrowserContext struct {
	ID       string
	Gateway  *authkit.Gateway
	Sessions *authkit.SessionStore
	Progress *checklist.Progress

	lastSeen time.Time
}

// ContextRegistry owns every live BrowserContext.
type ContextRegistry struct {
	factory       ProviderFactory
	catalog       *checklist.Catalog
	configuration RegistryConfig

	mutex    sync.Mutex
	contexts map[string]*BrowserContext
}

// NewContextRegistry constructs an empty registry.
func NewContextRegistry(factory ProviderFactory, catalog *checklist.Catalog, configuration RegistryConfig) *ContextRegistry {
	if configuration.Clock == nil {
		configuration.Clock = authkit.NewSystemClock()
	}
	if configuration.Logger == nil {
		configuration.Logger = zap.NewNop()
	}
	if factory == nil {
		factory = func() (authkit.IdentityProvider, authkit.ProfileStore) { return nil, nil }
	}
	return &ContextRegistry{
		factory:       factory,
		catalog:       catalog,
		configuration: configuration,
		contexts:      make(map[string]*BrowserContext),
	}
}

// Resolve returns the context for contextID, creating and starting a fresh one when the id is unknown.
// Unknown ids are never adopted; a new id is minted instead.
func (registry *ContextRegistry) Resolve(ctx context.Context, contextID string) (*BrowserContext, bool, error) {
	now := registry.configuration.Clock.Now()
	registry.mutex.Lock()
	if existing, ok := registry.contexts[contextID]; ok && contextID != "" {
		existing.lastSeen = now
		registry.mutex.Unlock()
		return existing, false, nil
	}
	registry.mutex.Unlock()

	created := registry.build(uuid.NewString())
	if err := created.Sessions.Start(ctx); err != nil {
		created.Sessions.Close()
		return nil, false, fmt.Errorf("context_registry.start: %w", err)
	}
	created.lastSeen = now

	registry.mutex.Lock()
	registry.contexts[created.ID] = created
	registry.mutex.Unlock()
	registry.configuration.Logger.Debug("browser context created",
		zap.String("code", "context_registry.created"),
		zap.String("context_id", created.ID))
	return created, true, nil
}

// Sweep closes contexts idle for longer than idleTTL and returns how many were closed.
func (registry *ContextRegistry) Sweep(idleTTL time.Duration) int {
	cutoff := registry.configuration.Clock.Now().Add(-idleTTL)
	registry.mutex.Lock()
	expired := make([]*BrowserContext, 0)
	for contextID, browserContext := range registry.contexts {
		if browserContext.lastSeen.Before(cutoff) {
			expired = append(expired, browserContext)
			delete(registry.contexts, contextID)
		}
	}
	registry.mutex.Unlock()

	for _, browserContext := range expired {
		browserContext.Sessions.Close()
	}
	if len(expired) > 0 {
		registry.configuration.Logger.Info("idle browser contexts closed",
			zap.String("code", "context_registry.swept"),
			zap.Int("count", len(expired)))
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (registry *ContextRegistry) RunSweeper(ctx context.Context, interval time.Duration, idleTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Sweep(idleTTL)
		}
	}
}

// CloseAll closes every context and empties the registry.
func (registry *ContextRegistry) CloseAll() {
	registry.mutex.Lock()
	contexts := registry.contexts
	registry.contexts = make(map[string]*BrowserContext)
	registry.mutex.Unlock()
	for _, browserContext := range contexts {
		browserContext.Sessions.Close()
	}
}

// Len returns the number of live contexts.
func (registry *ContextRegistry) Len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.contexts)
}

func (registry *ContextRegistry) build(contextID string) *BrowserContext {
	provider, profiles := registry.factory()
	logger := registry.configuration.Logger.With(zap.String("context_id", contextID))
	resolver := authkit.NewEntitlementResolver(profiles, registry.configuration.Clock, logger, registry.configuration.Entitlement)
	sessions := authkit.NewSessionStore(provider, resolver, logger)
	return &BrowserContext{
		ID:       contextID,
		Gateway:  authkit.NewGateway(provider, sessions, registry.configuration.Gateway, logger, registry.configuration.Metrics),
		Sessions: sessions,
		Progress: checklist.NewProgress(registry.catalog),
	}
}
