package authkit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// SessionState is the lifecycle state of a SessionStore.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateLoading       SessionState = "loading"
	StateAuthenticated SessionState = "authenticated"
	StateAnonymous     SessionState = "anonymous"
)

// ErrSessionStoreClosed is returned when Start runs after Close.
var ErrSessionStoreClosed = errors.New("session_store.closed")

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	State    SessionState
	Identity *Identity
	Session  *Session
	Loading  bool
	Premium  bool
}

// SnapshotListener observes snapshot changes.
type SnapshotListener func(snapshot Snapshot)

// SessionStore holds the current identity, session, and entitlement for one browser context.
// It is the only mutator of that state; callers change it through the Gateway.
type SessionStore struct {
	provider     IdentityProvider
	entitlements *EntitlementResolver
	logger       *zap.Logger

	notifyMutex sync.Mutex
	mutex       sync.Mutex
	snapshot    Snapshot
	generation  uint64
	started     bool
	closed      bool
	unsubscribe func()
	listeners   map[uint64]SnapshotListener
	nextID      uint64
	closeOnce   sync.Once
}

// NewSessionStore constructs a store in the Uninitialized state. A nil provider puts the store in disabled mode.
func NewSessionStore(provider IdentityProvider, entitlements *EntitlementResolver, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		provider:     provider,
		entitlements: entitlements,
		logger:       logger,
		snapshot:     Snapshot{State: StateUninitialized},
		listeners:    make(map[uint64]SnapshotListener),
	}
}

// Start moves the store to Loading, subscribes to provider notifications, and fetches any existing session.
// It is a no-op after the first call. If Start fails, the provider subscription is released.
func (store *SessionStore) Start(ctx context.Context) (err error) {
	store.mutex.Lock()
	if store.closed {
		store.mutex.Unlock()
		return fmt.Errorf("session_store.start: %w", ErrSessionStoreClosed)
	}
	if store.started {
		store.mutex.Unlock()
		return nil
	}
	store.started = true
	store.mutex.Unlock()

	if store.provider == nil {
		store.commit(store.reserve(), nil, false)
		return nil
	}

	loadingGeneration := store.reserve()
	store.commitLoading(loadingGeneration)

	unsubscribe := store.provider.OnAuthStateChange(store.handleAuthEvent)
	defer func() {
		if err != nil {
			store.mutex.Lock()
			store.unsubscribe = nil
			store.mutex.Unlock()
			unsubscribe()
			store.commit(store.reserve(), nil, false)
		}
	}()

	store.mutex.Lock()
	if store.closed {
		store.mutex.Unlock()
		return fmt.Errorf("session_store.start: %w", ErrSessionStoreClosed)
	}
	store.unsubscribe = unsubscribe
	store.mutex.Unlock()

	session, fetchErr := store.provider.GetSession(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("session_store.start: %w", ctxErr)
	}
	if fetchErr != nil {
		store.logger.Warn("initial session fetch failed",
			zap.String("code", "session_store.initial_fetch_failed"),
			zap.Error(fetchErr))
		session = nil
	}

	premium := store.resolvePremium(ctx, session)
	store.commit(loadingGeneration, session, premium)
	return nil
}

// Refresh asks the provider for its current session so that expired tokens are renewed or dropped.
// Provider notifications raised during the call take precedence over the fetched result.
// A fetch error leaves the state untouched.
func (store *SessionStore) Refresh(ctx context.Context) error {
	if store.provider == nil {
		return nil
	}
	store.mutex.Lock()
	if store.closed || !store.started || store.snapshot.State == StateLoading {
		store.mutex.Unlock()
		return nil
	}
	observed := store.generation
	current := cloneSnapshot(store.snapshot)
	store.mutex.Unlock()

	session, fetchErr := store.provider.GetSession(ctx)
	if fetchErr != nil {
		return fmt.Errorf("session_store.refresh: %w", fetchErr)
	}
	if sameSession(current.Session, session) {
		return nil
	}
	premium := current.Premium
	if current.Session == nil || session == nil || current.Session.Identity.ID != session.Identity.ID {
		premium = store.resolvePremium(ctx, session)
	}
	generation, ok := store.reserveAfter(observed)
	if !ok {
		return nil
	}
	store.commit(generation, session, premium)
	return nil
}

// Snapshot returns a copy of the current state.
func (store *SessionStore) Snapshot() Snapshot {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return cloneSnapshot(store.snapshot)
}

// Subscribe registers a listener invoked after every committed change and returns an idempotent unsubscribe.
func (store *SessionStore) Subscribe(listener SnapshotListener) func() {
	store.mutex.Lock()
	store.nextID++
	listenerID := store.nextID
	store.listeners[listenerID] = listener
	store.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			store.mutex.Lock()
			delete(store.listeners, listenerID)
			store.mutex.Unlock()
		})
	}
}

func (store *SessionStore) clear() {
	store.commit(store.reserve(), nil, false)
}

// Close releases the provider subscription. It is safe to call more than once.
func (store *SessionStore) Close() {
	store.closeOnce.Do(func() {
		store.mutex.Lock()
		store.closed = true
		store.mutex.Unlock()
		store.release()
	})
}

func (store *SessionStore) release() {
	store.mutex.Lock()
	unsubscribe := store.unsubscribe
	store.unsubscribe = nil
	store.mutex.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (store *SessionStore) handleAuthEvent(event AuthEvent) {
	generation := store.reserve()
	session := event.Session
	if event.Kind == EventSignedOut {
		session = nil
	}
	premium := store.resolvePremium(context.Background(), session)
	if !store.commit(generation, session, premium) {
		store.logger.Debug("superseded auth event dropped",
			zap.String("code", "session_store.event_superseded"),
			zap.String("event", string(event.Kind)))
	}
}

func (store *SessionStore) resolvePremium(ctx context.Context, session *Session) bool {
	if session == nil || session.Identity.ID == "" {
		return false
	}
	return store.entitlements.Resolve(ctx, session.Identity.ID)
}

func (store *SessionStore) reserve() uint64 {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.generation++
	return store.generation
}

// reserveAfter reserves a generation only if no other change was reserved since observed.
func (store *SessionStore) reserveAfter(observed uint64) (uint64, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.generation != observed {
		return 0, false
	}
	store.generation++
	return store.generation, true
}

func sameSession(left *Session, right *Session) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return left.AccessToken == right.AccessToken && left.Identity.ID == right.Identity.ID
}

func (store *SessionStore) commitLoading(generation uint64) {
	store.notifyMutex.Lock()
	defer store.notifyMutex.Unlock()

	store.mutex.Lock()
	if generation != store.generation {
		store.mutex.Unlock()
		return
	}
	store.snapshot = Snapshot{State: StateLoading, Loading: true}
	published, listeners := cloneSnapshot(store.snapshot), store.listenersLocked()
	store.mutex.Unlock()

	for _, listener := range listeners {
		listener(published)
	}
}

func (store *SessionStore) commit(generation uint64, session *Session, premium bool) bool {
	store.notifyMutex.Lock()
	defer store.notifyMutex.Unlock()

	store.mutex.Lock()
	if generation != store.generation {
		store.mutex.Unlock()
		return false
	}
	if session == nil {
		store.snapshot = Snapshot{State: StateAnonymous}
	} else {
		sessionCopy := *session
		identityCopy := session.Identity
		store.snapshot = Snapshot{
			State:    StateAuthenticated,
			Identity: &identityCopy,
			Session:  &sessionCopy,
			Premium:  premium,
		}
	}
	published, listeners := cloneSnapshot(store.snapshot), store.listenersLocked()
	store.mutex.Unlock()

	for _, listener := range listeners {
		listener(published)
	}
	return true
}

func (store *SessionStore) listenersLocked() []SnapshotListener {
	listeners := make([]SnapshotListener, 0, len(store.listeners))
	for listenerID := uint64(1); listenerID <= store.nextID; listenerID++ {
		if listener, ok := store.listeners[listenerID]; ok {
			listeners = append(listeners, listener)
		}
	}
	return listeners
}

func cloneSnapshot(snapshot Snapshot) Snapshot {
	clone := snapshot
	if snapshot.Identity != nil {
		identityCopy := *snapshot.Identity
		clone.Identity = &identityCopy
	}
	if snapshot.Session != nil {
		sessionCopy := *snapshot.Session
		clone.Session = &sessionCopy
	}
	return clone
}
