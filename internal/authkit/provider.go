package authkit

import (
	"context"
	"sort"
	"sync"
)

// AuthEventKind names the change carried by an AuthEvent.
type AuthEventKind string

const (
	EventInitialSession AuthEventKind = "INITIAL_SESSION"
	EventSignedIn       AuthEventKind = "SIGNED_IN"
	EventSignedOut      AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthEvent is a change notification emitted by an IdentityProvider. Session is nil when signed out.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// AuthStateListener receives change notifications in delivery order.
type AuthStateListener func(event AuthEvent)

// IdentityProvider is the boundary to the external authentication backend for one browser context.
type IdentityProvider interface {
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(listener AuthStateListener) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email string, password string) (*Session, error)
	SignUp(ctx context.Context, email string, password string, displayName string) error
	SignInWithOAuth(ctx context.Context, oauthProvider string, redirectTo string) (authorizeURL string, err error)
	ExchangeOAuthCode(ctx context.Context, code string, state string) (*Session, error)
	SignInWithOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone string, code string) (*Session, error)
	SignOut(ctx context.Context) error
}

// ProfileStore reads entitlement profiles keyed by identity id.
type ProfileStore interface {
	GetProfile(ctx context.Context, identityID string) (Profile, error)
}

// Broadcaster fans out AuthEvents to subscribers. Providers embed it to implement OnAuthStateChange.
type Broadcaster struct {
	mutex        sync.Mutex
	deliverMutex sync.Mutex
	listeners    map[uint64]AuthStateListener
	nextID       uint64
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[uint64]AuthStateListener)}
}

// Subscribe registers a listener and returns an idempotent unsubscribe function.
func (broadcaster *Broadcaster) Subscribe(listener AuthStateListener) func() {
	broadcaster.mutex.Lock()
	broadcaster.nextID++
	listenerID := broadcaster.nextID
	broadcaster.listeners[listenerID] = listener
	broadcaster.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			broadcaster.mutex.Lock()
			delete(broadcaster.listeners, listenerID)
			broadcaster.mutex.Unlock()
		})
	}
}

// Publish delivers the event to every current listener in subscription order.
// Concurrent publishes are serialized so listeners observe one event at a time.
func (broadcaster *Broadcaster) Publish(event AuthEvent) {
	broadcaster.deliverMutex.Lock()
	defer broadcaster.deliverMutex.Unlock()

	broadcaster.mutex.Lock()
	listenerIDs := make([]uint64, 0, len(broadcaster.listeners))
	for listenerID := range broadcaster.listeners {
		listenerIDs = append(listenerIDs, listenerID)
	}
	sort.Slice(listenerIDs, func(left, right int) bool { return listenerIDs[left] < listenerIDs[right] })
	listeners := make([]AuthStateListener, 0, len(listenerIDs))
	for _, listenerID := range listenerIDs {
		listeners = append(listeners, broadcaster.listeners[listenerID])
	}
	broadcaster.mutex.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// Len returns the number of registered listeners.
func (broadcaster *Broadcaster) Len() int {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	return len(broadcaster.listeners)
}
