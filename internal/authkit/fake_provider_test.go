package authkit

import (
	"context"
	"sync"
	"time"
)

type fixedClock struct {
	now time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.now
}

type scriptedProvider struct {
	broadcaster *Broadcaster

	mutex      sync.Mutex
	session    *Session
	getErr     error
	signInErr  error
	signOutErr error
	otpErr     error
	otpPhones  []string
	verified   []string
	oauthCalls []string
	calls      int
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{broadcaster: NewBroadcaster()}
}

func (provider *scriptedProvider) callCount() int {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return provider.calls
}

func (provider *scriptedProvider) GetSession(ctx context.Context) (*Session, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.calls++
	if provider.getErr != nil {
		return nil, provider.getErr
	}
	if provider.session == nil {
		return nil, nil
	}
	sessionCopy := *provider.session
	return &sessionCopy, nil
}

func (provider *scriptedProvider) OnAuthStateChange(listener AuthStateListener) func() {
	return provider.broadcaster.Subscribe(listener)
}

func (provider *scriptedProvider) SignInWithPassword(ctx context.Context, email string, password string) (*Session, error) {
	provider.mutex.Lock()
	provider.calls++
	signInErr := provider.signInErr
	provider.mutex.Unlock()
	if signInErr != nil {
		return nil, signInErr
	}
	return provider.signIn(Identity{ID: "id-" + email, Email: email}), nil
}

func (provider *scriptedProvider) SignUp(ctx context.Context, email string, password string, displayName string) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.calls++
	return provider.signInErr
}

func (provider *scriptedProvider) SignInWithOAuth(ctx context.Context, oauthProvider string, redirectTo string) (string, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.calls++
	provider.oauthCalls = append(provider.oauthCalls, oauthProvider+" "+redirectTo)
	return "https://idp.example.com/authorize?provider=" + oauthProvider, nil
}

func (provider *scriptedProvider) ExchangeOAuthCode(ctx context.Context, code string, state string) (*Session, error) {
	provider.mutex.Lock()
	provider.calls++
	provider.mutex.Unlock()
	return provider.signIn(Identity{ID: "oauth-user"}), nil
}

func (provider *scriptedProvider) SignInWithOTP(ctx context.Context, phone string) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.calls++
	provider.otpPhones = append(provider.otpPhones, phone)
	return provider.otpErr
}

func (provider *scriptedProvider) VerifyOTP(ctx context.Context, phone string, code string) (*Session, error) {
	provider.mutex.Lock()
	provider.calls++
	provider.verified = append(provider.verified, phone)
	provider.mutex.Unlock()
	return provider.signIn(Identity{ID: "phone-user", Phone: phone}), nil
}

func (provider *scriptedProvider) SignOut(ctx context.Context) error {
	provider.mutex.Lock()
	provider.calls++
	signOutErr := provider.signOutErr
	if signOutErr == nil {
		provider.session = nil
	}
	provider.mutex.Unlock()
	if signOutErr != nil {
		return signOutErr
	}
	provider.broadcaster.Publish(AuthEvent{Kind: EventSignedOut})
	return nil
}

func (provider *scriptedProvider) signIn(identity Identity) *Session {
	session := &Session{Identity: identity, AccessToken: "access-" + identity.ID, ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	provider.mutex.Lock()
	provider.session = session
	provider.mutex.Unlock()
	sessionCopy := *session
	provider.broadcaster.Publish(AuthEvent{Kind: EventSignedIn, Session: &sessionCopy})
	return session
}

type mapProfiles struct {
	mutex    sync.Mutex
	profiles map[string]Profile
	gate     map[string]chan struct{}
	entered  chan string
	failures map[string]error
	calls    int
}

func newMapProfiles() *mapProfiles {
	return &mapProfiles{
		profiles: make(map[string]Profile),
		gate:     make(map[string]chan struct{}),
		failures: make(map[string]error),
	}
}

func (store *mapProfiles) GetProfile(ctx context.Context, identityID string) (Profile, error) {
	store.mutex.Lock()
	store.calls++
	gate := store.gate[identityID]
	entered := store.entered
	failure := store.failures[identityID]
	profile, ok := store.profiles[identityID]
	store.mutex.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- identityID
		}
		<-gate
	}
	if failure != nil {
		return Profile{}, failure
	}
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

func (store *mapProfiles) callCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.calls
}
