package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"github.com/tyemirov/fraudguide/internal/checklist"
	"github.com/tyemirov/fraudguide/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type fakeProvider struct {
	broadcaster *authkit.Broadcaster

	mutex     sync.Mutex
	session   *authkit.Session
	otpPhones []string
	signOuts  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{broadcaster: authkit.NewBroadcaster()}
}

func (provider *fakeProvider) GetSession(ctx context.Context) (*authkit.Session, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if provider.session == nil {
		return nil, nil
	}
	sessionCopy := *provider.session
	return &sessionCopy, nil
}

func (provider *fakeProvider) OnAuthStateChange(listener authkit.AuthStateListener) func() {
	return provider.broadcaster.Subscribe(listener)
}

func (provider *fakeProvider) SignInWithPassword(ctx context.Context, email string, password string) (*authkit.Session, error) {
	if email != "user@example.com" || password != "secret" {
		return nil, fmt.Errorf("fake.password: %w", authkit.ErrInvalidCredentials)
	}
	return provider.establish(authkit.Identity{ID: "user-1", Email: email}), nil
}

func (provider *fakeProvider) SignUp(ctx context.Context, email string, password string, displayName string) error {
	return nil
}

func (provider *fakeProvider) SignInWithOAuth(ctx context.Context, oauthProvider string, redirectTo string) (string, error) {
	return "https://idp.example.com/authorize?provider=" + oauthProvider, nil
}

func (provider *fakeProvider) ExchangeOAuthCode(ctx context.Context, code string, state string) (*authkit.Session, error) {
	if code != "good-code" {
		return nil, fmt.Errorf("fake.exchange: %w", authkit.ErrInvalidOrExpiredCode)
	}
	return provider.establish(authkit.Identity{ID: "user-oauth", Email: "oauth@example.com"}), nil
}

func (provider *fakeProvider) SignInWithOTP(ctx context.Context, phone string) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.otpPhones = append(provider.otpPhones, phone)
	return nil
}

func (provider *fakeProvider) VerifyOTP(ctx context.Context, phone string, code string) (*authkit.Session, error) {
	if code != "123456" {
		return nil, fmt.Errorf("fake.verify: %w", authkit.ErrInvalidOrExpiredCode)
	}
	return provider.establish(authkit.Identity{ID: "user-phone", Phone: phone}), nil
}

func (provider *fakeProvider) SignOut(ctx context.Context) error {
	provider.mutex.Lock()
	provider.session = nil
	provider.signOuts++
	provider.mutex.Unlock()
	provider.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventSignedOut})
	return nil
}

func (provider *fakeProvider) establish(identity authkit.Identity) *authkit.Session {
	session := &authkit.Session{
		Identity:     identity,
		AccessToken:  "access-" + identity.ID,
		RefreshToken: "refresh-" + identity.ID,
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	provider.mutex.Lock()
	provider.session = session
	provider.mutex.Unlock()
	sessionCopy := *session
	provider.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventSignedIn, Session: &sessionCopy})
	return session
}

type testServer struct {
	router    *gin.Engine
	registry  *ContextRegistry
	metrics   *authkit.CounterMetrics
	profiles  *storage.MemoryProfileStore
	clock     *controllableClock
	providers []*fakeProvider
}

func newTestServer(t *testing.T, configured bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	catalog, err := checklist.LoadCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	server := &testServer{
		metrics:  authkit.NewCounterMetrics(),
		profiles: storage.NewMemoryProfileStore(),
		clock:    &controllableClock{current: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	var providersMutex sync.Mutex
	factory := func() (authkit.IdentityProvider, authkit.ProfileStore) {
		if !configured {
			return nil, nil
		}
		provider := newFakeProvider()
		providersMutex.Lock()
		server.providers = append(server.providers, provider)
		providersMutex.Unlock()
		return provider, server.profiles
	}
	server.registry = NewContextRegistry(factory, catalog, RegistryConfig{
		Gateway:     authkit.GatewayConfig{OAuthRedirectURL: "http://localhost:8080/auth/callback"},
		Entitlement: authkit.EntitlementConfig{MaxAttempts: 1, InitialInterval: time.Millisecond},
		Clock:       server.clock,
		Logger:      zaptest.NewLogger(t),
		Metrics:     server.metrics,
	})
	server.router = gin.New()
	MountRoutes(server.router, server.registry, catalog, CookieConfig{}, RoutesConfig{AllowInsecureHTTP: true}, server.metrics)
	t.Cleanup(server.registry.CloseAll)
	return server
}

func TestConfigureCORS(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	middleware, err := ConfigureCORS(zap.NewNop(), []string{"http://localhost:3000", "http://localhost:3000/"})
	if err != nil {
		t.Fatalf("unexpected error configuring CORS: %v", err)
	}
	router.Use(middleware)
	router.OPTIONS("/api/session", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	request.Header.Set("Origin", "http://localhost:3000")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from preflight, got %d", recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:3000" {
		t.Fatalf("unexpected allowed origin header: %q", origin)
	}
	if credentials := recorder.Header().Get("Access-Control-Allow-Credentials"); credentials != "true" {
		t.Fatalf("expected credentials to be allowed, got %q", credentials)
	}
}

func TestConfigureCORSRejectsInvalidOrigins(t *testing.T) {
	testCases := []struct {
		name    string
		origins []string
	}{
		{name: "nil", origins: nil},
		{name: "blank", origins: []string{"  "}},
		{name: "wildcard", origins: []string{"*"}},
		{name: "path", origins: []string{"https://app.example.com/login"}},
		{name: "scheme", origins: []string{"ftp://app.example.com"}},
		{name: "userinfo", origins: []string{"https://admin@app.example.com"}},
		{name: "query", origins: []string{"https://app.example.com?next=/"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := ConfigureCORS(zap.NewNop(), testCase.origins); err == nil {
				t.Fatalf("expected error for %v", testCase.origins)
			}
		})
	}
}

func TestCanonicalOrigin(t *testing.T) {
	testCases := []struct {
		raw           string
		wantOrigin    string
		wantPlaintext bool
	}{
		{raw: "HTTPS://App.Example.com", wantOrigin: "https://app.example.com"},
		{raw: " https://app.example.com:8443/ ", wantOrigin: "https://app.example.com:8443"},
		{raw: "http://localhost:3000", wantOrigin: "http://localhost:3000"},
		{raw: "http://127.0.0.1:5173", wantOrigin: "http://127.0.0.1:5173"},
		{raw: "http://staging.example.com", wantOrigin: "http://staging.example.com", wantPlaintext: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.raw, func(t *testing.T) {
			origin, plaintext, err := canonicalOrigin(testCase.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if origin != testCase.wantOrigin || plaintext != testCase.wantPlaintext {
				t.Fatalf("expected %q plaintext=%v, got %q plaintext=%v", testCase.wantOrigin, testCase.wantPlaintext, origin, plaintext)
			}
		})
	}
}

func TestContextRegistrySweepClosesIdleContexts(t *testing.T) {
	server := newTestServer(t, true)
	first, created, err := server.registry.Resolve(context.Background(), "")
	if err != nil || !created {
		t.Fatalf("resolve: created=%v err=%v", created, err)
	}
	if again, created, _ := server.registry.Resolve(context.Background(), first.ID); created || again != first {
		t.Fatalf("expected existing context to be reused")
	}
	server.clock.Advance(20 * time.Minute)
	second, _, err := server.registry.Resolve(context.Background(), "unknown-id")
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if second.ID == "unknown-id" {
		t.Fatalf("expected a freshly minted id")
	}
	server.clock.Advance(20 * time.Minute)

	if closed := server.registry.Sweep(30 * time.Minute); closed != 1 {
		t.Fatalf("expected one idle context closed, got %d", closed)
	}
	if server.registry.Len() != 1 {
		t.Fatalf("expected one live context, got %d", server.registry.Len())
	}
	if server.providers[0].broadcaster.Len() != 0 {
		t.Fatalf("expected swept context to release its provider subscription")
	}
	if server.providers[1].broadcaster.Len() != 1 {
		t.Fatalf("expected live context to keep its subscription")
	}

	server.registry.CloseAll()
	if server.registry.Len() != 0 || server.providers[1].broadcaster.Len() != 0 {
		t.Fatalf("expected CloseAll to release every context")
	}
}

func TestIsHTTPS(t *testing.T) {
	testCases := []struct {
		name    string
		host    string
		headers map[string]string
		want    bool
	}{
		{name: "plain", host: "example.com", want: false},
		{name: "forwarded proto", host: "example.com", headers: map[string]string{"X-Forwarded-Proto": "https"}, want: true},
		{name: "forwarded header", host: "example.com", headers: map[string]string{"Forwarded": "for=1.2.3.4;proto=https"}, want: true},
		{name: "localhost", host: "localhost:8080", want: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "http://"+testCase.host+"/", nil)
			request.Host = testCase.host
			for key, value := range testCase.headers {
				request.Header.Set(key, value)
			}
			if got := isHTTPS(request); got != testCase.want {
				t.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}
