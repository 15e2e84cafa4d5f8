package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const refreshMargin = 10 * time.Second

// Client is the hosted provider as seen by one browser context. It implements authkit.IdentityProvider.
type Client struct {
	transport   *Transport
	broadcaster *authkit.Broadcaster

	mutex           sync.Mutex
	session         *authkit.Session
	pendingVerifier string
}

var _ authkit.IdentityProvider = (*Client)(nil)

// pkceGrant is the body GoTrue reads for grant_type=pkce. types.TokenRequest names the code field "code", which GoTrue ignores.
type pkceGrant struct {
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

// smsVerification is posted to /verify. The library's VerifyForUser requires a redirect and a 303, which SMS verification never answers with.
type smsVerification struct {
	Type  types.VerificationType `json:"type"`
	Phone string                 `json:"phone"`
	Token string                 `json:"token"`
}

// GetSession returns the current session, refreshing it shortly before the access token expires.
func (client *Client) GetSession(ctx context.Context) (*authkit.Session, error) {
	client.mutex.Lock()
	current := client.session
	client.mutex.Unlock()
	if current == nil {
		return nil, nil
	}
	if !current.Expired(client.transport.clock.Now().Add(refreshMargin)) {
		sessionCopy := *current
		return &sessionCopy, nil
	}

	var response *types.TokenResponse
	err := client.transport.exchange(ctx, "refresh", func(scope *requestScope) error {
		var callErr error
		response, callErr = client.transport.auth(scope, "").RefreshToken(current.RefreshToken)
		return callErr
	})
	if err != nil {
		if errors.Is(err, authkit.ErrProviderUnavailable) {
			return nil, err
		}
		client.transport.logger.Info("session refresh rejected",
			zap.String("code", "supabase.refresh.rejected"),
			zap.Error(err))
		if client.replaceSession(current, nil) {
			client.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventSignedOut})
		}
		return nil, nil
	}
	refreshed := client.toSession(response.Session)
	if !client.replaceSession(current, refreshed) {
		return client.GetSession(ctx)
	}
	client.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventTokenRefreshed, Session: copySession(refreshed)})
	return copySession(refreshed), nil
}

// OnAuthStateChange registers a listener for session changes in this context.
func (client *Client) OnAuthStateChange(listener authkit.AuthStateListener) func() {
	return client.broadcaster.Subscribe(listener)
}

// SignInWithPassword exchanges email and password for a session.
func (client *Client) SignInWithPassword(ctx context.Context, email string, password string) (*authkit.Session, error) {
	var response *types.TokenResponse
	err := client.transport.exchange(ctx, "sign_in.password", func(scope *requestScope) error {
		var callErr error
		response, callErr = client.transport.auth(scope, "").SignInWithEmailPassword(email, password)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return client.establish(response.Session), nil
}

// SignUp registers an account; the provider e-mails a confirmation link.
func (client *Client) SignUp(ctx context.Context, email string, password string, displayName string) error {
	request := types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"full_name": displayName},
	}
	var response *types.SignupResponse
	err := client.transport.exchange(ctx, "sign_up", func(scope *requestScope) error {
		var callErr error
		response, callErr = client.transport.auth(scope, "").Signup(request)
		return callErr
	})
	if err != nil {
		return err
	}
	if response.Session.AccessToken != "" {
		client.establish(response.Session)
	}
	return nil
}

// SignInWithOAuth builds the hosted authorize URL with a PKCE challenge.
// The URL is built locally: the library's Authorize cannot carry redirect_to.
func (client *Client) SignInWithOAuth(ctx context.Context, oauthProvider string, redirectTo string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	oauthConfig := oauth2.Config{
		Endpoint: oauth2.Endpoint{AuthURL: client.transport.authURL + "/authorize"},
	}
	options := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("provider", oauthProvider),
		oauth2.S256ChallengeOption(verifier),
	}
	if strings.TrimSpace(redirectTo) != "" {
		options = append(options, oauth2.SetAuthURLParam("redirect_to", redirectTo))
	}
	client.mutex.Lock()
	client.pendingVerifier = verifier
	client.mutex.Unlock()
	return oauthConfig.AuthCodeURL("", options...), nil
}

// ExchangeOAuthCode trades the callback code and the stored verifier for a session.
func (client *Client) ExchangeOAuthCode(ctx context.Context, code string, state string) (*authkit.Session, error) {
	client.mutex.Lock()
	verifier := client.pendingVerifier
	client.pendingVerifier = ""
	client.mutex.Unlock()
	if verifier == "" {
		return nil, &authkit.ProviderError{
			Kind:    authkit.ErrInvalidOrExpiredCode,
			Code:    "flow_state_not_found",
			Message: "no OAuth flow is pending for this browser",
		}
	}
	var response types.Session
	err := client.transport.exchange(ctx, "exchange_code", func(scope *requestScope) error {
		return client.transport.postAuth(scope, "/token", url.Values{"grant_type": {"pkce"}},
			pkceGrant{AuthCode: code, CodeVerifier: verifier}, &response)
	})
	if err != nil {
		return nil, err
	}
	return client.establish(response), nil
}

// SignInWithOTP asks the provider to text a one-time code.
func (client *Client) SignInWithOTP(ctx context.Context, phone string) error {
	return client.transport.exchange(ctx, "otp", func(scope *requestScope) error {
		return client.transport.auth(scope, "").OTP(types.OTPRequest{Phone: phone, CreateUser: true})
	})
}

// VerifyOTP verifies the SMS code and establishes a session.
func (client *Client) VerifyOTP(ctx context.Context, phone string, code string) (*authkit.Session, error) {
	var response types.Session
	err := client.transport.exchange(ctx, "verify", func(scope *requestScope) error {
		return client.transport.postAuth(scope, "/verify", nil,
			smsVerification{Type: types.VerificationTypeSMS, Phone: phone, Token: code}, &response)
	})
	if err != nil {
		return nil, err
	}
	return client.establish(response), nil
}

// SignOut revokes the session remotely. The local session is cleared regardless of the remote outcome.
func (client *Client) SignOut(ctx context.Context) error {
	client.mutex.Lock()
	current := client.session
	client.session = nil
	client.mutex.Unlock()

	var remoteErr error
	if current != nil {
		remoteErr = client.transport.exchange(ctx, "logout", func(scope *requestScope) error {
			return client.transport.auth(scope, current.AccessToken).Logout()
		})
	}
	client.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventSignedOut})
	if remoteErr != nil {
		return fmt.Errorf("supabase.sign_out: %w", remoteErr)
	}
	return nil
}

// Profiles returns a profile reader authorized as this context's user.
func (client *Client) Profiles() *ProfileReader {
	return &ProfileReader{transport: client.transport, accessToken: client.accessToken}
}

func (client *Client) accessToken() string {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if client.session == nil {
		return ""
	}
	return client.session.AccessToken
}

func (client *Client) establish(response types.Session) *authkit.Session {
	session := client.toSession(response)
	client.mutex.Lock()
	client.session = session
	client.mutex.Unlock()
	client.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventSignedIn, Session: copySession(session)})
	return copySession(session)
}

func (client *Client) replaceSession(expected *authkit.Session, replacement *authkit.Session) bool {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if client.session != expected {
		return false
	}
	client.session = replacement
	return true
}

func (client *Client) toSession(response types.Session) *authkit.Session {
	now := client.transport.clock.Now().UTC()
	displayName := ""
	if fullName, ok := response.User.UserMetadata["full_name"].(string); ok {
		displayName = fullName
	} else if name, ok := response.User.UserMetadata["name"].(string); ok {
		displayName = name
	}
	phone := response.User.Phone
	if phone != "" && !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return &authkit.Session{
		Identity: authkit.Identity{
			ID:          response.User.ID.String(),
			Email:       response.User.Email,
			Phone:       phone,
			DisplayName: displayName,
		},
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    sessionExpiry(response, now),
	}
}

func sessionExpiry(response types.Session, now time.Time) time.Time {
	if response.ExpiresAt > 0 {
		return time.Unix(response.ExpiresAt, 0).UTC()
	}
	if response.ExpiresIn > 0 {
		return now.Add(time.Duration(response.ExpiresIn) * time.Second)
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(response.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time.UTC()
	}
	return time.Time{}
}

func copySession(session *authkit.Session) *authkit.Session {
	if session == nil {
		return nil
	}
	sessionCopy := *session
	return &sessionCopy
}
