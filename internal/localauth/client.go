package localauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/tyemirov/fraudguide/internal/authkit"
	"go.uber.org/zap"
)

// Client is the local provider as seen by one browser context. It implements authkit.IdentityProvider.
type Client struct {
	backend     *Backend
	broadcaster *authkit.Broadcaster

	oauthStates *oauthStates

	mutex   sync.Mutex
	session *authkit.Session
}

var _ authkit.IdentityProvider = (*Client)(nil)

// GetSession returns the current session, refreshing it when the access token has expired.
func (client *Client) GetSession(ctx context.Context) (*authkit.Session, error) {
	client.mutex.Lock()
	current := client.session
	client.mutex.Unlock()
	if current == nil {
		return nil, nil
	}
	if _, verifyErr := client.backend.signer.verify(current.AccessToken); verifyErr == nil {
		sessionCopy := *current
		return &sessionCopy, nil
	}

	refreshed, err := client.backend.refresh(ctx, current.RefreshToken)
	if err != nil {
		client.backend.logger.Info("session refresh failed",
			zap.String("code", "localauth.refresh.failed"),
			zap.Error(err))
		if client.replaceSession(current, nil) {
			client.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventSignedOut})
		}
		return nil, nil
	}
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

// SignInWithPassword verifies the credentials and establishes a session.
func (client *Client) SignInWithPassword(ctx context.Context, email string, password string) (*authkit.Session, error) {
	identity, err := client.backend.authenticatePassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return client.establish(ctx, identity)
}

// SignUp registers an email/password account. No session is established until sign-in.
func (client *Client) SignUp(ctx context.Context, email string, password string, displayName string) error {
	return client.backend.register(ctx, email, password, displayName)
}

// SignInWithOAuth returns the Google authorization URL and remembers the PKCE verifier for the callback.
func (client *Client) SignInWithOAuth(ctx context.Context, oauthProvider string, redirectTo string) (string, error) {
	if oauthProvider != "google" || client.backend.google == nil {
		return "", fmt.Errorf("localauth.oauth.%s: %w", oauthProvider, authkit.ErrUnsupportedOAuthProvider)
	}
	state, verifier := client.oauthStates.begin(redirectTo)
	return client.backend.google.authCodeURL(state, verifier, redirectTo), nil
}

// ExchangeOAuthCode completes the Google flow started by SignInWithOAuth in this context.
func (client *Client) ExchangeOAuthCode(ctx context.Context, code string, state string) (*authkit.Session, error) {
	if client.backend.google == nil {
		return nil, fmt.Errorf("localauth.oauth.exchange: %w", authkit.ErrUnsupportedOAuthProvider)
	}
	pending, ok := client.oauthStates.take(state)
	if !ok {
		return nil, invalidOAuthState()
	}
	verified, err := client.backend.google.exchange(ctx, code, pending.verifier, pending.redirectURL)
	if err != nil {
		return nil, err
	}
	identity, err := client.backend.users.UpsertGoogleUser(ctx, verified.Subject, verified.Email, verified.DisplayName)
	if err != nil {
		return nil, err
	}
	return client.establish(ctx, identity)
}

// SignInWithOTP sends a one-time code to an already-normalized phone number.
func (client *Client) SignInWithOTP(ctx context.Context, phone string) error {
	return client.backend.issueOTP(ctx, phone)
}

// VerifyOTP checks the code and establishes a session for the phone identity.
func (client *Client) VerifyOTP(ctx context.Context, phone string, code string) (*authkit.Session, error) {
	identity, err := client.backend.verifyOTP(ctx, phone, code)
	if err != nil {
		return nil, err
	}
	return client.establish(ctx, identity)
}

// SignOut revokes the refresh token and clears the session. The session is cleared even if revocation fails.
func (client *Client) SignOut(ctx context.Context) error {
	client.mutex.Lock()
	current := client.session
	client.session = nil
	client.mutex.Unlock()

	var revokeErr error
	if current != nil {
		revokeErr = client.backend.revoke(ctx, current.RefreshToken)
	}
	client.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventSignedOut})
	if revokeErr != nil {
		return fmt.Errorf("localauth.sign_out: %w", revokeErr)
	}
	return nil
}

func (client *Client) establish(ctx context.Context, identity authkit.Identity) (*authkit.Session, error) {
	session, err := client.backend.mintSession(ctx, identity, "")
	if err != nil {
		return nil, err
	}
	client.mutex.Lock()
	previous := client.session
	client.session = session
	client.mutex.Unlock()
	if previous != nil {
		if revokeErr := client.backend.revoke(ctx, previous.RefreshToken); revokeErr != nil {
			client.backend.logger.Warn("previous session revoke failed",
				zap.String("code", "localauth.establish.revoke_failed"),
				zap.Error(revokeErr))
		}
	}
	client.broadcaster.Publish(authkit.AuthEvent{Kind: authkit.EventSignedIn, Session: copySession(session)})
	return copySession(session), nil
}

// replaceSession swaps the session only if it is still the one the caller observed.
func (client *Client) replaceSession(expected *authkit.Session, replacement *authkit.Session) bool {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if client.session != expected {
		return false
	}
	client.session = replacement
	return true
}

func copySession(session *authkit.Session) *authkit.Session {
	if session == nil {
		return nil
	}
	sessionCopy := *session
	return &sessionCopy
}

func invalidOAuthState() error {
	return &authkit.ProviderError{
		Kind:       authkit.ErrInvalidOrExpiredCode,
		Code:       "bad_oauth_state",
		Message:    "OAuth state is invalid or has expired",
		StatusCode: 400,
	}
}

