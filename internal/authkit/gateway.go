package authkit

import (
	"context"
	"errors"
	"net"
	"strings"

	"go.uber.org/zap"
)

// DefaultOAuthProvider is used when SignInWithOAuth receives an empty provider name.
const DefaultOAuthProvider = "google"

const (
	operationSignInPassword = "sign_in_password"
	operationSignUp         = "sign_up"
	operationSignInOAuth    = "sign_in_oauth"
	operationCompleteOAuth  = "complete_oauth"
	operationRequestOTP     = "request_otp"
	operationVerifyOTP      = "verify_otp"
	operationSignOut        = "sign_out"
)

var defaultFailureMessages = map[FailureReason]string{
	ReasonProviderNotConfigured: "authentication is not configured",
	ReasonProviderUnavailable:   "authentication provider is unreachable",
	ReasonInvalidCredentials:    "invalid login credentials",
	ReasonInvalidPhoneFormat:    "invalid phone number",
	ReasonInvalidOrExpiredCode:  "code is invalid or has expired",
	ReasonRateLimited:           "too many requests; try again later",
	ReasonUnknownProviderError:  "authentication failed",
}

// GatewayConfig configures the Gateway.
type GatewayConfig struct {
	OAuthRedirectURL string
}

// Gateway exposes the authentication operations for one browser context.
// Every operation returns a Result; provider failures never cross this boundary as errors.
type Gateway struct {
	provider      IdentityProvider
	sessions      *SessionStore
	configuration GatewayConfig
	logger        *zap.Logger
	metrics       MetricsRecorder
}

// NewGateway constructs a Gateway. A nil provider yields disabled mode.
func NewGateway(provider IdentityProvider, sessions *SessionStore, configuration GatewayConfig, logger *zap.Logger, metrics MetricsRecorder) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Gateway{
		provider:      provider,
		sessions:      sessions,
		configuration: configuration,
		logger:        logger,
		metrics:       metrics,
	}
}

// Configured reports whether a provider is attached.
func (gateway *Gateway) Configured() bool {
	return gateway.provider != nil
}

// Snapshot returns the current session snapshot.
func (gateway *Gateway) Snapshot() Snapshot {
	if gateway.sessions == nil {
		return Snapshot{State: StateAnonymous}
	}
	return gateway.sessions.Snapshot()
}

// SignInWithPassword signs in with email and password.
func (gateway *Gateway) SignInWithPassword(ctx context.Context, email string, password string) Result {
	if !gateway.Configured() {
		return gateway.record(operationSignInPassword, notConfigured())
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return gateway.record(operationSignInPassword, failure(ReasonInvalidCredentials, ""))
	}
	_, err := gateway.provider.SignInWithPassword(ctx, email, password)
	return gateway.record(operationSignInPassword, gateway.normalize(operationSignInPassword, err))
}

// SignUp registers an account. Confirmation delivery happens out-of-band.
func (gateway *Gateway) SignUp(ctx context.Context, email string, password string, displayName string) Result {
	if !gateway.Configured() {
		return gateway.record(operationSignUp, notConfigured())
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return gateway.record(operationSignUp, failure(ReasonInvalidCredentials, ""))
	}
	err := gateway.provider.SignUp(ctx, email, password, strings.TrimSpace(displayName))
	return gateway.record(operationSignUp, gateway.normalize(operationSignUp, err))
}

// SignInWithOAuth starts a redirect-based flow and returns the URL the browser must visit.
func (gateway *Gateway) SignInWithOAuth(ctx context.Context, oauthProvider string) (string, Result) {
	if !gateway.Configured() {
		return "", gateway.record(operationSignInOAuth, notConfigured())
	}
	if strings.TrimSpace(oauthProvider) == "" {
		oauthProvider = DefaultOAuthProvider
	}
	authorizeURL, err := gateway.provider.SignInWithOAuth(ctx, oauthProvider, gateway.configuration.OAuthRedirectURL)
	result := gateway.normalize(operationSignInOAuth, err)
	if result.OK() && authorizeURL == "" {
		result = failure(ReasonUnknownProviderError, "provider returned no authorization url")
	}
	if !result.OK() {
		authorizeURL = ""
	}
	return authorizeURL, gateway.record(operationSignInOAuth, result)
}

// CompleteOAuth exchanges the callback code for a session.
func (gateway *Gateway) CompleteOAuth(ctx context.Context, code string, state string) Result {
	if !gateway.Configured() {
		return gateway.record(operationCompleteOAuth, notConfigured())
	}
	if strings.TrimSpace(code) == "" {
		return gateway.record(operationCompleteOAuth, failure(ReasonInvalidOrExpiredCode, ""))
	}
	_, err := gateway.provider.ExchangeOAuthCode(ctx, code, state)
	return gateway.record(operationCompleteOAuth, gateway.normalize(operationCompleteOAuth, err))
}

// RequestOTP normalizes the phone number and asks the provider to send a one-time code.
func (gateway *Gateway) RequestOTP(ctx context.Context, phone string) Result {
	if !gateway.Configured() {
		return gateway.record(operationRequestOTP, notConfigured())
	}
	normalizedPhone, normalizeErr := NormalizePhone(phone)
	if normalizeErr != nil {
		return gateway.record(operationRequestOTP, failure(ReasonInvalidPhoneFormat, ""))
	}
	err := gateway.provider.SignInWithOTP(ctx, normalizedPhone)
	return gateway.record(operationRequestOTP, gateway.normalize(operationRequestOTP, err))
}

// VerifyOTP verifies a one-time code for the phone number.
func (gateway *Gateway) VerifyOTP(ctx context.Context, phone string, code string) Result {
	if !gateway.Configured() {
		return gateway.record(operationVerifyOTP, notConfigured())
	}
	normalizedPhone, normalizeErr := NormalizePhone(phone)
	if normalizeErr != nil {
		return gateway.record(operationVerifyOTP, failure(ReasonInvalidPhoneFormat, ""))
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return gateway.record(operationVerifyOTP, failure(ReasonInvalidOrExpiredCode, ""))
	}
	_, err := gateway.provider.VerifyOTP(ctx, normalizedPhone, code)
	return gateway.record(operationVerifyOTP, gateway.normalize(operationVerifyOTP, err))
}

// SignOut ends the session. Local state is cleared even when the remote call fails.
func (gateway *Gateway) SignOut(ctx context.Context) {
	if gateway.Configured() {
		if err := gateway.provider.SignOut(ctx); err != nil {
			gateway.logger.Warn("remote sign out failed",
				zap.String("code", "gateway.sign_out.remote_failed"),
				zap.Error(err))
		}
	}
	if gateway.sessions != nil {
		gateway.sessions.clear()
	}
	gateway.metrics.Increment(outcomeEvent(operationSignOut, Succeeded()))
}

func (gateway *Gateway) record(operation string, result Result) Result {
	gateway.metrics.Increment(outcomeEvent(operation, result))
	return result
}

func (gateway *Gateway) normalize(operation string, err error) Result {
	if err == nil {
		return Succeeded()
	}
	result := classifyProviderError(err)
	if result.Reason == ReasonUnknownProviderError || result.Reason == ReasonProviderUnavailable {
		gateway.logger.Warn("provider operation failed",
			zap.String("code", "gateway."+operation+".failed"),
			zap.String("reason", string(result.Reason)),
			zap.Error(err))
	}
	return result
}

func classifyProviderError(err error) Result {
	nativeMessage, providerStatus := "", 0
	var providerError *ProviderError
	if errors.As(err, &providerError) {
		nativeMessage, providerStatus = providerError.Message, providerError.StatusCode
	}

	var netError net.Error
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return failure(ReasonInvalidCredentials, nativeMessage)
	case errors.Is(err, ErrInvalidPhoneFormat):
		return failure(ReasonInvalidPhoneFormat, nativeMessage)
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return failure(ReasonInvalidOrExpiredCode, nativeMessage)
	case errors.Is(err, ErrRateLimited):
		return failure(ReasonRateLimited, nativeMessage)
	case errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netError):
		return failure(ReasonProviderUnavailable, nativeMessage)
	}
	if nativeMessage == "" {
		nativeMessage = err.Error()
	}
	result := failure(ReasonUnknownProviderError, nativeMessage)
	result.ProviderStatus = providerStatus
	return result
}

func notConfigured() Result {
	return failure(ReasonProviderNotConfigured, "")
}

func failure(reason FailureReason, message string) Result {
	if strings.TrimSpace(message) == "" {
		message = defaultFailureMessages[reason]
	}
	return Failed(reason, message)
}
