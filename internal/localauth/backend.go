package localauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/fraudguide/internal/authkit"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultMinimumPasswordLength = 6
	defaultOAuthStateTTL         = 10 * time.Minute
)

var (
	errMissingSigningKey = errors.New("localauth.missing_signing_key")
	errMissingIssuer     = errors.New("localauth.missing_issuer")
	errInvalidTTL        = errors.New("localauth.invalid_ttl")
	errMissingStore      = errors.New("localauth.missing_store")
)

// Config configures the local identity provider.
type Config struct {
	SigningKey            []byte
	Issuer                string
	SessionTTL            time.Duration
	RefreshTTL            time.Duration
	OTPTTL                time.Duration
	OTPResendInterval     time.Duration
	OAuthStateTTL         time.Duration
	MinimumPasswordLength int
}

// Dependencies are the collaborators of a Backend. Google may be nil when Google sign-in is not configured.
type Dependencies struct {
	Users         UserDirectory
	RefreshTokens RefreshTokenStore
	Sender        CodeSender
	Google        *GoogleOAuth
	Clock         authkit.Clock
	Logger        *zap.Logger
}

// Backend is the shared state of the local identity provider. Each browser context gets its own Client.
type Backend struct {
	configuration Config
	users         UserDirectory
	refreshTokens RefreshTokenStore
	otps          OTPStore
	sender        CodeSender
	google        *GoogleOAuth
	signer        tokenSigner
	clock         authkit.Clock
	logger        *zap.Logger
}

// NewBackend validates the configuration and constructs a Backend.
func NewBackend(configuration Config, dependencies Dependencies) (*Backend, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("localauth.new: %w", errMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("localauth.new: %w", errMissingIssuer)
	}
	if configuration.SessionTTL <= 0 || configuration.RefreshTTL <= 0 || configuration.OTPTTL <= 0 {
		return nil, fmt.Errorf("localauth.new: %w", errInvalidTTL)
	}
	if dependencies.Users == nil || dependencies.RefreshTokens == nil {
		return nil, fmt.Errorf("localauth.new: %w", errMissingStore)
	}
	if configuration.MinimumPasswordLength <= 0 {
		configuration.MinimumPasswordLength = defaultMinimumPasswordLength
	}
	if configuration.OAuthStateTTL <= 0 {
		configuration.OAuthStateTTL = defaultOAuthStateTTL
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = authkit.NewSystemClock()
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sender := dependencies.Sender
	if sender == nil {
		sender = NewLogSender(logger)
	}
	return &Backend{
		configuration: configuration,
		users:         dependencies.Users,
		refreshTokens: dependencies.RefreshTokens,
		otps:          NewMemoryOTPStore(configuration.OTPTTL, configuration.OTPResendInterval),
		sender:        sender,
		google:        dependencies.Google,
		signer: tokenSigner{
			key:    configuration.SigningKey,
			issuer: configuration.Issuer,
			ttl:    configuration.SessionTTL,
			clock:  clock,
		},
		clock:  clock,
		logger: logger,
	}, nil
}

// NewClient returns a provider view bound to one browser context.
func (backend *Backend) NewClient() *Client {
	return &Client{
		backend:     backend,
		broadcaster: authkit.NewBroadcaster(),
		oauthStates: newOAuthStates(backend.configuration.OAuthStateTTL, backend.clock),
	}
}

func (backend *Backend) authenticatePassword(ctx context.Context, email string, password string) (authkit.Identity, error) {
	record, err := backend.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return authkit.Identity{}, invalidCredentials()
		}
		return authkit.Identity{}, err
	}
	if len(record.PasswordHash) == 0 {
		return authkit.Identity{}, invalidCredentials()
	}
	if compareErr := bcrypt.CompareHashAndPassword(record.PasswordHash, []byte(password)); compareErr != nil {
		return authkit.Identity{}, invalidCredentials()
	}
	return record.Identity, nil
}

func (backend *Backend) register(ctx context.Context, email string, password string, displayName string) error {
	if len(password) < backend.configuration.MinimumPasswordLength {
		return &authkit.ProviderError{
			Code:       "weak_password",
			Message:    fmt.Sprintf("Password should be at least %d characters.", backend.configuration.MinimumPasswordLength),
			StatusCode: 422,
		}
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("localauth.register.hash: %w", err)
	}
	if _, createErr := backend.users.CreatePasswordUser(ctx, email, passwordHash, displayName); createErr != nil {
		if errors.Is(createErr, ErrUserExists) {
			backend.logger.Info("sign up for existing account ignored",
				zap.String("code", "localauth.signup.existing_account"))
			return nil
		}
		return createErr
	}
	if sendErr := backend.sender.SendSignUpConfirmation(ctx, normalizeEmail(email), displayName); sendErr != nil {
		backend.logger.Warn("sign up confirmation delivery failed",
			zap.String("code", "localauth.signup.confirmation_failed"),
			zap.Error(sendErr))
	}
	return nil
}

func (backend *Backend) issueOTP(ctx context.Context, phone string) error {
	code, err := backend.otps.Issue(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrOTPResendTooSoon) {
			return &authkit.ProviderError{
				Kind:       authkit.ErrRateLimited,
				Code:       "over_sms_send_rate_limit",
				Message:    "For security purposes, you can only request this after a short wait.",
				StatusCode: 429,
			}
		}
		return err
	}
	if sendErr := backend.sender.SendOTP(ctx, phone, code); sendErr != nil {
		return fmt.Errorf("localauth.otp.send: %w", sendErr)
	}
	return nil
}

func (backend *Backend) verifyOTP(ctx context.Context, phone string, code string) (authkit.Identity, error) {
	if err := backend.otps.Verify(ctx, phone, code); err != nil {
		if errors.Is(err, ErrOTPNotFound) || errors.Is(err, ErrOTPExpired) || errors.Is(err, ErrOTPMismatch) {
			return authkit.Identity{}, &authkit.ProviderError{
				Kind:       authkit.ErrInvalidOrExpiredCode,
				Code:       "otp_expired",
				Message:    "Token has expired or is invalid",
				StatusCode: 403,
			}
		}
		return authkit.Identity{}, err
	}
	return backend.users.UpsertPhoneUser(ctx, phone)
}

func (backend *Backend) mintSession(ctx context.Context, identity authkit.Identity, previousTokenID string) (*authkit.Session, error) {
	accessToken, expiresAt, err := backend.signer.mint(identity)
	if err != nil {
		return nil, err
	}
	issuedAt := backend.clock.Now().UTC()
	_, refreshOpaque, issueErr := backend.refreshTokens.Issue(ctx, identity.ID, issuedAt.Add(backend.configuration.RefreshTTL), previousTokenID)
	if issueErr != nil {
		return nil, issueErr
	}
	return &authkit.Session{
		Identity:     identity,
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		IssuedAt:     issuedAt,
		ExpiresAt:    expiresAt,
	}, nil
}

// refresh rotates the refresh token and mints a new access token.
func (backend *Backend) refresh(ctx context.Context, refreshOpaque string) (*authkit.Session, error) {
	grant, err := backend.refreshTokens.Lookup(ctx, refreshOpaque)
	if err != nil {
		return nil, err
	}
	identity, err := backend.users.GetUser(ctx, grant.IdentityID)
	if err != nil {
		return nil, err
	}
	session, err := backend.mintSession(ctx, identity, grant.TokenID)
	if err != nil {
		return nil, err
	}
	if revokeErr := backend.refreshTokens.Revoke(ctx, grant.TokenID); revokeErr != nil {
		return nil, revokeErr
	}
	return session, nil
}

func (backend *Backend) revoke(ctx context.Context, refreshOpaque string) error {
	if strings.TrimSpace(refreshOpaque) == "" {
		return nil
	}
	grant, err := backend.refreshTokens.Lookup(ctx, refreshOpaque)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenRevoked) || errors.Is(err, ErrRefreshTokenExpired) {
			return nil
		}
		return err
	}
	if revokeErr := backend.refreshTokens.Revoke(ctx, grant.TokenID); revokeErr != nil && !errors.Is(revokeErr, ErrRefreshTokenAlreadyRevoked) {
		return revokeErr
	}
	return nil
}

func invalidCredentials() error {
	return &authkit.ProviderError{
		Kind:       authkit.ErrInvalidCredentials,
		Code:       "invalid_credentials",
		Message:    "Invalid login credentials",
		StatusCode: 400,
	}
}
