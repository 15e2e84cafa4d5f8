package authkit

import "errors"

// Provider implementations wrap these sentinels so the Gateway can classify failures.
var (
	// ErrInvalidCredentials indicates the email/password pair was rejected.
	ErrInvalidCredentials = errors.New("identity.invalid_credentials")
	// ErrInvalidPhoneFormat indicates the phone number could not be normalized or was rejected.
	ErrInvalidPhoneFormat = errors.New("identity.invalid_phone_format")
	// ErrInvalidOrExpiredCode indicates the one-time code was wrong, consumed, or expired.
	ErrInvalidOrExpiredCode = errors.New("identity.invalid_or_expired_code")
	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("identity.rate_limited")
	// ErrProviderUnavailable indicates a transport failure talking to the provider.
	ErrProviderUnavailable = errors.New("identity.provider_unavailable")
	// ErrUnsupportedOAuthProvider indicates the requested OAuth provider is not configured.
	ErrUnsupportedOAuthProvider = errors.New("identity.unsupported_oauth_provider")
	// ErrProfileNotFound indicates no profile record exists for the identity.
	ErrProfileNotFound = errors.New("profile.not_found")
)

// ProviderError carries a provider's native failure. Kind is one of the sentinels above, or nil when unclassified.
type ProviderError struct {
	Kind       error
	Code       string
	Message    string
	StatusCode int
}

func (providerError *ProviderError) Error() string {
	if providerError.Message != "" {
		return providerError.Message
	}
	if providerError.Code != "" {
		return providerError.Code
	}
	if providerError.Kind != nil {
		return providerError.Kind.Error()
	}
	return "provider error"
}

func (providerError *ProviderError) Unwrap() error {
	return providerError.Kind
}
