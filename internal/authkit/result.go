package authkit

// FailureReason classifies a failed Gateway operation.
type FailureReason string

const (
	ReasonNone                  FailureReason = ""
	ReasonProviderNotConfigured FailureReason = "auth.provider_not_configured"
	ReasonProviderUnavailable   FailureReason = "auth.provider_unavailable"
	ReasonInvalidCredentials    FailureReason = "auth.invalid_credentials"
	ReasonInvalidPhoneFormat    FailureReason = "auth.invalid_phone_format"
	ReasonInvalidOrExpiredCode  FailureReason = "auth.invalid_or_expired_code"
	ReasonRateLimited           FailureReason = "auth.rate_limited"
	ReasonUnknownProviderError  FailureReason = "auth.unknown_provider_error"
)

// Result is returned by every Gateway operation: success, or failure with a reason.
type Result struct {
	Reason  FailureReason
	Message string
	// ProviderStatus is the provider's HTTP status for an unclassified rejection, or zero.
	ProviderStatus int
}

// Succeeded returns a successful Result.
func Succeeded() Result {
	return Result{}
}

// Failed returns a failed Result with the given reason and message.
func Failed(reason FailureReason, message string) Result {
	return Result{Reason: reason, Message: message}
}

// OK reports whether the operation succeeded.
func (result Result) OK() bool {
	return result.Reason == ReasonNone
}
