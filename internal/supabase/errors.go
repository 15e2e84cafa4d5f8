package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/supabase-community/gotrue-go/types"
	"github.com/tyemirov/fraudguide/internal/authkit"
)

// restErrorPattern matches the "(code) message" text PostgREST rejections surface as.
var restErrorPattern = regexp.MustCompile(`(?s)^\(([^)]*)\) (.*)$`)

type errorBody struct {
	ErrorCode        string `json:"error_code"`
	Message          string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	AltMessage       string `json:"message"`
}

// translateFailure maps a failed library call to the provider error taxonomy.
// statusCode is the last HTTP status observed for the call, or zero when no response arrived.
func translateFailure(statusCode int, callErr error) error {
	if errors.Is(callErr, types.ErrInvalidTokenRequest) {
		return &authkit.ProviderError{Code: "validation_failed", Message: callErr.Error()}
	}
	if statusCode == 0 {
		return fmt.Errorf("%w: %v", authkit.ErrProviderUnavailable, callErr)
	}
	if statusCode >= 200 && statusCode < 300 {
		return callErr
	}
	text := callErr.Error()
	var rejection *authkit.ProviderError
	if body, ok := strings.CutPrefix(text, fmt.Sprintf("response status code %d: ", statusCode)); ok {
		rejection = decodeProviderError(statusCode, []byte(body))
	} else {
		code, message := "", text
		if matches := restErrorPattern.FindStringSubmatch(text); matches != nil {
			code, message = matches[1], matches[2]
		}
		rejection = &authkit.ProviderError{
			Kind:       classify(statusCode, code, message),
			Code:       code,
			Message:    firstNonEmpty(message, http.StatusText(statusCode)),
			StatusCode: statusCode,
		}
	}
	if statusCode >= http.StatusInternalServerError {
		rejection.Kind = authkit.ErrProviderUnavailable
		rejection.Code = "server_error"
	}
	return rejection
}

func decodeProviderError(statusCode int, body []byte) *authkit.ProviderError {
	var decoded errorBody
	_ = json.Unmarshal(body, &decoded)

	code := decoded.ErrorCode
	if code == "" {
		code = decoded.Error
	}
	message := firstNonEmpty(decoded.Message, decoded.ErrorDescription, decoded.AltMessage, decoded.Error, http.StatusText(statusCode))
	return &authkit.ProviderError{
		Kind:       classify(statusCode, code, message),
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func classify(statusCode int, code string, message string) error {
	lowerMessage := strings.ToLower(message)
	switch {
	case statusCode == http.StatusTooManyRequests, strings.HasPrefix(code, "over_") && strings.HasSuffix(code, "rate_limit"):
		return authkit.ErrRateLimited
	case code == "invalid_credentials", code == "invalid_grant" && strings.Contains(lowerMessage, "invalid login credentials"):
		return authkit.ErrInvalidCredentials
	case code == "otp_expired", code == "bad_code_verifier", code == "flow_state_expired", code == "flow_state_not_found":
		return authkit.ErrInvalidOrExpiredCode
	case code == "invalid_grant" && strings.Contains(lowerMessage, "token has expired or is invalid"):
		return authkit.ErrInvalidOrExpiredCode
	case strings.Contains(lowerMessage, "phone") && (code == "validation_failed" || strings.Contains(lowerMessage, "invalid")):
		return authkit.ErrInvalidPhoneFormat
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
