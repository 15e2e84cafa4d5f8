package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errNoOrigins     = errors.New("web.cors.no_origins")
	errOriginInvalid = errors.New("web.cors.invalid_origin")
)

const corsPreflightCache = 12 * time.Hour

// ConfigureCORS lets a browser app on another origin call the API with the context cookie attached.
// Credentialed requests cannot use a wildcard, so every origin must be listed as scheme://host[:port].
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make([]string, 0, len(allowedOrigins))
	listed := make(map[string]bool, len(allowedOrigins))
	for _, raw := range allowedOrigins {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		origin, plaintext, err := canonicalOrigin(raw)
		if err != nil {
			return nil, err
		}
		if listed[origin] {
			continue
		}
		if plaintext {
			logger.Warn("cors origin allows plaintext http",
				zap.String("code", "web.cors.plaintext_origin"),
				zap.String("origin", origin))
		}
		listed[origin] = true
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		return nil, errNoOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           corsPreflightCache,
	}), nil
}

// canonicalOrigin lowercases the scheme and host. plaintext is set for http origins other than loopback.
func canonicalOrigin(raw string) (string, bool, error) {
	parsed, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(raw), "/"))
	if err != nil {
		return "", false, fmt.Errorf("%w: %q", errOriginInvalid, raw)
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch {
	case scheme != "http" && scheme != "https":
		return "", false, fmt.Errorf("%w: %q needs an http or https scheme", errOriginInvalid, raw)
	case parsed.Host == "" || parsed.User != nil:
		return "", false, fmt.Errorf("%w: %q needs a bare host", errOriginInvalid, raw)
	case parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "":
		return "", false, fmt.Errorf("%w: %q must be scheme and host only", errOriginInvalid, raw)
	}
	hostname := strings.ToLower(parsed.Hostname())
	loopback := hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
	return scheme + "://" + strings.ToLower(parsed.Host), scheme == "http" && !loopback, nil
}
