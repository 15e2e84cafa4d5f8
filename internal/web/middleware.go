package web

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultContextCookieName identifies the browser context.
const DefaultContextCookieName = "fg_context"

const browserContextKey = "browser_context"

// CookieConfig controls the browser context cookie.
type CookieConfig struct {
	Name     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// AttachBrowserContext resolves the caller's browser context and stores it on the gin context.
// A returning context has its session refreshed before the handler runs.
func AttachBrowserContext(registry *ContextRegistry, configuration CookieConfig, logger *zap.Logger) gin.HandlerFunc {
	if configuration.Name == "" {
		configuration.Name = DefaultContextCookieName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		contextID := ""
		if contextCookie, cookieErr := contextGin.Request.Cookie(configuration.Name); cookieErr == nil && contextCookie != nil {
			contextID = strings.TrimSpace(contextCookie.Value)
		}
		browserContext, created, resolveErr := registry.Resolve(contextGin.Request.Context(), contextID)
		if resolveErr != nil {
			logger.Error("browser context unavailable",
				zap.String("code", "web.context.resolve_failed"),
				zap.Error(resolveErr))
			contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "context_unavailable"})
			return
		}
		if !created {
			if refreshErr := browserContext.Sessions.Refresh(contextGin.Request.Context()); refreshErr != nil {
				logger.Warn("session refresh failed",
					zap.String("code", "web.context.refresh_failed"),
					zap.Error(refreshErr))
			}
		}
		if created {
			http.SetCookie(contextGin.Writer, &http.Cookie{
				Name:     configuration.Name,
				Value:    browserContext.ID,
				Path:     "/",
				Domain:   configuration.Domain,
				MaxAge:   int(configuration.MaxAge.Seconds()),
				Secure:   configuration.Secure,
				HttpOnly: true,
				SameSite: configuration.SameSite,
			})
		}
		contextGin.Set(browserContextKey, browserContext)
		contextGin.Next()
	}
}

// RequireHTTPS rejects plaintext requests unless allowInsecure is set.
func RequireHTTPS(allowInsecure bool) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if !allowInsecure && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
			return
		}
		contextGin.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}

func currentBrowserContext(contextGin *gin.Context) (*BrowserContext, bool) {
	value, ok := contextGin.Get(browserContextKey)
	if !ok {
		return nil, false
	}
	browserContext, ok := value.(*BrowserContext)
	return browserContext, ok && browserContext != nil
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	if strings.EqualFold(request.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}
