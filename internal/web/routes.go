package web

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"github.com/tyemirov/fraudguide/internal/checklist"
)

// RoutesConfig configures the JSON routes.
type RoutesConfig struct {
	// PostAuthRedirect is where the OAuth callback sends the browser after success.
	PostAuthRedirect string
	// LoginPath receives the browser, with an error query parameter, after a failed callback.
	LoginPath         string
	AllowInsecureHTTP bool
}

type passwordRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

type otpRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type otpVerifyRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type identityResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type sessionResponse struct {
	State            authkit.SessionState `json:"state"`
	Loading          bool                 `json:"loading"`
	Premium          bool                 `json:"premium"`
	Configured       bool                 `json:"configured"`
	Identity         *identityResponse    `json:"identity"`
	SessionExpiresAt *time.Time           `json:"session_expires_at"`
}

// MountRoutes registers the session, authentication and checklist routes.
// Every route except the metrics endpoint runs inside a browser context.
func MountRoutes(router gin.IRouter, registry *ContextRegistry, catalog *checklist.Catalog, cookies CookieConfig, configuration RoutesConfig, metrics *authkit.CounterMetrics) {
	if configuration.PostAuthRedirect == "" {
		configuration.PostAuthRedirect = "/"
	}
	if configuration.LoginPath == "" {
		configuration.LoginPath = "/login"
	}

	if metrics != nil {
		router.GET("/internal/metrics", func(contextGin *gin.Context) {
			contextGin.JSON(http.StatusOK, gin.H{
				"counters":         metrics.Snapshot(),
				"browser_contexts": registry.Len(),
			})
		})
	}

	scoped := router.Group("")
	scoped.Use(AttachBrowserContext(registry, cookies, registry.configuration.Logger))

	scoped.GET("/api/session", func(contextGin *gin.Context) {
		browserContext, ok := currentBrowserContext(contextGin)
		if !ok {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, renderSession(browserContext))
	})

	auth := scoped.Group("/api/auth")
	auth.Use(RequireHTTPS(configuration.AllowInsecureHTTP))

	auth.POST("/password", func(contextGin *gin.Context) {
		var inbound passwordRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		browserContext, _ := currentBrowserContext(contextGin)
		result := browserContext.Gateway.SignInWithPassword(contextGin.Request.Context(), inbound.Email, inbound.Password)
		if !result.OK() {
			writeFailure(contextGin, result)
			return
		}
		contextGin.JSON(http.StatusOK, renderSession(browserContext))
	})

	auth.POST("/signup", func(contextGin *gin.Context) {
		var inbound signUpRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		browserContext, _ := currentBrowserContext(contextGin)
		result := browserContext.Gateway.SignUp(contextGin.Request.Context(), inbound.Email, inbound.Password, strings.TrimSpace(inbound.FullName))
		if !result.OK() {
			writeFailure(contextGin, result)
			return
		}
		contextGin.JSON(http.StatusAccepted, gin.H{"status": "confirmation_sent"})
	})

	auth.POST("/otp", func(contextGin *gin.Context) {
		var inbound otpRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		browserContext, _ := currentBrowserContext(contextGin)
		result := browserContext.Gateway.RequestOTP(contextGin.Request.Context(), inbound.Phone)
		if !result.OK() {
			writeFailure(contextGin, result)
			return
		}
		contextGin.JSON(http.StatusAccepted, gin.H{"status": "code_sent"})
	})

	auth.POST("/otp/verify", func(contextGin *gin.Context) {
		var inbound otpVerifyRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		browserContext, _ := currentBrowserContext(contextGin)
		result := browserContext.Gateway.VerifyOTP(contextGin.Request.Context(), inbound.Phone, inbound.Code)
		if !result.OK() {
			writeFailure(contextGin, result)
			return
		}
		contextGin.JSON(http.StatusOK, renderSession(browserContext))
	})

	auth.GET("/oauth/:provider", func(contextGin *gin.Context) {
		browserContext, _ := currentBrowserContext(contextGin)
		authorizeURL, result := browserContext.Gateway.SignInWithOAuth(contextGin.Request.Context(), contextGin.Param("provider"))
		if !result.OK() {
			writeFailure(contextGin, result)
			return
		}
		contextGin.Redirect(http.StatusFound, authorizeURL)
	})

	auth.POST("/logout", func(contextGin *gin.Context) {
		browserContext, _ := currentBrowserContext(contextGin)
		browserContext.Gateway.SignOut(contextGin.Request.Context())
		contextGin.Status(http.StatusNoContent)
	})

	scoped.GET("/auth/callback", func(contextGin *gin.Context) {
		if providerError := contextGin.Query("error"); providerError != "" {
			contextGin.Redirect(http.StatusFound, loginRedirect(configuration.LoginPath, string(authkit.ReasonInvalidOrExpiredCode)))
			return
		}
		browserContext, _ := currentBrowserContext(contextGin)
		result := browserContext.Gateway.CompleteOAuth(contextGin.Request.Context(), contextGin.Query("code"), contextGin.Query("state"))
		if !result.OK() {
			contextGin.Redirect(http.StatusFound, loginRedirect(configuration.LoginPath, string(result.Reason)))
			return
		}
		contextGin.Redirect(http.StatusFound, configuration.PostAuthRedirect)
	})

	scoped.GET("/api/checklists", func(contextGin *gin.Context) {
		browserContext, _ := currentBrowserContext(contextGin)
		contextGin.JSON(http.StatusOK, gin.H{
			"categories": checklist.Summaries(catalog, browserContext.Progress),
			"premium":    browserContext.Sessions.Snapshot().Premium,
		})
	})

	scoped.GET("/api/checklists/:category", func(contextGin *gin.Context) {
		browserContext, _ := currentBrowserContext(contextGin)
		writeCategory(contextGin, catalog, browserContext, contextGin.Param("category"))
	})

	toggleStep := func(complete bool) gin.HandlerFunc {
		return func(contextGin *gin.Context) {
			browserContext, _ := currentBrowserContext(contextGin)
			categoryID := contextGin.Param("category")
			stepNumber, parseErr := strconv.Atoi(contextGin.Param("step"))
			if parseErr != nil {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_step"})
				return
			}
			var toggleErr error
			if complete {
				toggleErr = browserContext.Progress.Complete(categoryID, stepNumber)
			} else {
				toggleErr = browserContext.Progress.Reopen(categoryID, stepNumber)
			}
			if toggleErr != nil {
				writeChecklistError(contextGin, toggleErr)
				return
			}
			writeCategory(contextGin, catalog, browserContext, categoryID)
		}
	}
	scoped.PUT("/api/checklists/:category/steps/:step", toggleStep(true))
	scoped.DELETE("/api/checklists/:category/steps/:step", toggleStep(false))
}

func writeCategory(contextGin *gin.Context, catalog *checklist.Catalog, browserContext *BrowserContext, categoryID string) {
	view, renderErr := checklist.Render(catalog, browserContext.Progress, categoryID, browserContext.Sessions.Snapshot().Premium)
	if renderErr != nil {
		writeChecklistError(contextGin, renderErr)
		return
	}
	contextGin.JSON(http.StatusOK, view)
}

func writeChecklistError(contextGin *gin.Context, err error) {
	switch {
	case errors.Is(err, checklist.ErrCategoryNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "category_not_found"})
	case errors.Is(err, checklist.ErrStepNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "step_not_found"})
	default:
		contextGin.AbortWithStatus(http.StatusInternalServerError)
	}
}

func writeFailure(contextGin *gin.Context, result authkit.Result) {
	contextGin.AbortWithStatusJSON(statusForResult(result), gin.H{
		"error":   string(result.Reason),
		"message": result.Message,
	})
}

// statusForResult passes through a provider's 4xx for rejections the taxonomy does not name, such as a weak password.
func statusForResult(result authkit.Result) int {
	if result.Reason == authkit.ReasonUnknownProviderError && result.ProviderStatus >= 400 && result.ProviderStatus < 500 {
		return result.ProviderStatus
	}
	return statusForReason(result.Reason)
}

func statusForReason(reason authkit.FailureReason) int {
	switch reason {
	case authkit.ReasonInvalidCredentials, authkit.ReasonInvalidOrExpiredCode:
		return http.StatusUnauthorized
	case authkit.ReasonInvalidPhoneFormat:
		return http.StatusBadRequest
	case authkit.ReasonRateLimited:
		return http.StatusTooManyRequests
	case authkit.ReasonProviderNotConfigured, authkit.ReasonProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func renderSession(browserContext *BrowserContext) sessionResponse {
	snapshot := browserContext.Sessions.Snapshot()
	response := sessionResponse{
		State:      snapshot.State,
		Loading:    snapshot.Loading,
		Premium:    snapshot.Premium,
		Configured: browserContext.Gateway.Configured(),
	}
	if snapshot.Identity != nil {
		response.Identity = &identityResponse{
			ID:          snapshot.Identity.ID,
			Email:       snapshot.Identity.Email,
			Phone:       snapshot.Identity.Phone,
			DisplayName: snapshot.Identity.DisplayName,
		}
	}
	if snapshot.Session != nil && !snapshot.Session.ExpiresAt.IsZero() {
		expiresAt := snapshot.Session.ExpiresAt
		response.SessionExpiresAt = &expiresAt
	}
	return response
}

func loginRedirect(loginPath string, reason string) string {
	return loginPath + "?" + url.Values{"error": {reason}}.Encode()
}
