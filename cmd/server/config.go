package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	providerLocal    = "local"
	providerSupabase = "supabase"

	profileStoreGORM = "gorm"
	profileStorePGX  = "pgx"

	localTokenIssuer = "fraudguide"

	configCodeUnsupportedProvider     = "config.unsupported_provider"
	configCodeUnsupportedProfileStore = "config.unsupported_profile_store"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeInvalidOTPTTL           = "config.invalid_otp_ttl"
	configCodeInvalidContextIdleTTL   = "config.invalid_context_idle_ttl"
	configCodeMissingGoogleSecret     = "config.missing_google_client_secret"
	configCodeMissingOAuthRedirectURL = "config.missing_oauth_redirect_url"
	configCodeInvalidOAuthRedirectURL = "config.invalid_oauth_redirect_url"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
)

// ServerConfig is the validated runtime configuration of the server.
type ServerConfig struct {
	ListenAddr string
	// Provider is empty when authentication runs in disabled mode.
	Provider        string
	DisabledReason  string
	SupabaseURL     string
	SupabaseAnonKey string

	DatabaseURL  string
	ProfileStore string

	JWTSigningKey     []byte
	SessionTTL        time.Duration
	RefreshTTL        time.Duration
	OTPTTL            time.Duration
	OTPResendInterval time.Duration

	GoogleWebClientID  string
	GoogleClientSecret string
	OAuthRedirectURL   string
	PostAuthRedirect   string
	LoginPath          string

	EntitlementMaxAttempts uint
	ContextIdleTTL         time.Duration

	CookieDomain       string
	EnableCORS         bool
	CORSAllowedOrigins []string
	DevInsecureHTTP    bool
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates the viper configuration.
func LoadServerConfig() (ServerConfig, error) {
	profileStore, err := loadProfileStoreSelection()
	if err != nil {
		return ServerConfig{}, err
	}
	serverConfig := ServerConfig{
		ListenAddr:             viper.GetString("listen_addr"),
		Provider:               strings.ToLower(strings.TrimSpace(viper.GetString("provider"))),
		SupabaseURL:            strings.TrimSpace(viper.GetString("supabase_url")),
		SupabaseAnonKey:        strings.TrimSpace(viper.GetString("supabase_anon_key")),
		DatabaseURL:            strings.TrimSpace(viper.GetString("database_url")),
		ProfileStore:           profileStore,
		JWTSigningKey:          []byte(viper.GetString("jwt_signing_key")),
		SessionTTL:             viper.GetDuration("session_ttl"),
		RefreshTTL:             viper.GetDuration("refresh_ttl"),
		OTPTTL:                 viper.GetDuration("otp_ttl"),
		OTPResendInterval:      viper.GetDuration("otp_resend_interval"),
		GoogleWebClientID:      strings.TrimSpace(viper.GetString("google_web_client_id")),
		GoogleClientSecret:     viper.GetString("google_client_secret"),
		OAuthRedirectURL:       strings.TrimSpace(viper.GetString("oauth_redirect_url")),
		PostAuthRedirect:       viper.GetString("post_auth_redirect"),
		LoginPath:              viper.GetString("login_path"),
		EntitlementMaxAttempts: viper.GetUint("entitlement_max_attempts"),
		ContextIdleTTL:         viper.GetDuration("context_idle_ttl"),
		CookieDomain:           viper.GetString("cookie_domain"),
		EnableCORS:             viper.GetBool("enable_cors"),
		CORSAllowedOrigins:     viper.GetStringSlice("cors_allowed_origins"),
		DevInsecureHTTP:        viper.GetBool("dev_insecure_http"),
	}
	if serverConfig.ListenAddr == "" {
		serverConfig.ListenAddr = ":8080"
	}
	if serverConfig.ContextIdleTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidContextIdleTTL, "context_idle_ttl must be greater than zero")
	}
	if serverConfig.OAuthRedirectURL != "" {
		parsed, parseErr := url.Parse(serverConfig.OAuthRedirectURL)
		if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
			return ServerConfig{}, configError(configCodeInvalidOAuthRedirectURL, "oauth_redirect_url must be an absolute URL")
		}
	}

	switch serverConfig.Provider {
	case "":
		serverConfig.DisabledReason = "provider not set"
	case providerSupabase:
		if serverConfig.SupabaseURL == "" || serverConfig.SupabaseAnonKey == "" {
			serverConfig.Provider = ""
			serverConfig.DisabledReason = "supabase_url and supabase_anon_key are required for the supabase provider"
		}
	case providerLocal:
		if len(serverConfig.JWTSigningKey) == 0 {
			serverConfig.Provider = ""
			serverConfig.DisabledReason = "jwt_signing_key is required for the local provider"
			break
		}
		if localErr := validateLocalProvider(serverConfig); localErr != nil {
			return ServerConfig{}, localErr
		}
	default:
		return ServerConfig{}, configError(configCodeUnsupportedProvider, fmt.Sprintf("provider %q is not one of local, supabase", serverConfig.Provider))
	}
	return serverConfig, nil
}

func loadProfileStoreSelection() (string, error) {
	profileStore := strings.ToLower(strings.TrimSpace(viper.GetString("profile_store")))
	if profileStore == "" {
		profileStore = profileStoreGORM
	}
	if profileStore != profileStoreGORM && profileStore != profileStorePGX {
		return "", configError(configCodeUnsupportedProfileStore, fmt.Sprintf("profile_store %q is not one of gorm, pgx", profileStore))
	}
	if profileStore == profileStorePGX && strings.TrimSpace(viper.GetString("database_url")) == "" {
		return "", configError(configCodeMissingDatabaseURL, "database_url must be provided when profile_store is pgx")
	}
	return profileStore, nil
}

func validateLocalProvider(serverConfig ServerConfig) error {
	if serverConfig.SessionTTL <= 0 {
		return configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}
	if serverConfig.RefreshTTL <= 0 {
		return configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}
	if serverConfig.OTPTTL <= 0 {
		return configError(configCodeInvalidOTPTTL, "otp_ttl must be greater than zero")
	}
	if serverConfig.GoogleWebClientID != "" {
		if serverConfig.GoogleClientSecret == "" {
			return configError(configCodeMissingGoogleSecret, "google_client_secret must be provided with google_web_client_id")
		}
		if serverConfig.OAuthRedirectURL == "" {
			return configError(configCodeMissingOAuthRedirectURL, "oauth_redirect_url must be provided with google_web_client_id")
		}
	}
	return nil
}
