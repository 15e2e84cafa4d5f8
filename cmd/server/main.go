package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"github.com/tyemirov/fraudguide/internal/checklist"
	"github.com/tyemirov/fraudguide/internal/localauth"
	"github.com/tyemirov/fraudguide/internal/web"
	"go.uber.org/zap"
)

const contextSweepInterval = time.Minute

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (localauth.GoogleTokenValidator, error) {
	return localauth.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "fraudguide",
		Short:   "Fraud remediation checklists with phone, password and OAuth sign-in and premium templates",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().String("database_url", "", "Database URL (postgres:// or sqlite://); empty keeps local state in memory")
	rootCmd.PersistentFlags().String("profile_store", profileStoreGORM, "Profile store implementation: gorm or pgx")

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("provider", "", "Identity provider: local, supabase, or empty to disable authentication")
	rootCmd.Flags().String("supabase_url", "", "Hosted identity project URL")
	rootCmd.Flags().String("supabase_anon_key", "", "Hosted identity project public API key")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for local access tokens")
	rootCmd.Flags().Duration("session_ttl", 15*time.Minute, "Local access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 60*24*time.Hour, "Local refresh token TTL")
	rootCmd.Flags().Duration("otp_ttl", 5*time.Minute, "Local one-time code lifetime")
	rootCmd.Flags().Duration("otp_resend_interval", 30*time.Second, "Minimum wait before a new code is sent to the same phone")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth client ID for the local provider")
	rootCmd.Flags().String("google_client_secret", "", "Google Web OAuth client secret for the local provider")
	rootCmd.Flags().String("oauth_redirect_url", "", "Absolute URL of the OAuth callback route")
	rootCmd.Flags().String("post_auth_redirect", "/", "Where the browser lands after a successful OAuth callback")
	rootCmd.Flags().String("login_path", "/login", "Where the browser lands after a failed OAuth callback")
	rootCmd.Flags().Uint("entitlement_max_attempts", 3, "Profile lookup attempts before entitlement resolves to false")
	rootCmd.Flags().Duration("context_idle_ttl", 24*time.Hour, "Idle time after which a browser context is discarded")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")

	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database_url"))
	_ = viper.BindPFlag("profile_store", rootCmd.PersistentFlags().Lookup("profile_store"))
	for _, flagName := range []string{
		"listen_addr", "provider", "supabase_url", "supabase_anon_key", "jwt_signing_key",
		"session_ttl", "refresh_ttl", "otp_ttl", "otp_resend_interval",
		"google_web_client_id", "google_client_secret", "oauth_redirect_url", "post_auth_redirect", "login_path",
		"entitlement_max_attempts", "context_idle_ttl", "cookie_domain", "enable_cors", "cors_allowed_origins",
		"dev_insecure_http",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newGrantPremiumCommand())
	return rootCmd
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	catalog, catalogErr := checklist.LoadCatalog()
	if catalogErr != nil {
		return catalogErr
	}

	database, closeDatabase, databaseErr := openDatabase(commandContext, serverConfig)
	if databaseErr != nil {
		return databaseErr
	}
	defer closeDatabase()

	profiles, closeProfiles, profilesErr := openProfileBackend(commandContext, serverConfig, database, logger)
	if profilesErr != nil {
		return profilesErr
	}
	defer closeProfiles()

	clock := authkit.NewSystemClock()
	factory, factoryErr := buildProviderFactory(commandContext, serverConfig, database, profiles, clock, logger)
	if factoryErr != nil {
		return factoryErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger(logger))

	sameSite := http.SameSiteLaxMode
	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
		sameSite = http.SameSiteNoneMode
	}

	metricsRecorder := authkit.NewCounterMetrics()
	registry := web.NewContextRegistry(factory, catalog, web.RegistryConfig{
		Gateway:     authkit.GatewayConfig{OAuthRedirectURL: serverConfig.OAuthRedirectURL},
		Entitlement: authkit.EntitlementConfig{MaxAttempts: serverConfig.EntitlementMaxAttempts},
		Clock:       clock,
		Logger:      logger,
		Metrics:     metricsRecorder,
	})
	defer registry.CloseAll()

	web.MountRoutes(router, registry, catalog, web.CookieConfig{
		Name:     web.DefaultContextCookieName,
		Domain:   serverConfig.CookieDomain,
		Secure:   !serverConfig.DevInsecureHTTP,
		SameSite: sameSite,
		MaxAge:   serverConfig.ContextIdleTTL,
	}, web.RoutesConfig{
		PostAuthRedirect:  serverConfig.PostAuthRedirect,
		LoginPath:         serverConfig.LoginPath,
		AllowInsecureHTTP: serverConfig.DevInsecureHTTP,
	}, metricsRecorder)

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go registry.RunSweeper(shutdownCtx, contextSweepInterval, serverConfig.ContextIdleTTL)

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", serverConfig.ListenAddr),
		zap.Bool("auth_configured", serverConfig.Provider != ""),
		zap.String("provider", serverConfig.Provider))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
