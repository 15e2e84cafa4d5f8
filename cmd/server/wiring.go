package main

import (
	"context"
	"fmt"

	"github.com/tyemirov/fraudguide/internal/authkit"
	"github.com/tyemirov/fraudguide/internal/localauth"
	"github.com/tyemirov/fraudguide/internal/storage"
	"github.com/tyemirov/fraudguide/internal/storagepg"
	"github.com/tyemirov/fraudguide/internal/supabase"
	"github.com/tyemirov/fraudguide/internal/web"
	"go.uber.org/zap"
)

// profileBackend is a profile store the server can both read and grant entitlements through.
type profileBackend interface {
	authkit.ProfileStore
	storage.ProfileWriter
}

// openDatabase opens the GORM database when database_url is set. The returned cleanup is always safe to call.
func openDatabase(ctx context.Context, serverConfig ServerConfig) (*storage.Database, func(), error) {
	if serverConfig.DatabaseURL == "" {
		return nil, func() {}, nil
	}
	database, err := storage.Open(ctx, serverConfig.DatabaseURL)
	if err != nil {
		return nil, func() {}, err
	}
	return database, func() { _ = database.Close() }, nil
}

// openProfileBackend selects the profile store: pgx or GORM over database_url, or memory without one.
func openProfileBackend(ctx context.Context, serverConfig ServerConfig, database *storage.Database, logger *zap.Logger) (profileBackend, func(), error) {
	if serverConfig.ProfileStore == profileStorePGX {
		pool, err := storagepg.BuildPool(ctx, serverConfig.DatabaseURL)
		if err != nil {
			return nil, func() {}, err
		}
		if schemaErr := storagepg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, func() {}, schemaErr
		}
		logger.Info("using pgx profile store", zap.String("code", "server.profile_store.pgx"))
		return storagepg.NewPostgresProfileStore(pool), pool.Close, nil
	}
	if database != nil {
		store, err := storage.NewDatabaseProfileStore(ctx, database)
		if err != nil {
			return nil, func() {}, err
		}
		logger.Info("using database profile store",
			zap.String("code", "server.profile_store.gorm"),
			zap.String("driver", database.Driver))
		return store, func() {}, nil
	}
	logger.Info("using in-memory profile store", zap.String("code", "server.profile_store.memory"))
	return storage.NewMemoryProfileStore(), func() {}, nil
}

// buildProviderFactory returns the per-browser-context provider constructor for the configured provider.
func buildProviderFactory(ctx context.Context, serverConfig ServerConfig, database *storage.Database, profiles authkit.ProfileStore, clock authkit.Clock, logger *zap.Logger) (web.ProviderFactory, error) {
	switch serverConfig.Provider {
	case providerSupabase:
		transport, err := supabase.NewTransport(supabase.Config{
			BaseURL: serverConfig.SupabaseURL,
			AnonKey: serverConfig.SupabaseAnonKey,
			Clock:   clock,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return func() (authkit.IdentityProvider, authkit.ProfileStore) {
			client := transport.NewClient()
			return client, client.Profiles()
		}, nil
	case providerLocal:
		backend, err := buildLocalBackend(ctx, serverConfig, database, clock, logger)
		if err != nil {
			return nil, err
		}
		return func() (authkit.IdentityProvider, authkit.ProfileStore) {
			return backend.NewClient(), profiles
		}, nil
	default:
		logger.Warn("authentication disabled",
			zap.String("code", "server.provider_not_configured"),
			zap.String("reason", serverConfig.DisabledReason))
		return func() (authkit.IdentityProvider, authkit.ProfileStore) {
			return nil, nil
		}, nil
	}
}

func buildLocalBackend(ctx context.Context, serverConfig ServerConfig, database *storage.Database, clock authkit.Clock, logger *zap.Logger) (*localauth.Backend, error) {
	var users localauth.UserDirectory
	var refreshTokens localauth.RefreshTokenStore
	if database != nil {
		databaseUsers, err := localauth.NewDatabaseUserDirectory(ctx, database)
		if err != nil {
			return nil, err
		}
		databaseRefreshTokens, err := localauth.NewDatabaseRefreshTokenStore(ctx, database, clock)
		if err != nil {
			return nil, err
		}
		users, refreshTokens = databaseUsers, databaseRefreshTokens
		logger.Info("using persistent local identity stores", zap.String("driver", database.Driver))
	} else {
		users, refreshTokens = localauth.NewMemoryUserDirectory(), localauth.NewMemoryRefreshTokenStore(clock)
		logger.Info("using in-memory local identity stores")
	}

	var googleOAuth *localauth.GoogleOAuth
	if serverConfig.GoogleWebClientID != "" {
		validator, err := buildGoogleTokenValidator(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, err)
		}
		googleOAuth, err = localauth.NewGoogleOAuth(localauth.GoogleOAuthConfig{
			ClientID:     serverConfig.GoogleWebClientID,
			ClientSecret: serverConfig.GoogleClientSecret,
			RedirectURL:  serverConfig.OAuthRedirectURL,
		}, validator)
		if err != nil {
			return nil, err
		}
	}

	return localauth.NewBackend(localauth.Config{
		SigningKey:        serverConfig.JWTSigningKey,
		Issuer:            localTokenIssuer,
		SessionTTL:        serverConfig.SessionTTL,
		RefreshTTL:        serverConfig.RefreshTTL,
		OTPTTL:            serverConfig.OTPTTL,
		OTPResendInterval: serverConfig.OTPResendInterval,
	}, localauth.Dependencies{
		Users:         users,
		RefreshTokens: refreshTokens,
		Sender:        localauth.NewLogSender(logger),
		Google:        googleOAuth,
		Clock:         clock,
		Logger:        logger,
	})
}
