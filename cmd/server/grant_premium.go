package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"go.uber.org/zap"
)

const (
	configCodeMissingIdentityID = "config.missing_identity_id"
	configCodeInvalidExpiresAt  = "config.invalid_expires_at"
)

func newGrantPremiumCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "grant-premium",
		Short: "Write a premium entitlement for an identity into the profile store",
		Args:  cobra.NoArgs,
		RunE:  runGrantPremium,
	}
	command.Flags().String("identity_id", "", "Identity to update")
	command.Flags().String("expires_at", "", "RFC3339 expiry; empty grants premium without expiry")
	command.Flags().Bool("revoke", false, "Remove premium instead of granting it")
	return command
}

func runGrantPremium(command *cobra.Command, arguments []string) error {
	identityID, _ := command.Flags().GetString("identity_id")
	expiresAtRaw, _ := command.Flags().GetString("expires_at")
	revoke, _ := command.Flags().GetBool("revoke")

	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return configError(configCodeMissingIdentityID, "identity_id must be provided")
	}
	profile := authkit.Profile{IdentityID: identityID, IsPremium: !revoke}
	if !revoke && strings.TrimSpace(expiresAtRaw) != "" {
		expiresAt, parseErr := time.Parse(time.RFC3339, strings.TrimSpace(expiresAtRaw))
		if parseErr != nil {
			return configError(configCodeInvalidExpiresAt, fmt.Sprintf("expires_at %q is not RFC3339", expiresAtRaw))
		}
		expiresAt = expiresAt.UTC()
		profile.PremiumExpiresAt = &expiresAt
	}

	profileStore, err := loadProfileStoreSelection()
	if err != nil {
		return err
	}
	serverConfig := ServerConfig{
		DatabaseURL:  strings.TrimSpace(viper.GetString("database_url")),
		ProfileStore: profileStore,
	}
	if serverConfig.DatabaseURL == "" {
		return configError(configCodeMissingDatabaseURL, "database_url must be provided")
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	database, closeDatabase, err := openDatabase(ctx, serverConfig)
	if err != nil {
		return err
	}
	defer closeDatabase()
	profiles, closeProfiles, err := openProfileBackend(ctx, serverConfig, database, logger)
	if err != nil {
		return err
	}
	defer closeProfiles()

	if err := profiles.UpsertProfile(ctx, profile); err != nil {
		return err
	}
	logger.Info("entitlement written",
		zap.String("code", "grant_premium.written"),
		zap.String("identity_id", identityID),
		zap.Bool("is_premium", profile.IsPremium),
		zap.Timep("premium_expires_at", profile.PremiumExpiresAt))
	return nil
}
