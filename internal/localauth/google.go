package localauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

var (
	errGoogleConfigIncomplete = errors.New("google_oauth.config_incomplete")
	errGoogleMissingIDToken   = errors.New("google_oauth.missing_id_token")
	errGoogleInvalidIssuer    = errors.New("google_oauth.invalid_issuer")
	errGoogleUnverified       = errors.New("google_oauth.unverified_identity")
)

// GoogleTokenValidator verifies Google ID tokens.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator constructs the production validator backed by Google's public keys.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	return idtoken.NewValidator(ctx)
}

// GoogleOAuthConfig configures the Google authorization-code flow.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
}

// GoogleOAuth runs the Google authorization-code flow with PKCE.
type GoogleOAuth struct {
	oauthConfig *oauth2.Config
	validator   GoogleTokenValidator
}

type googleIdentity struct {
	Subject     string
	Email       string
	DisplayName string
}

// NewGoogleOAuth validates the configuration and builds the flow.
func NewGoogleOAuth(configuration GoogleOAuthConfig, validator GoogleTokenValidator) (*GoogleOAuth, error) {
	if configuration.ClientID == "" || configuration.ClientSecret == "" || configuration.RedirectURL == "" || validator == nil {
		return nil, errGoogleConfigIncomplete
	}
	endpoint := configuration.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	return &GoogleOAuth{
		oauthConfig: &oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			RedirectURL:  configuration.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "profile", "email"},
		},
		validator: validator,
	}, nil
}

func (flow *GoogleOAuth) configFor(redirectURL string) *oauth2.Config {
	if strings.TrimSpace(redirectURL) == "" || redirectURL == flow.oauthConfig.RedirectURL {
		return flow.oauthConfig
	}
	clone := *flow.oauthConfig
	clone.RedirectURL = redirectURL
	return &clone
}

func (flow *GoogleOAuth) authCodeURL(state string, verifier string, redirectURL string) string {
	return flow.configFor(redirectURL).AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
	)
}

func (flow *GoogleOAuth) exchange(ctx context.Context, code string, verifier string, redirectURL string) (googleIdentity, error) {
	oauthConfig := flow.configFor(redirectURL)
	token, err := oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return googleIdentity{}, fmt.Errorf("google.exchange: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return googleIdentity{}, fmt.Errorf("google.exchange: %w", errGoogleMissingIDToken)
	}
	payload, err := flow.validator.Validate(ctx, rawIDToken, oauthConfig.ClientID)
	if err != nil {
		return googleIdentity{}, fmt.Errorf("google.validate: %w", err)
	}
	issuerValue, _ := payload.Claims["iss"].(string)
	if issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com" {
		return googleIdentity{}, fmt.Errorf("google.validate: %w", errGoogleInvalidIssuer)
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	userDisplayName, _ := payload.Claims["name"].(string)
	if googleSub == "" || userEmail == "" || !emailVerified {
		return googleIdentity{}, fmt.Errorf("google.validate: %w", errGoogleUnverified)
	}
	return googleIdentity{Subject: googleSub, Email: userEmail, DisplayName: userDisplayName}, nil
}
