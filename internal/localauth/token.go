package localauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/fraudguide/internal/authkit"
)

const accessTokenLeeway = 30 * time.Second

var (
	errEmptySubject        = errors.New("localauth.access_token.empty_subject")
	errAccessTokenMissing  = errors.New("localauth.access_token.missing")
	errAccessTokenExpired  = errors.New("localauth.access_token.expired")
	errAccessTokenRejected = errors.New("localauth.access_token.rejected")
)

// accessClaims is the payload of a local access token. Subject carries the identity id.
type accessClaims struct {
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (claims accessClaims) identity() authkit.Identity {
	return authkit.Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		Phone:       claims.Phone,
		DisplayName: claims.DisplayName,
	}
}

// tokenSigner mints and checks HS256 access tokens against one issuer and clock.
type tokenSigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  authkit.Clock
}

func (signer tokenSigner) mint(identity authkit.Identity) (string, time.Time, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return "", time.Time{}, fmt.Errorf("localauth.access_token.mint: %w", errEmptySubject)
	}
	issuedAt := signer.clock.Now().UTC()
	expiresAt := issuedAt.Add(signer.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email:       identity.Email,
		Phone:       identity.Phone,
		DisplayName: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signer.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-accessTokenLeeway)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signer.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("localauth.access_token.mint: %w", err)
	}
	return signed, expiresAt, nil
}

// verify parses the token with the signer's clock. Expiry is reported separately so callers can refresh.
func (signer tokenSigner) verify(accessToken string) (accessClaims, error) {
	if strings.TrimSpace(accessToken) == "" {
		return accessClaims{}, errAccessTokenMissing
	}
	var claims accessClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (interface{}, error) {
		return signer.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signer.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(signer.clock.Now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return accessClaims{}, fmt.Errorf("localauth.access_token.verify: %w", errAccessTokenExpired)
	case err != nil:
		return accessClaims{}, fmt.Errorf("localauth.access_token.verify: %w: %v", errAccessTokenRejected, err)
	}
	return claims, nil
}
