package authz

import (
	"context"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"dmchat/internal/domain"
)

// JWKSVerifier validates tokens issued by an external auth service that
// publishes its keys as a JWKS document.
type JWKSVerifier struct {
	keyfunc  jwt.Keyfunc
	issuer   string
	audience string
	stop     func()
}

func NewJWKSVerifier(jwksURL, issuer, audience string) (*JWKSVerifier, error) {
	options := keyfunc.Options{
		RefreshInterval:   15 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, err
	}
	return &JWKSVerifier{keyfunc: jwks.Keyfunc, issuer: issuer, audience: audience, stop: jwks.EndBackground}, nil
}

// Close stops the background JWKS refresh.
func (j *JWKSVerifier) Close() {
	if j.stop != nil {
		j.stop()
	}
}

func (j *JWKSVerifier) Verify(_ context.Context, raw string) (sub domain.UserID, err error) {
	defer func() { record("jwks", err) }()

	if raw == "" {
		return "", unauthenticated("missing token", nil)
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"}))
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(raw, claims, j.keyfunc)
	if err != nil || !token.Valid {
		return "", unauthenticated("invalid token", err)
	}
	if !claims.VerifyExpiresAt(time.Now().Unix(), true) {
		return "", unauthenticated("missing expiry", nil)
	}
	if j.issuer != "" && !claims.VerifyIssuer(j.issuer, true) {
		return "", unauthenticated("issuer mismatch", nil)
	}
	if j.audience != "" && !claims.VerifyAudience(j.audience, true) {
		return "", unauthenticated("audience mismatch", nil)
	}
	return subjectFromClaims(claims)
}
