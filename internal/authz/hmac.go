package authz

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"dmchat/internal/domain"
)

// HMACVerifier accepts HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACVerifier checks issuer and audience only when they are non-empty.
func NewHMACVerifier(secret, issuer, audience string) *HMACVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &HMACVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

func (h *HMACVerifier) Verify(_ context.Context, raw string) (sub domain.UserID, err error) {
	defer func() { record("hmac", err) }()

	if raw == "" {
		return "", unauthenticated("missing token", nil)
	}
	claims := jwt.MapClaims{}
	token, err := h.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return h.secret, nil
	})
	if err != nil || !token.Valid {
		return "", unauthenticated("invalid token", err)
	}
	return subjectFromClaims(claims)
}
