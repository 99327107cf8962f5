package jwtsigner

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer issues HS256 access tokens accepted by authz.HMACVerifier.
type Signer struct {
	key      []byte
	Issuer   string
	Audience string
	TTL      time.Duration

	now func() time.Time
}

func New(secret, issuer, audience string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("jwtsigner: empty signing key")
	}
	if ttl <= 0 {
		return nil, errors.New("jwtsigner: ttl must be positive")
	}
	return &Signer{key: []byte(secret), Issuer: issuer, Audience: audience, TTL: ttl, now: time.Now}, nil
}

// Sign issues a token for sub. The legacy "id" claim carries the same value
// for clients that predate "sub".
func (s *Signer) Sign(sub string) (string, time.Time, error) {
	if sub == "" {
		return "", time.Time{}, errors.New("jwtsigner: empty subject")
	}
	now := s.now()
	exp := now.Add(s.TTL)
	m := jwt.MapClaims{
		"sub": sub,
		"id":  sub,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	if s.Issuer != "" {
		m["iss"] = s.Issuer
	}
	if s.Audience != "" {
		m["aud"] = s.Audience
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, m)
	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
