package authz

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtv4 "github.com/golang-jwt/jwt/v4"

	"dmchat/internal/domain"
)

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwtv4.MapClaims) string {
	t.Helper()
	tok := jwtv4.NewWithClaims(jwtv4.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	srv := jwksServer(t, "k1", &key.PublicKey)

	v, err := NewJWKSVerifier(srv.URL, "https://auth.example", "dmchat-clients")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	t.Cleanup(v.Close)

	exp := time.Now().Add(time.Hour).Unix()
	good := signRS256(t, key, "k1", jwtv4.MapClaims{
		"sub": "dave", "exp": exp, "iss": "https://auth.example", "aud": "dmchat-clients",
	})
	sub, err := v.Verify(context.Background(), good)
	if err != nil || sub != "dave" {
		t.Fatalf("verify = (%q, %v), want dave", sub, err)
	}

	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	bad := []string{
		"",
		signRS256(t, other, "k1", jwtv4.MapClaims{"sub": "x", "exp": exp, "iss": "https://auth.example", "aud": "dmchat-clients"}),
		signRS256(t, key, "k1", jwtv4.MapClaims{"sub": "x", "exp": exp, "iss": "https://evil.example", "aud": "dmchat-clients"}),
		signRS256(t, key, "k1", jwtv4.MapClaims{"sub": "x", "iss": "https://auth.example", "aud": "dmchat-clients"}),
		signRS256(t, key, "k1", jwtv4.MapClaims{"exp": exp, "iss": "https://auth.example", "aud": "dmchat-clients"}),
	}
	for i, tok := range bad {
		if _, err := v.Verify(context.Background(), tok); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("case %d: err = %v, want ErrUnauthenticated", i, err)
		}
	}
}
