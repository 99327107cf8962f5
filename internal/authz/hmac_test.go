package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dmchat/internal/domain"
	"dmchat/internal/jwtsigner"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestHMACVerifierAcceptsIssuedToken(t *testing.T) {
	signer, err := jwtsigner.New(testSecret, "dmchat", "dmchat-clients", time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tok, _, err := signer.Sign("alice")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := NewHMACVerifier(testSecret, "dmchat", "dmchat-clients")
	sub, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "alice" {
		t.Fatalf("sub = %q, want alice", sub)
	}
}

func TestHMACVerifierLegacyIDClaim(t *testing.T) {
	tok := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"id":  "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	sub, err := NewHMACVerifier(testSecret, "", "").Verify(context.Background(), tok)
	if err != nil || sub != "bob" {
		t.Fatalf("verify = (%q, %v), want bob", sub, err)
	}
}

func TestHMACVerifierFailures(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"malformed", "not-a-jwt"},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "a", "exp": past})},
		{"no expiry", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "a"})},
		{"wrong key", sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "a", "exp": future})},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "a", "exp": future})},
		{"wrong issuer", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "a", "exp": future, "iss": "evil", "aud": "dmchat-clients"})},
		{"wrong audience", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "a", "exp": future, "iss": "dmchat", "aud": "other"})},
		{"no subject", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"exp": future, "iss": "dmchat", "aud": "dmchat-clients"})},
	}

	v := NewHMACVerifier(testSecret, "dmchat", "dmchat-clients")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			if !errors.Is(err, domain.ErrUnauthenticated) {
				t.Fatalf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	signer, _ := jwtsigner.New(testSecret, "", "", time.Hour)
	tok, _, _ := signer.Sign("carol")

	var got domain.UserID
	h := Middleware(NewHMACVerifier(testSecret, "", ""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SubjectFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got != "carol" {
		t.Fatalf("status = %d, subject = %q", rec.Code, got)
	}
}

func TestHandshakeToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	if got := HandshakeToken(req); got != "abc" {
		t.Fatalf("query token should win, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "bearer header-token")
	if got := HandshakeToken(req); got != "header-token" {
		t.Fatalf("header fallback = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Basic xyz")
	if got := HandshakeToken(req); got != "" {
		t.Fatalf("basic auth must not be accepted, got %q", got)
	}
}
