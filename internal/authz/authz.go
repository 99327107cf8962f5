package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"dmchat/internal/domain"
	"dmchat/internal/observability/metrics"
	obsmw "dmchat/internal/observability/middleware"
)

// Verifier turns a bearer credential into a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.UserID, error)
}

type subjectKey struct{}

func WithSubject(ctx context.Context, sub domain.UserID) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

func SubjectFrom(ctx context.Context) (domain.UserID, bool) {
	v, ok := ctx.Value(subjectKey{}).(domain.UserID)
	return v, ok && v != ""
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if len(raw) < len("bearer ") || !strings.EqualFold(raw[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(raw[len("bearer "):])
}

// HandshakeToken extracts the credential of a websocket upgrade request.
// Browsers cannot set headers on the upgrade, so the token query parameter
// is checked first.
func HandshakeToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	return BearerToken(r)
}

// Middleware rejects requests without a valid bearer token and stores the
// subject in the request context. Verifier failures other than
// ErrUnauthenticated answer 503.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub, err := v.Verify(r.Context(), BearerToken(r))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				if !errors.Is(err, domain.ErrUnauthenticated) {
					slog.Error("auth check failed", append(obsmw.LogAttrs(r.Context()), "error", err)...)
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write([]byte(`{"error":"authentication unavailable"}`))
					return
				}
				slog.Warn("auth rejected", append(obsmw.LogAttrs(r.Context()), "error", err)...)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
		})
	}
}

func unauthenticated(detail string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrUnauthenticated, detail, err)
	}
	return fmt.Errorf("%w: %s", domain.ErrUnauthenticated, detail)
}

// subjectFromClaims reads "sub", falling back to the legacy "id" claim.
func subjectFromClaims(claims map[string]any) (domain.UserID, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		sub, _ = claims["id"].(string)
	}
	if sub == "" {
		return "", unauthenticated("no subject", nil)
	}
	return sub, nil
}

func record(method string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
		if !errors.Is(err, domain.ErrUnauthenticated) {
			result = "error"
		}
	}
	metrics.AuthenticationAttemptsTotal.WithLabelValues(method, result).Inc()
}
