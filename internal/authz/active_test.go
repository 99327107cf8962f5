package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dmchat/internal/domain"
	"dmchat/internal/jwtsigner"
)

type accountsStub struct {
	active map[domain.UserID]bool
	err    error
}

func (s accountsStub) GetActive(_ context.Context, id domain.UserID) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.active[id] {
		return nil, domain.ErrNotFound
	}
	return &domain.User{ID: id}, nil
}

func TestRequireActive(t *testing.T) {
	signer, _ := jwtsigner.New(testSecret, "", "", time.Hour)
	alive, _, _ := signer.Sign("alice")
	gone, _, _ := signer.Sign("bob")

	v := RequireActive(NewHMACVerifier(testSecret, "", ""), accountsStub{active: map[domain.UserID]bool{"alice": true}})
	ctx := context.Background()

	if sub, err := v.Verify(ctx, alive); err != nil || sub != "alice" {
		t.Fatalf("active account: sub=%q err=%v", sub, err)
	}
	if _, err := v.Verify(ctx, gone); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("deleted account should be unauthenticated, got %v", err)
	}
	if _, err := v.Verify(ctx, "garbage"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("bad token should still be unauthenticated, got %v", err)
	}
}

func TestMiddlewareLookupFailureIsUnavailable(t *testing.T) {
	signer, _ := jwtsigner.New(testSecret, "", "", time.Hour)
	tok, _, _ := signer.Sign("alice")

	v := RequireActive(NewHMACVerifier(testSecret, "", ""), accountsStub{err: errors.New("db down")})
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
