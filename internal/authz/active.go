package authz

import (
	"context"
	"errors"
	"fmt"

	"dmchat/internal/domain"
)

// AccountLookup resolves accounts that may still act, tombstones excluded.
type AccountLookup interface {
	GetActive(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// ActiveVerifier rejects otherwise valid tokens whose subject was deleted.
// Tokens are stateless, so a deleted account keeps a signed token until it
// expires.
type ActiveVerifier struct {
	next     Verifier
	accounts AccountLookup
}

func RequireActive(next Verifier, accounts AccountLookup) *ActiveVerifier {
	return &ActiveVerifier{next: next, accounts: accounts}
}

func (a *ActiveVerifier) Verify(ctx context.Context, raw string) (sub domain.UserID, err error) {
	sub, err = a.next.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			record("account", err)
		}
	}()

	if _, err := a.accounts.GetActive(ctx, sub); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", unauthenticated("account deleted or unknown", nil)
		}
		return "", fmt.Errorf("authz: account lookup: %w", err)
	}
	return sub, nil
}
