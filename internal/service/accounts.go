package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"dmchat/internal/domain"
	"dmchat/internal/passwords"
	"dmchat/internal/store"
)

const (
	MinPasswordLength = 8
	MaxSearchResults  = 20
	DefaultUserList   = 100
	MaxUserList       = 500
	maxUsernameLength = 32
)

// TokenIssuer issues access tokens for authenticated users.
type TokenIssuer interface {
	Sign(sub string) (string, time.Time, error)
}

type SignupInput struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile,omitempty"`
	Password string `json:"password"`
}

// ProfilePatch carries the fields to change; empty fields are left as-is.
type ProfilePatch struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type AuthResult struct {
	User      domain.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type Accounts struct {
	store  *store.Store
	hasher *passwords.Hasher
	tokens TokenIssuer
	conns  Connections
	agg    *Aggregator
	log    *slog.Logger
	now    func() time.Time
}

func NewAccounts(st *store.Store, hasher *passwords.Hasher, tokens TokenIssuer, conns Connections, agg *Aggregator, log *slog.Logger) *Accounts {
	if log == nil {
		log = slog.Default()
	}
	return &Accounts{store: st, hasher: hasher, tokens: tokens, conns: conns, agg: agg, log: log, now: time.Now}
}

func (a *Accounts) Signup(ctx context.Context, in SignupInput) (AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	username := normalizeUsername(in.Username)
	email := normalizeEmail(in.Email)
	if name == "" || username == "" || email == "" || in.Password == "" {
		return AuthResult{}, fmt.Errorf("%w: name, username, email and password are required", domain.ErrInvalidRequest)
	}
	if err := validateUsername(username); err != nil {
		return AuthResult{}, err
	}
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if len(in.Password) < MinPasswordLength {
		return AuthResult{}, domain.ErrPasswordLength
	}
	mobile := optional(in.Mobile)

	if err := a.store.Users().CheckAvailable(ctx, "", username, email, mobile); err != nil {
		return AuthResult{}, err
	}

	hashed, err := a.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := a.now().UTC()
	user := domain.User{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  username,
		Email:     email,
		Mobile:    mobile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = a.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Create(ctx, &user); err != nil {
			return err
		}
		return tx.Credentials().UpsertPassword(ctx, &domain.PasswordCredential{
			UserID:      user.ID,
			Algo:        hashed.Algo,
			Hash:        hashed.Hash,
			Salt:        hashed.Salt,
			ParamsJSON:  hashed.ParamsJSON,
			PasswordVer: hashed.Version,
		})
	})
	if err != nil {
		return AuthResult{}, err
	}

	a.log.Info("account created", "user_id", user.ID, "username", user.Username)
	return a.issue(user)
}

// Login accepts an email, username or mobile number as identifier.
func (a *Accounts) Login(ctx context.Context, identifier, password string) (AuthResult, error) {
	if strings.TrimSpace(identifier) == "" || password == "" {
		return AuthResult{}, domain.ErrInvalidCredentials
	}
	user, err := a.store.Users().GetByIdentifier(ctx, identifier)
	if errors.Is(err, domain.ErrNotFound) {
		return AuthResult{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, err
	}

	cred, err := a.store.Credentials().GetPasswordByUserID(ctx, user.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return AuthResult{}, domain.ErrExternalAccount
	}
	if err != nil {
		return AuthResult{}, err
	}

	rehash, ok := a.hasher.Verify(password, cred)
	if !ok {
		a.log.Info("login rejected", "user_id", user.ID)
		return AuthResult{}, domain.ErrInvalidCredentials
	}
	if rehash {
		a.rehash(ctx, user.ID, password)
	}
	return a.issue(*user)
}

func (a *Accounts) rehash(ctx context.Context, userID domain.UserID, password string) {
	hashed, err := a.hasher.Hash(password)
	if err == nil {
		err = a.store.Credentials().UpsertPassword(ctx, &domain.PasswordCredential{
			UserID:      userID,
			Algo:        hashed.Algo,
			Hash:        hashed.Hash,
			Salt:        hashed.Salt,
			ParamsJSON:  hashed.ParamsJSON,
			PasswordVer: hashed.Version,
		})
	}
	if err != nil {
		a.log.Warn("password rehash failed", "user_id", userID, "error", err)
	}
}

// Logout closes every live connection of userID and records last-seen.
func (a *Accounts) Logout(ctx context.Context, userID domain.UserID) error {
	closed := a.conns.DisconnectUser(ctx, userID)
	if closed == 0 {
		if err := a.store.Users().MarkOffline(ctx, userID, a.now().UTC()); err != nil {
			return err
		}
	}
	a.log.Info("logged out", "user_id", userID, "connections_closed", closed)
	return nil
}

func (a *Accounts) Me(ctx context.Context, userID domain.UserID) (*domain.User, error) {
	return a.store.Users().GetActive(ctx, userID)
}

func (a *Accounts) UpdateProfile(ctx context.Context, userID domain.UserID, patch ProfilePatch) (*domain.User, error) {
	user, err := a.store.Users().GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(patch.Name); v != "" {
		user.Name = v
	}
	if v := normalizeUsername(patch.Username); v != "" {
		if err := validateUsername(v); err != nil {
			return nil, err
		}
		user.Username = v
	}
	if v := normalizeEmail(patch.Email); v != "" {
		if err := validateEmail(v); err != nil {
			return nil, err
		}
		user.Email = v
	}
	if m := optional(patch.Mobile); m != nil {
		user.Mobile = m
	}
	if v := strings.TrimSpace(patch.Avatar); v != "" {
		user.Avatar = v
	}

	if err := a.store.Users().CheckAvailable(ctx, userID, user.Username, user.Email, user.Mobile); err != nil {
		return nil, err
	}
	user.UpdatedAt = a.now().UTC()
	if err := a.store.Users().UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteAccount tombstones the user: the row stays so stored messages keep a
// valid sender/receiver, but it is anonymized, loses its password and can no
// longer log in, receive messages or show up in search.
func (a *Accounts) DeleteAccount(ctx context.Context, userID domain.UserID) error {
	err := a.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Credentials().DeleteByUserID(ctx, userID); err != nil {
			return err
		}
		return tx.Users().Tombstone(ctx, userID, a.now().UTC())
	})
	if err != nil {
		return err
	}
	a.conns.DisconnectUser(ctx, userID)
	if a.agg != nil {
		a.agg.Forget(userID)
	}
	a.log.Info("account deleted", "user_id", userID)
	return nil
}

func (a *Accounts) SearchUsers(ctx context.Context, callerID domain.UserID, query string) ([]domain.Public, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []domain.Public{}, nil
	}
	users, err := a.store.Users().Search(ctx, callerID, q, MaxSearchResults)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Public, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out, nil
}

// ListUsers returns the active users other than callerID.
func (a *Accounts) ListUsers(ctx context.Context, callerID domain.UserID, limit int) ([]domain.Public, error) {
	switch {
	case limit <= 0:
		limit = DefaultUserList
	case limit > MaxUserList:
		limit = MaxUserList
	}
	users, err := a.store.Users().ListActive(ctx, callerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Public, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out, nil
}

// Profile returns the public details of id. Tombstones resolve so old
// conversations can still render their peer.
func (a *Accounts) Profile(ctx context.Context, id domain.UserID) (domain.Public, error) {
	user, err := a.store.Users().GetByID(ctx, id)
	if err != nil {
		return domain.Public{}, err
	}
	return user.Public(), nil
}

func (a *Accounts) issue(user domain.User) (AuthResult, error) {
	tok, exp, err := a.tokens.Sign(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthResult{User: user, Token: tok, ExpiresAt: exp}, nil
}

func normalizeUsername(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func validateUsername(u string) error {
	if len(u) > maxUsernameLength {
		return fmt.Errorf("%w: username too long", domain.ErrInvalidRequest)
	}
	if strings.HasPrefix(u, "deleted-") {
		return fmt.Errorf("%w: reserved username", domain.ErrInvalidRequest)
	}
	for _, r := range u {
		if unicode.IsSpace(r) || r == '@' {
			return fmt.Errorf("%w: username may not contain spaces or @", domain.ErrInvalidRequest)
		}
	}
	return nil
}

func validateEmail(e string) error {
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return fmt.Errorf("%w: invalid email", domain.ErrInvalidRequest)
	}
	return nil
}
