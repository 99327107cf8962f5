package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dmchat/internal/domain"
)

type UserStore struct {
	db   *gorm.DB
	read *gorm.DB
}

func (s *Store) Users() *UserStore { return &UserStore{db: s.DB, read: s.read} }

func (u *UserStore) Create(ctx context.Context, usr *domain.User) error {
	if usr.ID == "" {
		usr.ID = uuid.NewString()
	}
	if err := u.db.WithContext(ctx).Create(usr).Error; err != nil {
		return userWriteError(err)
	}
	return nil
}

func (u *UserStore) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return u.first(ctx, u.db, "id = ?", id)
}

// GetActive returns a non-tombstoned user from the read side.
func (u *UserStore) GetActive(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return u.first(ctx, u.read, "id = ? AND deleted = ?", id, false)
}

// GetByIDs loads the users in ids from the read side, tombstones included.
// Unknown ids are absent from the result.
func (u *UserStore) GetByIDs(ctx context.Context, ids []domain.UserID) (map[domain.UserID]domain.User, error) {
	out := make(map[domain.UserID]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []domain.User
	if err := u.read.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, usr := range users {
		out[usr.ID] = usr
	}
	return out, nil
}

// ListActive returns active users other than caller, ordered by username.
func (u *UserStore) ListActive(ctx context.Context, caller domain.UserID, limit int) ([]domain.User, error) {
	var users []domain.User
	err := u.read.WithContext(ctx).
		Where("deleted = ? AND id <> ?", false, caller).
		Order("username asc").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// GetByIdentifier resolves a login identifier against email, username and
// mobile, in that order of precedence.
func (u *UserStore) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	ident := strings.TrimSpace(identifier)
	if ident == "" {
		return nil, domain.ErrNotFound
	}
	lower := strings.ToLower(ident)

	var users []domain.User
	err := u.db.WithContext(ctx).
		Where("deleted = ? AND (email = ? OR username = ? OR mobile = ?)", false, lower, lower, ident).
		Limit(3).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	for _, match := range []func(*domain.User) bool{
		func(x *domain.User) bool { return x.Email == lower },
		func(x *domain.User) bool { return x.Username == lower },
		func(x *domain.User) bool { return x.Mobile != nil && *x.Mobile == ident },
	} {
		for i := range users {
			if match(&users[i]) {
				return &users[i], nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

// CheckAvailable returns the taken-error for the first of username, email or
// mobile that already belongs to a user other than exclude.
func (u *UserStore) CheckAvailable(ctx context.Context, exclude domain.UserID, username, email string, mobile *string) error {
	checks := []struct {
		column string
		value  string
		err    error
	}{
		{"username", username, domain.ErrUsernameTaken},
		{"email", email, domain.ErrEmailTaken},
	}
	if mobile != nil {
		checks = append(checks, struct {
			column string
			value  string
			err    error
		}{"mobile", *mobile, domain.ErrMobileTaken})
	}

	for _, c := range checks {
		if c.value == "" {
			continue
		}
		var n int64
		err := u.db.WithContext(ctx).Model(&domain.User{}).
			Where(c.column+" = ? AND id <> ?", c.value, exclude).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return c.err
		}
	}
	return nil
}

// Search matches q case-insensitively against name, username and email.
func (u *UserStore) Search(ctx context.Context, caller domain.UserID, q string, limit int) ([]domain.User, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(q))) + "%"
	var users []domain.User
	err := u.read.WithContext(ctx).
		Where("deleted = ? AND id <> ?", false, caller).
		Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(username) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`, pattern, pattern, pattern).
		Order("username asc").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateProfile writes the editable profile columns of usr.
func (u *UserStore) UpdateProfile(ctx context.Context, usr *domain.User) error {
	err := u.db.WithContext(ctx).Model(usr).
		Select("name", "username", "email", "mobile", "avatar", "updated_at").
		Updates(usr).Error
	if err != nil {
		return userWriteError(err)
	}
	return nil
}

// Tombstone anonymizes the account in place. Messages keep referencing id.
func (u *UserStore) Tombstone(ctx context.Context, id domain.UserID, at time.Time) error {
	res := u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":       "Deleted user",
			"username":   "deleted-" + id,
			"email":      "deleted-" + id + "@deleted.invalid",
			"mobile":     nil,
			"avatar":     "",
			"is_online":  false,
			"last_seen":  at,
			"deleted":    true,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkOnline leaves tombstones untouched.
func (u *UserStore) MarkOnline(ctx context.Context, id domain.UserID, _ time.Time) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND deleted = ?", id, false).
		Update("is_online", true).Error
}

func (u *UserStore) MarkOffline(ctx context.Context, id domain.UserID, at time.Time) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_online": false, "last_seen": at}).Error
}

// ResetPresence marks every user offline. A fresh process holds no
// connections, so flags left by a crashed one are stale.
func (u *UserStore) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	res := u.db.WithContext(ctx).Model(&domain.User{}).
		Where("is_online = ?", true).
		Updates(map[string]any{"is_online": false, "last_seen": at})
	return res.RowsAffected, res.Error
}

func (u *UserStore) first(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.User, error) {
	var user domain.User
	if err := db.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func userWriteError(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(constraint, "username"):
		return domain.ErrUsernameTaken
	case strings.Contains(constraint, "email"):
		return domain.ErrEmailTaken
	case strings.Contains(constraint, "mobile"):
		return domain.ErrMobileTaken
	default:
		return fmt.Errorf("users: unique violation %s: %w", constraint, err)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
