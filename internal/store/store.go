package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"dmchat/internal/domain"
	"dmchat/internal/keylock"
)

type Store struct {
	DB *gorm.DB

	read      *gorm.DB
	convLocks *keylock.Striped
	now       func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db, read: db, convLocks: keylock.New(0), now: time.Now}
}

// WithReplica routes history, conversation and lookup reads to replica.
func (s *Store) WithReplica(replica *gorm.DB) *Store {
	if replica != nil {
		s.read = replica
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx, read: tx, convLocks: s.convLocks, now: s.now})
	})
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(
		&domain.User{},
		&domain.PasswordCredential{},
		&domain.Message{},
	)
}
