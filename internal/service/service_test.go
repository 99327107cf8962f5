package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"dmchat/internal/domain"
	"dmchat/internal/jwtsigner"
	"dmchat/internal/passwords"
	"dmchat/internal/registry"
	"dmchat/internal/store"
	"dmchat/pkg/db"
)

type fixture struct {
	store    *store.Store
	registry *registry.Registry
	agg      *Aggregator
	router   *Router
	accounts *Accounts
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.OpenGorm(db.Config{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })

	st := store.New(gdb)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	signer, err := jwtsigner.New("test-secret", "dmchat", "dmchat-clients", time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	hasher := passwords.NewArgon2id(passwords.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}, 1)

	reg := registry.New(st.Users(), nil)
	agg := NewAggregator(st.Messages(), nil).WithPeers(st.Users())
	return &fixture{
		store:    st,
		registry: reg,
		agg:      agg,
		router:   NewRouter(st.Messages(), st.Users(), reg, agg, nil),
		accounts: NewAccounts(st, hasher, signer, reg, agg, nil),
	}
}

func (f *fixture) user(t *testing.T, id string) {
	t.Helper()
	u := &domain.User{ID: id, Name: id, Username: id, Email: id + "@example.com"}
	if err := f.store.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

func (f *fixture) connect(t *testing.T, userID, connID string) *registry.Outbox {
	t.Helper()
	o := registry.NewOutbox(connID, 16)
	f.registry.Register(context.Background(), userID, o)
	t.Cleanup(func() { f.registry.Unregister(context.Background(), userID, o) })
	return o
}

func drain(o *registry.Outbox) []registry.Event {
	var out []registry.Event
	for {
		select {
		case ev, ok := <-o.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}
