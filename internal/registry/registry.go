// Package registry tracks the live connections of every user and fans events
// out to them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dmchat/internal/domain"
	"dmchat/internal/keylock"
	"dmchat/internal/observability/metrics"
)

// Handle is one live connection.
type Handle interface {
	ID() string
	Deliver(ctx context.Context, ev Event) error
	Close() error
}

// Presence records the online flag of a user. It is called on the 0→1 and
// 1→0 transitions of the user's connection count only.
type Presence interface {
	MarkOnline(ctx context.Context, userID domain.UserID, at time.Time) error
	MarkOffline(ctx context.Context, userID domain.UserID, at time.Time) error
}

type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]map[string]Handle

	// serializes join/leave of one user across the presence write
	userLocks *keylock.Striped

	presence Presence
	log      *slog.Logger
	now      func() time.Time
}

func New(presence Presence, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		conns:     make(map[domain.UserID]map[string]Handle),
		userLocks: keylock.New(0),
		presence:  presence,
		log:       log,
		now:       time.Now,
	}
}

// Register adds h to userID's set. Registering the same handle id twice is a
// no-op.
func (r *Registry) Register(ctx context.Context, userID domain.UserID, h Handle) {
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]Handle)
		r.conns[userID] = set
	}
	if _, dup := set[h.ID()]; dup {
		r.mu.Unlock()
		return
	}
	set[h.ID()] = h
	first := len(set) == 1
	r.mu.Unlock()

	metrics.LiveConnections.WithLabelValues().Inc()
	if !first {
		return
	}
	metrics.OnlineUsers.WithLabelValues().Inc()
	if r.presence != nil {
		if err := r.presence.MarkOnline(ctx, userID, r.now().UTC()); err != nil {
			r.log.Warn("presence online write failed", "user_id", userID, "error", err)
		}
	}
	r.log.Debug("user online", "user_id", userID, "conn_id", h.ID())
}

// Unregister removes h. Unknown handles are ignored.
func (r *Registry) Unregister(ctx context.Context, userID domain.UserID, h Handle) {
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if cur, ok := set[h.ID()]; !ok || cur != h {
		r.mu.Unlock()
		return
	}
	delete(set, h.ID())
	last := len(set) == 0
	if last {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	metrics.LiveConnections.WithLabelValues().Dec()
	if !last {
		return
	}
	metrics.OnlineUsers.WithLabelValues().Dec()
	if r.presence != nil {
		if err := r.presence.MarkOffline(ctx, userID, r.now().UTC()); err != nil {
			r.log.Warn("presence offline write failed", "user_id", userID, "error", err)
		}
	}
	r.log.Debug("user offline", "user_id", userID, "conn_id", h.ID())
}

// Fanout delivers ev to every live connection of userID and returns how many
// accepted it. Failures are logged and counted; a slow consumer is dropped.
func (r *Registry) Fanout(ctx context.Context, userID domain.UserID, ev Event) int {
	handles := r.snapshot(userID)

	delivered := 0
	for _, h := range handles {
		err := h.Deliver(ctx, ev)
		if err == nil {
			delivered++
			metrics.FanoutDeliveriesTotal.WithLabelValues(ev.Type).Inc()
			continue
		}
		metrics.FanoutFailuresTotal.WithLabelValues(ev.Type).Inc()
		r.log.Warn("fanout delivery failed",
			"user_id", userID,
			"conn_id", h.ID(),
			"event", ev.Type,
			"error", fmt.Errorf("%w: %w", domain.ErrDeliveryFanout, err),
		)
		if errors.Is(err, ErrSlowConsumer) || errors.Is(err, domain.ErrConnectionClosed) {
			r.Unregister(ctx, userID, h)
			_ = h.Close()
		}
	}
	return delivered
}

// DisconnectUser unregisters and closes every live connection of userID.
func (r *Registry) DisconnectUser(ctx context.Context, userID domain.UserID) int {
	handles := r.snapshot(userID)
	for _, h := range handles {
		r.Unregister(ctx, userID, h)
		_ = h.Close()
	}
	return len(handles)
}

// CloseAll disconnects every user. Used on shutdown, since hijacked
// websocket connections are not drained by http.Server.Shutdown.
func (r *Registry) CloseAll(ctx context.Context) int {
	r.mu.RLock()
	users := make([]domain.UserID, 0, len(r.conns))
	for id := range r.conns {
		users = append(users, id)
	}
	r.mu.RUnlock()

	n := 0
	for _, id := range users {
		n += r.DisconnectUser(ctx, id)
	}
	return n
}

func (r *Registry) Online(userID domain.UserID) bool { return r.Count(userID) > 0 }

func (r *Registry) Count(userID domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

func (r *Registry) snapshot(userID domain.UserID) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	out := make([]Handle, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}
