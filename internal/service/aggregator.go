package service

import (
	"context"
	"log/slog"
	"sync"

	"dmchat/internal/domain"
	"dmchat/internal/observability/metrics"
)

// ConversationSource computes conversation summaries from stored messages.
type ConversationSource interface {
	ConversationsFor(ctx context.Context, userID domain.UserID) ([]domain.ConversationSummary, error)
}

type aggEntry struct {
	gen       uint64
	cachedGen uint64
	cached    []domain.ConversationSummary
	valid     bool
}

// Aggregator caches per-user conversation lists. Every append bumps the
// generation of both participants; a computed list is only cached when the
// generation did not move while it was being computed.
type Aggregator struct {
	source ConversationSource
	peers  PeerDirectory
	log    *slog.Logger

	mu      sync.Mutex
	entries map[domain.UserID]*aggEntry
}

func NewAggregator(source ConversationSource, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{source: source, log: log, entries: make(map[domain.UserID]*aggEntry)}
}

// WithPeers makes listings carry the peer's public details. Presence changes
// without bumping generations, so peers are looked up on every call and never
// cached.
func (a *Aggregator) WithPeers(dir PeerDirectory) *Aggregator {
	a.peers = dir
	return a
}

func (a *Aggregator) ConversationsFor(ctx context.Context, userID domain.UserID) ([]domain.ConversationSummary, error) {
	out, err := a.summaries(ctx, userID)
	if err != nil {
		return nil, err
	}
	a.attachPeers(ctx, userID, out)
	return out, nil
}

func (a *Aggregator) summaries(ctx context.Context, userID domain.UserID) ([]domain.ConversationSummary, error) {
	a.mu.Lock()
	e := a.entry(userID)
	if e.valid && e.cachedGen == e.gen {
		out := cloneSummaries(e.cached)
		a.mu.Unlock()
		metrics.MessageHistoryFetchedTotal.WithLabelValues("conversations_cached").Inc()
		return out, nil
	}
	gen := e.gen
	a.mu.Unlock()

	res, err := a.source.ConversationsFor(ctx, userID)
	if err != nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if e.valid {
			a.log.Warn("conversation listing degraded, serving cached copy",
				"user_id", userID,
				"error", err,
			)
			return cloneSummaries(e.cached), nil
		}
		return nil, err
	}
	if res == nil {
		res = []domain.ConversationSummary{}
	}

	a.mu.Lock()
	if e.gen == gen {
		e.cached = cloneSummaries(res)
		e.cachedGen = gen
		e.valid = true
	}
	a.mu.Unlock()

	metrics.MessageHistoryFetchedTotal.WithLabelValues("conversations").Inc()
	return res, nil
}

// attachPeers fills Peer in place. A failed lookup leaves the listing without
// peer details rather than failing it.
func (a *Aggregator) attachPeers(ctx context.Context, userID domain.UserID, out []domain.ConversationSummary) {
	if a.peers == nil || len(out) == 0 {
		return
	}
	ids := make([]domain.UserID, 0, len(out))
	for _, s := range out {
		ids = append(ids, s.PeerID)
	}
	users, err := a.peers.GetByIDs(ctx, ids)
	if err != nil {
		a.log.Warn("peer lookup failed, listing without peer details",
			"user_id", userID,
			"error", err,
		)
		return
	}
	for i := range out {
		if u, ok := users[out[i].PeerID]; ok {
			p := u.Public()
			out[i].Peer = &p
		}
	}
}

// Invalidate marks the cached lists of userIDs as stale.
func (a *Aggregator) Invalidate(userIDs ...domain.UserID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range userIDs {
		a.entry(id).gen++
	}
}

// Forget drops all cached state of userID.
func (a *Aggregator) Forget(userID domain.UserID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[userID]; ok {
		// keep the generation moving so an in-flight computation is not cached
		e.gen++
		e.cached = nil
		e.valid = false
	}
}

func (a *Aggregator) entry(id domain.UserID) *aggEntry {
	e, ok := a.entries[id]
	if !ok {
		e = &aggEntry{}
		a.entries[id] = e
	}
	return e
}

func cloneSummaries(in []domain.ConversationSummary) []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, len(in))
	copy(out, in)
	return out
}
