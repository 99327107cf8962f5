package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dmchat/internal/convkey"
	"dmchat/internal/domain"
	"dmchat/internal/observability/metrics"
	obsmw "dmchat/internal/observability/middleware"
	"dmchat/internal/registry"
	"dmchat/internal/store"
)

const maxClientMsgIDLen = 64

type SendInput struct {
	SenderID    domain.UserID
	RecipientID domain.UserID
	Text        string
	Attachments []domain.Attachment
	ClientMsgID string
}

// Router validates, persists and fans out direct messages.
type Router struct {
	messages MessageStore
	users    UserDirectory
	conns    Connections
	agg      *Aggregator
	log      *slog.Logger
}

func NewRouter(messages MessageStore, users UserDirectory, conns Connections, agg *Aggregator, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{messages: messages, users: users, conns: conns, agg: agg, log: log}
}

// Send stores the message and pushes it to the recipient's connections as
// "delivered" and to the sender's connections as "sent". A failed store write
// reports ErrDeliveryFailed and notifies nobody.
func (r *Router) Send(ctx context.Context, in SendInput) (msg domain.Message, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = domain.Reason(err)
		}
		metrics.MessageSendDurationSeconds.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	if err := r.validate(ctx, in); err != nil {
		return domain.Message{}, err
	}

	if in.ClientMsgID != "" {
		prev, err := r.messages.FindByClientID(ctx, in.SenderID, in.ClientMsgID)
		switch {
		case err == nil:
			return r.replay(ctx, in, *prev)
		case !errors.Is(err, domain.ErrNotFound):
			r.log.Warn("client id lookup failed", r.attrs(ctx, in, "error", err)...)
		}
	}

	draft := domain.Message{
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Text:        in.Text,
		Attachments: domain.Attachments(in.Attachments),
	}
	if in.ClientMsgID != "" {
		cid := in.ClientMsgID
		draft.ClientMsgID = &cid
	}

	stored, err := r.messages.Append(ctx, draft)
	if errors.Is(err, store.ErrDuplicateClientMsg) {
		return r.replay(ctx, in, stored)
	}
	if err != nil {
		r.log.Error("message persist failed", r.attrs(ctx, in, "error", err)...)
		return domain.Message{}, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}

	kind := "text"
	if len(stored.Attachments) > 0 {
		kind = "attachment"
	}
	metrics.MessagesStoredTotal.WithLabelValues(kind).Inc()
	metrics.MessageAttachmentCount.WithLabelValues().Observe(float64(len(stored.Attachments)))

	if r.agg != nil {
		r.agg.Invalidate(stored.SenderID, stored.RecipientID)
	}

	delivered := r.conns.Fanout(ctx, stored.RecipientID, registry.Delivered(stored))
	echoed := r.conns.Fanout(ctx, stored.SenderID, registry.Sent(stored))

	r.log.Info("message routed", r.attrs(ctx, in,
		"message_id", stored.ID,
		"chat_id", stored.ConversationKey,
		"seq", stored.Seq,
		"recipient_connections", delivered,
		"sender_connections", echoed,
	)...)
	return stored, nil
}

// replay answers a repeated client message id with the stored message. Only
// the sender is notified again.
func (r *Router) replay(ctx context.Context, in SendInput, prev domain.Message) (domain.Message, error) {
	if prev.RecipientID != in.RecipientID {
		return domain.Message{}, fmt.Errorf("%w: client message id reused for another recipient", domain.ErrInvalidRequest)
	}
	r.conns.Fanout(ctx, prev.SenderID, registry.Sent(prev))
	r.log.Info("duplicate send replayed", r.attrs(ctx, in, "message_id", prev.ID)...)
	return prev, nil
}

func (r *Router) validate(ctx context.Context, in SendInput) error {
	if !convkey.ValidID(in.SenderID) {
		return fmt.Errorf("%w: sender id", domain.ErrUnauthenticated)
	}
	if in.RecipientID == "" || !convkey.ValidID(in.RecipientID) {
		return fmt.Errorf("%w: malformed recipient", domain.ErrInvalidRecipient)
	}
	if in.RecipientID == in.SenderID {
		return fmt.Errorf("%w: cannot message yourself", domain.ErrInvalidRecipient)
	}
	if strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 {
		return domain.ErrEmptyMessage
	}
	for i, a := range in.Attachments {
		if strings.TrimSpace(a.Filename) == "" || strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("%w: attachment %d needs filename and url", domain.ErrInvalidRequest, i)
		}
	}
	if len(in.ClientMsgID) > maxClientMsgIDLen {
		return fmt.Errorf("%w: clientMsgId too long", domain.ErrInvalidRequest)
	}

	if _, err := r.users.GetActive(ctx, in.SenderID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: sender account deleted or unknown", domain.ErrUnauthenticated)
		}
		return fmt.Errorf("%w: sender lookup: %w", domain.ErrDeliveryFailed, err)
	}
	if _, err := r.users.GetActive(ctx, in.RecipientID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown recipient", domain.ErrInvalidRecipient)
		}
		return fmt.Errorf("%w: recipient lookup: %w", domain.ErrDeliveryFailed, err)
	}
	return nil
}

// History returns one page of the conversation between userID and peerID.
func (r *Router) History(ctx context.Context, userID, peerID domain.UserID, page domain.Page) (domain.HistoryPage, error) {
	if !convkey.ValidID(userID) {
		return domain.HistoryPage{}, fmt.Errorf("%w: caller id", domain.ErrUnauthenticated)
	}
	if !convkey.ValidID(peerID) || peerID == userID {
		return domain.HistoryPage{}, domain.ErrInvalidRecipient
	}
	if page.After < 0 {
		return domain.HistoryPage{}, fmt.Errorf("%w: negative cursor", domain.ErrInvalidRequest)
	}
	hp, err := r.messages.History(ctx, convkey.Key(userID, peerID), page)
	if err != nil {
		return domain.HistoryPage{}, err
	}
	if users, err := r.users.GetByIDs(ctx, []domain.UserID{peerID}); err != nil {
		r.log.Warn("peer lookup failed", append(obsmw.LogAttrs(ctx), "user_id", userID, "peer_id", peerID, "error", err)...)
	} else if u, ok := users[peerID]; ok {
		p := u.Public()
		hp.Peer = &p
	}
	metrics.MessageHistoryFetchedTotal.WithLabelValues("conversation").Inc()
	return hp, nil
}

func (r *Router) attrs(ctx context.Context, in SendInput, kv ...any) []any {
	out := append(obsmw.LogAttrs(ctx), "sender_id", in.SenderID, "recipient_id", in.RecipientID)
	if in.ClientMsgID != "" {
		out = append(out, "client_msg_id", in.ClientMsgID)
	}
	return append(out, kv...)
}
