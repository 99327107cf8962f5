package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dmchat/internal/convkey"
	"dmchat/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	maxAppendAttempts = 3
)

type MessageStore struct {
	db    *gorm.DB
	read  *gorm.DB
	store *Store
}

func (s *Store) Messages() *MessageStore {
	return &MessageStore{db: s.DB, read: s.read, store: s}
}

// Append stores msg and returns it with id, conversation key, seq and
// createdAt assigned. Appends to one conversation are serialized in-process;
// the (conversation_key, seq) index catches writers in other processes, and
// such a collision is retried.
func (m *MessageStore) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.SenderID == msg.RecipientID {
		return domain.Message{}, fmt.Errorf("%w: sender equals recipient", domain.ErrPersistence)
	}
	key := convkey.Key(msg.SenderID, msg.RecipientID)

	unlock := m.store.convLocks.Lock(key)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		out := msg
		out.ID = uuid.NewString()
		out.ConversationKey = key
		out.Read = false
		if out.Attachments == nil {
			out.Attachments = domain.Attachments{}
		}

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var last struct {
				Seq       int64
				CreatedAt time.Time
			}
			err := tx.Model(&domain.Message{}).
				Select("seq", "created_at").
				Where("conversation_key = ?", key).
				Order("seq desc").
				Limit(1).
				Take(&last).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			now := m.store.now().UTC().Truncate(time.Microsecond)
			if now.Before(last.CreatedAt) {
				now = last.CreatedAt.UTC()
			}
			out.Seq = last.Seq + 1
			out.CreatedAt = now
			return tx.Create(&out).Error
		})
		if err == nil {
			return out, nil
		}

		constraint, unique := uniqueViolation(err)
		switch {
		case unique && (strings.Contains(constraint, "client_msg") || strings.Contains(constraint, "sender_client")):
			existing, ferr := m.FindByClientID(ctx, msg.SenderID, derefString(msg.ClientMsgID))
			if ferr != nil {
				return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrPersistence, ferr)
			}
			return *existing, ErrDuplicateClientMsg
		case unique:
			lastErr = err
			continue
		default:
			return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
	}
	return domain.Message{}, fmt.Errorf("%w: seq contention on %s: %v", domain.ErrPersistence, key, lastErr)
}

// History returns one page of a conversation in ascending seq order, starting
// after page.After.
func (m *MessageStore) History(ctx context.Context, key string, page domain.Page) (domain.HistoryPage, error) {
	limit := NormalizeLimit(page.Limit)

	var msgs []domain.Message
	err := m.read.WithContext(ctx).
		Where("conversation_key = ? AND seq > ?", key, page.After).
		Order("seq asc").
		Limit(limit + 1).
		Find(&msgs).Error
	if err != nil {
		return domain.HistoryPage{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	out := domain.HistoryPage{Messages: msgs}
	if len(msgs) > limit {
		out.Messages = msgs[:limit]
		out.NextCursor = out.Messages[limit-1].Seq
	}
	if out.Messages == nil {
		out.Messages = []domain.Message{}
	}
	return out, nil
}

// ConversationsFor returns the latest message of every conversation userID
// takes part in, with the number of messages addressed to userID that are
// still unread, newest conversation first.
func (m *MessageStore) ConversationsFor(ctx context.Context, userID domain.UserID) ([]domain.ConversationSummary, error) {
	db := m.read.WithContext(ctx)

	var last []domain.Message
	err := db.Raw(`
		SELECT m.* FROM messages m
		JOIN (
			SELECT conversation_key, MAX(seq) AS max_seq
			FROM messages
			WHERE sender_id = ? OR recipient_id = ?
			GROUP BY conversation_key
		) t ON m.conversation_key = t.conversation_key AND m.seq = t.max_seq
		ORDER BY m.created_at DESC, m.conversation_key ASC`, userID, userID).
		Scan(&last).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	var counts []struct {
		ConversationKey string
		Unread          int64
	}
	err = db.Model(&domain.Message{}).
		Select("conversation_key", "COUNT(*) AS unread").
		Where(map[string]any{"recipient_id": userID, "read": false}).
		Group("conversation_key").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	unread := make(map[string]int64, len(counts))
	for _, c := range counts {
		unread[c.ConversationKey] = c.Unread
	}

	out := make([]domain.ConversationSummary, 0, len(last))
	for _, msg := range last {
		peer, ok := convkey.Peer(msg.ConversationKey, userID)
		if !ok {
			return nil, fmt.Errorf("%w: conversation key %q does not include %s", domain.ErrPersistence, msg.ConversationKey, userID)
		}
		out = append(out, domain.ConversationSummary{
			ConversationKey: msg.ConversationKey,
			PeerID:          peer,
			LastMessage:     msg,
			UnreadCount:     unread[msg.ConversationKey],
		})
	}
	return out, nil
}

func (m *MessageStore) FindByClientID(ctx context.Context, senderID domain.UserID, clientMsgID string) (*domain.Message, error) {
	if clientMsgID == "" {
		return nil, domain.ErrNotFound
	}
	var msg domain.Message
	err := m.db.WithContext(ctx).
		Where("sender_id = ? AND client_msg_id = ?", senderID, clientMsgID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return &msg, nil
}

func NormalizeLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultHistoryLimit
	case n > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return n
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
