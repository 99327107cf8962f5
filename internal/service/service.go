// Package service holds the messaging use cases: sending, history,
// conversation listings and account management.
package service

import (
	"context"

	"dmchat/internal/domain"
	"dmchat/internal/registry"
)

// MessageStore is the persistence the router and aggregator depend on.
type MessageStore interface {
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)
	History(ctx context.Context, key string, page domain.Page) (domain.HistoryPage, error)
	ConversationsFor(ctx context.Context, userID domain.UserID) ([]domain.ConversationSummary, error)
	FindByClientID(ctx context.Context, senderID domain.UserID, clientMsgID string) (*domain.Message, error)
}

// UserDirectory resolves users that may still receive messages.
type UserDirectory interface {
	GetActive(ctx context.Context, id domain.UserID) (*domain.User, error)
	PeerDirectory
}

// PeerDirectory loads the public details shown next to a conversation.
// Tombstoned users are returned too.
type PeerDirectory interface {
	GetByIDs(ctx context.Context, ids []domain.UserID) (map[domain.UserID]domain.User, error)
}

// Connections is the live-connection side of the registry.
type Connections interface {
	Fanout(ctx context.Context, userID domain.UserID, ev registry.Event) int
	DisconnectUser(ctx context.Context, userID domain.UserID) int
}
