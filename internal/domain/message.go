package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Attachments is stored as a JSON document column. It satisfies sql.Scanner
// and driver.Valuer so the same model works on postgres and sqlite.
type Attachments []Attachment

// Value implements driver.Valuer.
func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]Attachment(a))
	if err != nil {
		return nil, fmt.Errorf("domain.Attachments: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attachments) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain.Attachments: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	var out []Attachment
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("domain.Attachments: invalid JSON payload: %w", err)
	}
	*a = out
	return nil
}

type Message struct {
	ID              MessageID   `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConversationKey string      `gorm:"type:varchar(160);not null;uniqueIndex:ux_messages_conv_seq,priority:1" json:"chatId"`
	Seq             int64       `gorm:"not null;uniqueIndex:ux_messages_conv_seq,priority:2" json:"seq"`
	SenderID        UserID      `gorm:"type:varchar(64);not null;index;uniqueIndex:ux_messages_sender_client,priority:1" json:"sender"`
	RecipientID     UserID      `gorm:"type:varchar(64);not null;index" json:"receiver"`
	ClientMsgID     *string     `gorm:"type:varchar(64);uniqueIndex:ux_messages_sender_client,priority:2" json:"clientMsgId,omitempty"`
	Text            string      `gorm:"type:text" json:"text,omitempty"`
	Attachments     Attachments `gorm:"type:text" json:"attachments"`
	CreatedAt       time.Time   `gorm:"not null;index" json:"createdAt"`
	Edited          bool        `gorm:"not null;default:false" json:"edited"`
	Deleted         bool        `gorm:"not null;default:false" json:"deleted"`
	Read            bool        `gorm:"not null;default:false" json:"read"`
}

func (Message) TableName() string { return "messages" }

// IsEmpty reports whether the message carries neither text nor attachments.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

type ConversationSummary struct {
	ConversationKey string  `json:"chatId"`
	PeerID          UserID  `json:"peerId"`
	Peer            *Public `json:"peer,omitempty"`
	LastMessage     Message `json:"lastMessage"`
	UnreadCount     int64   `json:"unreadCount"`
}

type Page struct {
	After int64
	Limit int
}

type HistoryPage struct {
	Messages   []Message `json:"messages"`
	NextCursor int64     `json:"nextCursor,omitempty"`
	Peer       *Public   `json:"peer,omitempty"`
}
