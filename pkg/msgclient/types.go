package msgclient

import "time"

type User struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Mobile    *string    `json:"mobile,omitempty"`
	Avatar    string     `json:"avatar,omitempty"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	Seq         int64        `json:"seq"`
	SenderID    string       `json:"sender"`
	RecipientID string       `json:"receiver"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments"`
	ClientMsgID string       `json:"clientMsgId,omitempty"`
	Edited      bool         `json:"edited"`
	Deleted     bool         `json:"deleted"`
	Read        bool         `json:"read"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type HistoryPage struct {
	Messages   []Message `json:"messages"`
	NextCursor int64     `json:"nextCursor,omitempty"`
	Peer       *User     `json:"peer,omitempty"`
}

type Conversation struct {
	ChatID      string  `json:"chatId"`
	PeerID      string  `json:"peerId"`
	Peer        *User   `json:"peer,omitempty"`
	LastMessage Message `json:"lastMessage"`
	UnreadCount int64   `json:"unreadCount"`
}

type AuthResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SignupRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile,omitempty"`
	Password string `json:"password"`
}

type ProfilePatch struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type SendRequest struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ClientMsgID string       `json:"clientMsgId,omitempty"`
}

// Event is a server push on the live connection.
type Event struct {
	Type        string   `json:"type"`
	Message     *Message `json:"message,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	ClientMsgID string   `json:"clientMsgId,omitempty"`
}
