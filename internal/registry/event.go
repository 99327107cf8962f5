package registry

import "dmchat/internal/domain"

const (
	EventDelivered = "delivered"
	EventSent      = "sent"
	EventSendError = "send_error"
	EventPong      = "pong"
)

// Event is a server-to-client frame on a live connection.
type Event struct {
	Type        string          `json:"type"`
	Message     *domain.Message `json:"message,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	ClientMsgID string          `json:"clientMsgId,omitempty"`
}

func Delivered(m domain.Message) Event { return Event{Type: EventDelivered, Message: &m} }

func Sent(m domain.Message) Event { return Event{Type: EventSent, Message: &m} }

func SendError(err error, clientMsgID string) Event {
	return Event{Type: EventSendError, Reason: domain.Reason(err), ClientMsgID: clientMsgID}
}
