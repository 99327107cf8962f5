package domain

import "errors"

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrEmptyMessage       = errors.New("empty message")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrPersistence        = errors.New("persistence error")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrDeliveryFanout     = errors.New("delivery fanout error")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrExternalAccount    = errors.New("account uses external login")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already used")
	ErrMobileTaken        = errors.New("mobile already used")
	ErrPasswordLength     = errors.New("password too short")
)

// Reason maps an error to the reason string reported to a sending connection.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "Unauthenticated"
	case errors.Is(err, ErrInvalidRecipient):
		return "InvalidRecipient"
	case errors.Is(err, ErrEmptyMessage):
		return "EmptyMessage"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	default:
		return "DeliveryFailed"
	}
}
