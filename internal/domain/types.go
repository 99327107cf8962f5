package domain

// UserID is the stable identifier of an account. Identifiers are UUID strings
// in practice; see convkey.ValidID for the accepted alphabet.
type UserID = string

type MessageID = string
