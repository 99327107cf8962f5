// Package convkey derives the canonical identifier of a two-party conversation.
package convkey

import "strings"

// Separator joins the two identifiers of a key. It is outside the identifier
// alphabet accepted by ValidID, which keeps keys collision-free.
const Separator = "_"

const maxIDLength = 64

// ValidID reports whether id is a non-empty identifier made of ASCII letters,
// digits and '-'.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

// Key returns the order-independent key of the pair (a, b).
func Key(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// Split returns the two identifiers of a key in key order.
func Split(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, Separator)
	if !ok || !ValidID(a) || !ValidID(b) {
		return "", "", false
	}
	return a, b, true
}

// Peer returns the participant of key that is not self.
func Peer(key, self string) (string, bool) {
	a, b, ok := Split(key)
	if !ok {
		return "", false
	}
	switch self {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}
