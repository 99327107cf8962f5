package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateClientMsg is returned by Append when the sender already stored
// a message with the same client message id.
var ErrDuplicateClientMsg = errors.New("store: duplicate client message id")

const pgUniqueViolation = "23505"

// uniqueViolation reports whether err is a unique-index violation and, when
// the driver exposes it, the constraint or column list that was hit.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) &&
		(sqErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		// "UNIQUE constraint failed: users.email"
		msg := sqErr.Error()
		if i := strings.LastIndex(msg, ": "); i >= 0 {
			return msg[i+2:], true
		}
		return msg, true
	}
	return "", false
}
