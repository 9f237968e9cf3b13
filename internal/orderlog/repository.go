package orderlog

import "context"

// Repository persists transition entries. The engine depends on this port,
// not on SQLite; a nil Repository disables the log.
type Repository interface {
	// Append adds one row. The table is append-only.
	Append(ctx context.Context, entry *Entry) error

	// History returns all entries for an order, oldest first.
	History(ctx context.Context, orderID string) ([]*Entry, error)
}
