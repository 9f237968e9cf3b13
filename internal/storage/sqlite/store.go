// Package sqlite provides the SQLite-backed document store for products,
// orders and the order transition log.
//
// Orders are stored one row per document with line items as a JSON column.
// All concurrency guarantees live in single conditional UPDATE statements:
// stock is decremented with "stock >= qty" in the WHERE clause and status
// changes compare-and-set on the current status, so no read-modify-write
// pair ever crosses a suspension point.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcmexdev/storefront/internal/order/ports"
	"github.com/jcmexdev/storefront/internal/orderlog"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
    id          TEXT    PRIMARY KEY,
    name        TEXT    NOT NULL,
    description TEXT    NOT NULL DEFAULT '',
    -- decimal string, never a float
    price       TEXT    NOT NULL,
    image       TEXT    NOT NULL DEFAULT '',
    stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
    category    TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS orders (
    id                TEXT PRIMARY KEY,
    customer_name     TEXT NOT NULL,
    customer_email    TEXT NOT NULL,
    customer_phone    TEXT NOT NULL,
    customer_address  TEXT NOT NULL,
    -- JSON array of item snapshots
    items             TEXT NOT NULL,
    total             TEXT NOT NULL,
    payment_method    TEXT NOT NULL,
    payment_reference TEXT,
    authorization_url TEXT,
    transaction_id    TEXT,
    status            TEXT NOT NULL,
    -- raw processor payload, written once on settlement
    payment_data      TEXT,
    failure_reason    TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL,
    paid_at           TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_payment_reference ON orders(payment_reference);
CREATE INDEX IF NOT EXISTS idx_orders_email ON orders(customer_email, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_phone ON orders(customer_phone, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS order_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    TEXT NOT NULL,
    from_status TEXT NOT NULL DEFAULT '',
    to_status   TEXT NOT NULL,
    origin      TEXT NOT NULL DEFAULT '',
    channel     TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    trace_id    TEXT NOT NULL DEFAULT '',
    span_id     TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_events_order_id ON order_events(order_id, id);
`

// Store implements ports.ProductStore, ports.OrderStore and orderlog.Repository.
type Store struct {
	db *sql.DB
}

var (
	_ ports.ProductStore  = (*Store)(nil)
	_ ports.OrderStore    = (*Store)(nil)
	_ orderlog.Repository = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies the schema.
//
//	store, err := sqlite.Open("./data/storefront.db")
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// One writer connection: SQLite serialises writes anyway and a single
	// connection keeps conditional updates strictly ordered.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// nullableString returns nil for empty strings so SQLite stores NULL. The
// unique reference index relies on this: many NULLs, no duplicate values.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
