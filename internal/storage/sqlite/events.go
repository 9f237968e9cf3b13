package sqlite

import (
	"context"
	"fmt"

	"github.com/jcmexdev/storefront/internal/orderlog"
)

// Append inserts a transition entry. It is safe to call concurrently.
func (s *Store) Append(ctx context.Context, e *orderlog.Entry) error {
	const q = `
		INSERT INTO order_events
			(order_id, from_status, to_status, origin, channel, detail, trace_id, span_id, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		e.OrderID,
		e.FromStatus,
		e.ToStatus,
		e.Origin,
		e.Channel,
		e.Detail,
		e.TraceID,
		e.SpanID,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append event for %q: %w", e.OrderID, err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, orderID string) ([]*orderlog.Entry, error) {
	const q = `
		SELECT order_id, from_status, to_status, origin, channel, detail, trace_id, span_id, created_at
		FROM   order_events
		WHERE  order_id = ?
		ORDER  BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history for %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []*orderlog.Entry
	for rows.Next() {
		var e orderlog.Entry
		var createdAt string
		if err := rows.Scan(&e.OrderID, &e.FromStatus, &e.ToStatus, &e.Origin, &e.Channel,
			&e.Detail, &e.TraceID, &e.SpanID, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
