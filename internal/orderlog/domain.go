// Package orderlog defines the audit trail of order status transitions.
//
// Every transition that actually changes an order's status appends one
// Entry. No-op transitions (a duplicate webhook, a second verify call) write
// nothing, so the log doubles as evidence that settlement happened once.
// Each entry carries the OpenTelemetry trace and span ids active when it was
// written, so a row can be followed back to the request that caused it.
package orderlog

import "time"

type Entry struct {
	// OrderID is the order the transition applies to.
	OrderID string

	// FromStatus and ToStatus bound the transition. FromStatus is empty for
	// the creation entry.
	FromStatus string
	ToStatus   string

	// Origin is who asked: "admin", "payment" or "system".
	Origin string

	// Channel names the settlement path ("verify", "webhook") when the
	// transition came from a payment outcome.
	Channel string

	// Detail is free text, e.g. the failure reason or the payment reference.
	Detail string

	TraceID string
	SpanID  string

	CreatedAt time.Time
}
