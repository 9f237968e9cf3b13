package domain

import (
	"fmt"

	"github.com/jcmexdev/storefront/internal/apperr"
)

type OrderStatus string

const (
	StatusProcessing OrderStatus = "processing"
	StatusSuccessful OrderStatus = "successful"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusFailed     OrderStatus = "failed"
	StatusCancelled  OrderStatus = "cancelled"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []OrderStatus{
	StatusProcessing,
	StatusSuccessful,
	StatusShipped,
	StatusDelivered,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus validates s against the known statuses.
func ParseStatus(s string) (OrderStatus, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q: %w", s, apperr.ErrValidation)
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

// Paid reports whether s lies at or past a confirmed payment.
func (s OrderStatus) Paid() bool {
	return s == StatusSuccessful || s == StatusShipped || s == StatusDelivered
}

// Origin identifies who is asking for a transition.
type Origin int

const (
	// OriginAdmin is a direct administrative edit.
	OriginAdmin Origin = iota
	// OriginPayment is a verified processor outcome (verify call or webhook).
	OriginPayment
)

func (o Origin) String() string {
	if o == OriginPayment {
		return "payment"
	}
	return "admin"
}

// CheckTransition enforces the order state machine. Callers handle the
// from == to case before asking, since that is an idempotent no-op.
//
//	processing -> successful   payment origin, or admin for cash-on-delivery
//	processing -> failed       payment origin only
//	successful -> shipped
//	shipped    -> delivered
//	non-terminal -> cancelled
func CheckTransition(from, to OrderStatus, origin Origin, method PaymentMethod) error {
	if from.Terminal() {
		return fmt.Errorf("order is %s: %w", from, apperr.ErrInvalidTransition)
	}

	switch to {
	case StatusSuccessful:
		if from != StatusProcessing {
			break
		}
		if origin == OriginPayment || method == PaymentCashOnDelivery {
			return nil
		}
		return fmt.Errorf("%s -> %s requires a verified payment: %w", from, to, apperr.ErrInvalidTransition)

	case StatusFailed:
		if from == StatusProcessing && origin == OriginPayment {
			return nil
		}

	case StatusShipped:
		if from == StatusSuccessful {
			return nil
		}

	case StatusDelivered:
		if from == StatusShipped {
			return nil
		}

	case StatusCancelled:
		return nil
	}

	return fmt.Errorf("%s -> %s: %w", from, to, apperr.ErrInvalidTransition)
}
