package ports

import (
	"context"

	"github.com/jcmexdev/storefront/internal/order/domain"
)

// ProductStore is the catalog port the order engine depends on.
type ProductStore interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)

	// DecrementStock atomically subtracts qty if and only if the current
	// stock is at least qty. It never performs a read-then-write pair.
	DecrementStock(ctx context.Context, productID string, qty int) error

	// RestoreStock adds qty back. Used only to compensate a reservation
	// made by an order that failed to complete.
	RestoreStock(ctx context.Context, productID string, qty int) error
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	Status domain.OrderStatus
	Search string
	Email  string
	Phone  string
}

// OrderStore is the order persistence port. Every status change goes through
// UpdateStatus, a compare-and-set on the current status.
type OrderStore interface {
	InsertOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*domain.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, error)

	// UpdateStatus moves the order from `from` to `to` only if it is still in
	// `from`. It reports false when another writer got there first. A non-nil
	// settlement is stamped in the same statement.
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, s *domain.Settlement, reason string) (bool, error)

	// SetPaymentSession stores a reference and redirect URL on an order that
	// has none yet. It reports false if a reference was already present.
	SetPaymentSession(ctx context.Context, id, reference, authorizationURL string) (bool, error)
}

// Publisher fans out effective transitions to other systems.
type Publisher interface {
	PublishStatus(ctx context.Context, o *domain.Order) error
}
