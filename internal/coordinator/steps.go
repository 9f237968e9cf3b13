package coordinator

import (
	"context"
	"fmt"

	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/order/ports"
)

// --- ReserveStockStep ---

type ReserveStockStep struct {
	products  ports.ProductStore
	productID string
	quantity  int
}

// NewReserveStockStep is the constructor for ReserveStockStep
func NewReserveStockStep(products ports.ProductStore, productID string, quantity int) *ReserveStockStep {
	return &ReserveStockStep{
		products:  products,
		productID: productID,
		quantity:  quantity,
	}
}

func (s *ReserveStockStep) Name() string { return "Reserve_Stock_" + s.productID }

func (s *ReserveStockStep) Execute(ctx context.Context) error {
	return s.products.DecrementStock(ctx, s.productID, s.quantity)
}

func (s *ReserveStockStep) Compensate(ctx context.Context) error {
	return s.products.RestoreStock(ctx, s.productID, s.quantity)
}

// --- PersistOrderStep ---

type PersistOrderStep struct {
	orders ports.OrderStore
	order  *domain.Order
}

// NewPersistOrderStep is the constructor for PersistOrderStep
func NewPersistOrderStep(orders ports.OrderStore, order *domain.Order) *PersistOrderStep {
	return &PersistOrderStep{
		orders: orders,
		order:  order,
	}
}

func (s *PersistOrderStep) Name() string { return "Persist_Order" }

func (s *PersistOrderStep) Execute(ctx context.Context) error {
	if err := s.orders.InsertOrder(ctx, s.order); err != nil {
		return fmt.Errorf("failed to persist order: %w", err)
	}
	return nil
}

func (s *PersistOrderStep) Compensate(ctx context.Context) error {
	// Last step: nothing runs after it that could fail.
	return nil
}
