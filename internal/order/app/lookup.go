package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/orderlog"
)

// Lookup serves read-only projections of orders for the customer-facing
// pages and the admin dashboard.
type Lookup struct {
	engine *Engine
	log    orderlog.Repository // nil-safe
}

func NewLookup(engine *Engine, log orderlog.Repository) *Lookup {
	return &Lookup{engine: engine, log: log}
}

// ByID returns the customer view of an order: the raw processor payload is
// an audit record and is not exposed.
func (l *Lookup) ByID(ctx context.Context, id string) (*domain.Order, error) {
	o, err := l.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return customerView(o), nil
}

func (l *Lookup) ByCustomer(ctx context.Context, email, phone string) ([]*domain.Order, error) {
	orders, err := l.engine.LookupByCustomer(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	for i, o := range orders {
		orders[i] = customerView(o)
	}
	return orders, nil
}

// List is the admin view and keeps every field.
func (l *Lookup) List(ctx context.Context, f ListFilter) ([]*domain.Order, error) {
	return l.engine.List(ctx, f)
}

// History returns the transition log of an order.
func (l *Lookup) History(ctx context.Context, id string) ([]*orderlog.Entry, error) {
	if _, err := l.engine.Get(ctx, id); err != nil {
		return nil, err
	}
	if l.log == nil {
		return nil, nil
	}
	return l.log.History(ctx, id)
}

type Stats struct {
	TotalOrders int                        `json:"total_orders"`
	ByStatus    map[domain.OrderStatus]int `json:"by_status"`
	Revenue     decimal.Decimal            `json:"revenue"`
}

// Stats counts orders per status. Revenue only includes orders whose payment
// was confirmed (successful, shipped or delivered).
func (l *Lookup) Stats(ctx context.Context) (*Stats, error) {
	orders, err := l.engine.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}

	st := &Stats{
		ByStatus: make(map[domain.OrderStatus]int, len(domain.Statuses)),
		Revenue:  decimal.Zero,
	}
	for _, s := range domain.Statuses {
		st.ByStatus[s] = 0
	}
	for _, o := range orders {
		st.TotalOrders++
		st.ByStatus[o.Status]++
		if o.Status.Paid() {
			st.Revenue = st.Revenue.Add(o.Total)
		}
	}
	return st, nil
}

func customerView(o *domain.Order) *domain.Order {
	c := *o
	c.PaymentData = nil
	return &c
}
