// Package app implements the order engine: creation with stock reservation,
// and the single status-transition entry point that both administrative
// edits and payment settlement go through.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/coordinator"
	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/order/ports"
	"github.com/jcmexdev/storefront/internal/orderlog"
	"github.com/jcmexdev/storefront/internal/pkg/metrics"
)

// maxTransitionAttempts bounds the reload-and-retry loop when a concurrent
// writer changes the status between our read and our compare-and-set.
const maxTransitionAttempts = 3

type CreateOrderInput struct {
	Customer      domain.Customer
	Items         []ItemInput
	PaymentMethod domain.PaymentMethod
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

// ListFilter is the admin list filter. Status is validated against the
// known statuses; an unknown value is ErrInvalidFilter.
type ListFilter struct {
	Status string
	Search string
}

type Engine struct {
	products ports.ProductStore
	orders   ports.OrderStore
	log      orderlog.Repository // nil-safe
	events   ports.Publisher     // nil-safe
	metrics  *metrics.Metrics    // nil-safe
	now      func() time.Time
}

// NewEngine wires the engine to its stores. log, events and m may be nil.
func NewEngine(
	products ports.ProductStore,
	orders ports.OrderStore,
	log orderlog.Repository,
	events ports.Publisher,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		products: products,
		orders:   orders,
		log:      log,
		events:   events,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the input, snapshots product name and price, reserves
// stock for every item and persists the order in StatusProcessing. Any
// failure rolls back all reservations already made.
func (e *Engine) Create(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	order, err := e.create(ctx, in)
	if err != nil {
		e.metrics.OrderFailed(apperr.Kind(err))
		return nil, err
	}
	e.metrics.OrderCreated()
	return order, nil
}

func (e *Engine) create(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(in.Items))
	for _, it := range mergeItems(in.Items) {
		p, err := e.products.GetProduct(ctx, it.ProductID)
		if errors.Is(err, apperr.ErrProductNotFound) {
			return nil, fmt.Errorf("item %s: %w: %w", it.ProductID, err, apperr.ErrValidation)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  it.Quantity,
		})
	}

	now := e.now()
	order := &domain.Order{
		ID:            uuid.NewString(),
		Customer:      in.Customer,
		Items:         items,
		Total:         domain.CalculateTotal(items),
		PaymentMethod: in.PaymentMethod,
		Status:        domain.StatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	steps := make([]coordinator.Step, 0, len(items)+1)
	for _, it := range items {
		steps = append(steps, coordinator.NewReserveStockStep(e.products, it.ProductID, it.Quantity))
	}
	steps = append(steps, coordinator.NewPersistOrderStep(e.orders, order))

	if err := coordinator.NewOrchestrator(order.ID, steps).Start(ctx); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"items", len(order.Items),
		"total", order.Total.String(),
		"payment_method", order.PaymentMethod,
	)
	e.record(ctx, order, "", "system", "", "")
	return order, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*domain.Order, error) {
	return e.orders.GetOrder(ctx, id)
}

// GetByReference resolves an order from a payment reference: first through
// the unique reference index, then by decoding the order id embedded in the
// reference (covers a notification that races the session being stored).
func (e *Engine) GetByReference(ctx context.Context, reference string) (*domain.Order, error) {
	o, err := e.orders.GetOrderByReference(ctx, reference)
	if err == nil {
		return o, nil
	}
	id, ok := domain.OrderIDFromReference(reference)
	if !ok {
		return nil, err
	}
	return e.orders.GetOrder(ctx, id)
}

func (e *Engine) List(ctx context.Context, f ListFilter) ([]*domain.Order, error) {
	filter := ports.OrderFilter{Search: strings.TrimSpace(f.Search)}
	if f.Status != "" {
		st, err := domain.ParseStatus(f.Status)
		if err != nil {
			return nil, fmt.Errorf("status %q: %w", f.Status, apperr.ErrInvalidFilter)
		}
		filter.Status = st
	}
	return e.orders.ListOrders(ctx, filter)
}

// LookupByCustomer returns the customer's orders, newest first. An empty
// result is not an error here.
func (e *Engine) LookupByCustomer(ctx context.Context, email, phone string) ([]*domain.Order, error) {
	email, phone = strings.TrimSpace(email), strings.TrimSpace(phone)
	if email == "" && phone == "" {
		return nil, fmt.Errorf("email or phone is required: %w", apperr.ErrValidation)
	}
	return e.orders.ListOrders(ctx, ports.OrderFilter{Email: email, Phone: phone})
}

// AttachPaymentSession stores a processor reference and redirect URL on an
// order that has none. It reports false when a reference was already set.
func (e *Engine) AttachPaymentSession(ctx context.Context, id, reference, authorizationURL string) (bool, error) {
	ok, err := e.orders.SetPaymentSession(ctx, id, reference, authorizationURL)
	if err != nil {
		return false, err
	}
	if ok {
		slog.InfoContext(ctx, "payment session attached", "order_id", id, "reference", reference)
	}
	return ok, nil
}

// Transition is the administrative status edit (ship, deliver, cancel, and
// marking cash-on-delivery orders paid).
func (e *Engine) Transition(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	o, _, err := e.transition(ctx, id, to, domain.OriginAdmin, nil, "")
	return o, err
}

// Settle moves an order to StatusSuccessful on a verified payment. It is
// idempotent: when the order is already paid (successful or further along)
// it returns changed=false and leaves paid-at and the stored payload untouched.
func (e *Engine) Settle(ctx context.Context, id string, s domain.Settlement) (*domain.Order, bool, error) {
	o, changed, err := e.transition(ctx, id, domain.StatusSuccessful, domain.OriginPayment, &s, "")
	switch {
	case err != nil:
		e.metrics.Settlement(s.Channel, "rejected")
	case changed:
		e.metrics.Settlement(s.Channel, "applied")
	default:
		e.metrics.Settlement(s.Channel, "duplicate")
	}
	return o, changed, err
}

// MarkFailed records an explicit, processor-confirmed payment failure.
func (e *Engine) MarkFailed(ctx context.Context, id, reason, channel string) (*domain.Order, bool, error) {
	return e.transition(ctx, id, domain.StatusFailed, domain.OriginPayment, &domain.Settlement{Channel: channel}, reason)
}

func (e *Engine) transition(
	ctx context.Context,
	id string,
	to domain.OrderStatus,
	origin domain.Origin,
	s *domain.Settlement,
	reason string,
) (*domain.Order, bool, error) {
	var channel string
	if s != nil {
		channel = s.Channel
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := e.orders.GetOrder(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if current.Status == to || (to == domain.StatusSuccessful && origin == domain.OriginPayment && current.Status.Paid()) {
			slog.InfoContext(ctx, "transition is a no-op",
				"order_id", id, "status", to, "origin", origin, "channel", channel)
			return current, false, nil
		}
		if err := domain.CheckTransition(current.Status, to, origin, current.PaymentMethod); err != nil {
			return current, false, fmt.Errorf("order %s: %w", id, err)
		}

		var settlement *domain.Settlement
		if to == domain.StatusSuccessful {
			// A cash-on-delivery order is settled by the admin who marks it paid.
			stamped := domain.Settlement{Channel: "admin"}
			if s != nil {
				stamped = *s
			}
			if stamped.PaidAt.IsZero() {
				stamped.PaidAt = e.now()
			}
			settlement = &stamped
		}

		ok, err := e.orders.UpdateStatus(ctx, id, current.Status, to, settlement, reason)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			slog.DebugContext(ctx, "lost status race, reloading", "order_id", id, "attempt", attempt+1)
			continue
		}

		updated, err := e.orders.GetOrder(ctx, id)
		if err != nil {
			return nil, false, err
		}
		detail := reason
		if settlement != nil {
			detail = settlement.Reference
		}
		slog.InfoContext(ctx, "order status changed",
			"order_id", id,
			"from", current.Status,
			"to", to,
			"origin", origin,
			"channel", channel,
		)
		e.metrics.Transition(string(current.Status), string(to), origin.String())
		e.record(ctx, updated, current.Status, origin.String(), channel, detail)
		return updated, true, nil
	}

	return nil, false, fmt.Errorf("order %s: status kept changing under %d attempts", id, maxTransitionAttempts)
}

// record appends to the transition log and publishes the new status. Both are
// best effort: the order row is already the source of truth.
func (e *Engine) record(ctx context.Context, o *domain.Order, from domain.OrderStatus, origin, channel, detail string) {
	ctx = context.WithoutCancel(ctx)
	if e.log != nil {
		entry := orderlog.NewEntry(ctx, o.ID, string(from), string(o.Status), origin, channel, detail)
		if err := e.log.Append(ctx, entry); err != nil {
			slog.ErrorContext(ctx, "failed to append order event", "order_id", o.ID, "error", err)
		}
	}
	if e.events != nil {
		if err := e.events.PublishStatus(ctx, o); err != nil {
			slog.ErrorContext(ctx, "failed to publish order status", "order_id", o.ID, "status", o.Status, "error", err)
		}
	}
}

func validateCreate(in *CreateOrderInput) error {
	c := &in.Customer
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address = strings.TrimSpace(c.Address)

	var missing []string
	if c.Name == "" {
		missing = append(missing, "customer name")
	}
	if c.Email == "" {
		missing = append(missing, "customer email")
	} else if !strings.Contains(c.Email, "@") {
		return fmt.Errorf("customer email %q is not an email address: %w", c.Email, apperr.ErrValidation)
	}
	if c.Phone == "" {
		missing = append(missing, "customer phone")
	}
	if c.Address == "" {
		missing = append(missing, "customer address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required: %w", strings.Join(missing, ", "), apperr.ErrValidation)
	}

	if len(in.Items) == 0 {
		return fmt.Errorf("order must have at least one item: %w", apperr.ErrValidation)
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("item %d: product_id is required: %w", i, apperr.ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("item %d (%s): quantity must be positive: %w", i, it.ProductID, apperr.ErrValidation)
		}
	}

	if in.PaymentMethod == "" {
		in.PaymentMethod = domain.PaymentHostedGateway
	}
	if !in.PaymentMethod.Valid() {
		return fmt.Errorf("payment method %q: %w", in.PaymentMethod, apperr.ErrValidation)
	}
	return nil
}

// mergeItems folds repeated product ids into one line, keeping first-seen
// order, so each product is reserved with a single atomic decrement.
func mergeItems(items []ItemInput) []ItemInput {
	idx := make(map[string]int, len(items))
	out := make([]ItemInput, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if i, ok := idx[id]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[id] = len(out)
		out = append(out, ItemInput{ProductID: id, Quantity: it.Quantity})
	}
	return out
}
