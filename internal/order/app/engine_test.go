package app_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/order/app"
	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/storage/sqlite"
)

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []domain.OrderStatus
}

func (p *recordingPublisher) PublishStatus(_ context.Context, o *domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, o.Status)
	return nil
}

func (p *recordingPublisher) count(s domain.OrderStatus) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, st := range p.statuses {
		if st == s {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *sqlite.Store
	engine *app.Engine
	pub    *recordingPublisher
}

func newFixture(t *testing.T, products ...*domain.Product) *fixture {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, p := range products {
		require.NoError(t, store.CreateProduct(context.Background(), p))
	}

	pub := &recordingPublisher{}
	return &fixture{
		store:  store,
		engine: app.NewEngine(store, store, store, pub, nil),
		pub:    pub,
	}
}

func product(id, price string, stock int) *domain.Product {
	return &domain.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

func customer() domain.Customer {
	return domain.Customer{
		Name:    "Ada Obi",
		Email:   "ada@example.com",
		Phone:   "08030000000",
		Address: "12 Marina Road, Lagos",
	}
}

func order(items ...app.ItemInput) app.CreateOrderInput {
	return app.CreateOrderInput{Customer: customer(), Items: items}
}

func stockOf(t *testing.T, f *fixture, id string) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestCreateSnapshotsPricesAndReservesStock(t *testing.T) {
	f := newFixture(t, product("p1", "20.00", 5), product("p2", "5.00", 10))
	ctx := context.Background()

	o, err := f.engine.Create(ctx, order(
		app.ItemInput{ProductID: "p1", Quantity: 2},
		app.ItemInput{ProductID: "p2", Quantity: 2},
	))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusProcessing, o.Status)
	assert.Equal(t, domain.PaymentHostedGateway, o.PaymentMethod)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("50.00")))
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Product p1", o.Items[0].Name)
	assert.Equal(t, 3, stockOf(t, f, "p1"))
	assert.Equal(t, 8, stockOf(t, f, "p2"))

	stored, err := f.engine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.Items[0].UnitPrice.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, 1, f.pub.count(domain.StatusProcessing))
}

func TestCreateMergesRepeatedProducts(t *testing.T) {
	f := newFixture(t, product("p1", "1.50", 3))

	o, err := f.engine.Create(context.Background(), order(
		app.ItemInput{ProductID: "p1", Quantity: 1},
		app.ItemInput{ProductID: "p1", Quantity: 2},
	))
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 3, o.Items[0].Quantity)
	assert.Equal(t, 0, stockOf(t, f, "p1"))
}

func TestCreateExhaustsStockThenRejects(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 2))
	ctx := context.Background()

	_, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 2}))
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, f, "p1"))

	_, err = f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 1}))
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 0, stockOf(t, f, "p1"))
}

func TestCreateRollsBackEarlierReservations(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 5), product("p2", "10.00", 1))
	ctx := context.Background()

	_, err := f.engine.Create(ctx, order(
		app.ItemInput{ProductID: "p1", Quantity: 3},
		app.ItemInput{ProductID: "p2", Quantity: 2},
	))
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)

	assert.Equal(t, 5, stockOf(t, f, "p1"), "first item's reservation must be released")
	assert.Equal(t, 1, stockOf(t, f, "p2"))

	orders, err := f.engine.List(ctx, app.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateUnknownProduct(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 5))

	_, err := f.engine.Create(context.Background(), order(
		app.ItemInput{ProductID: "p1", Quantity: 1},
		app.ItemInput{ProductID: "nope", Quantity: 1},
	))
	require.ErrorIs(t, err, apperr.ErrProductNotFound)
	assert.ErrorIs(t, err, apperr.ErrValidation, "an unknown product is bad input")
	assert.Equal(t, 5, stockOf(t, f, "p1"))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 5))

	tests := []struct {
		name   string
		modify func(*app.CreateOrderInput)
	}{
		{"no items", func(in *app.CreateOrderInput) { in.Items = nil }},
		{"zero quantity", func(in *app.CreateOrderInput) { in.Items[0].Quantity = 0 }},
		{"missing product id", func(in *app.CreateOrderInput) { in.Items[0].ProductID = " " }},
		{"missing email", func(in *app.CreateOrderInput) { in.Customer.Email = "" }},
		{"bad email", func(in *app.CreateOrderInput) { in.Customer.Email = "ada" }},
		{"missing address", func(in *app.CreateOrderInput) { in.Customer.Address = "" }},
		{"unknown payment method", func(in *app.CreateOrderInput) { in.PaymentMethod = "crypto" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := order(app.ItemInput{ProductID: "p1", Quantity: 1})
			tt.modify(&in)
			_, err := f.engine.Create(context.Background(), in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Equal(t, 5, stockOf(t, f, "p1"))
}

func TestConcurrentCreatesNeverOversell(t *testing.T) {
	const stock, buyers = 5, 20
	f := newFixture(t, product("p1", "10.00", stock))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Create(context.Background(), order(app.ItemInput{ProductID: "p1", Quantity: 1}))
			switch {
			case err == nil:
				succeeded.Add(1)
			case apperr.Kind(err) == "insufficient_stock":
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(stock), succeeded.Load())
	assert.Equal(t, int32(buyers-stock), rejected.Load())
	assert.Equal(t, 0, stockOf(t, f, "p1"))
}

func settlement(channel string) domain.Settlement {
	return domain.Settlement{
		Reference:     "ORD-x-1",
		TransactionID: "txn-" + channel,
		Payload:       json.RawMessage(`{"channel":"` + channel + `"}`),
		Channel:       channel,
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	f := newFixture(t, product("p1", "25.00", 5))
	ctx := context.Background()

	o, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 2}))
	require.NoError(t, err)

	first, changed, err := f.engine.Settle(ctx, o.ID, settlement("verify"))
	require.NoError(t, err)
	require.True(t, changed)
	require.NotNil(t, first.PaidAt)
	assert.Equal(t, domain.StatusSuccessful, first.Status)
	assert.JSONEq(t, `{"channel":"verify"}`, string(first.PaymentData))

	time.Sleep(2 * time.Millisecond)
	second, changed, err := f.engine.Settle(ctx, o.ID, settlement("webhook"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.StatusSuccessful, second.Status)
	assert.True(t, first.PaidAt.Equal(*second.PaidAt), "paid-at must not be rewritten")
	assert.JSONEq(t, `{"channel":"verify"}`, string(second.PaymentData))
	assert.Equal(t, "txn-verify", second.TransactionID)
	assert.Equal(t, 1, f.pub.count(domain.StatusSuccessful))
}

func TestConcurrentSettlementAppliesOnce(t *testing.T) {
	f := newFixture(t, product("p1", "25.00", 5))
	ctx := context.Background()

	o, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for _, ch := range []string{"verify", "webhook", "verify", "webhook"} {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			_, changed, err := f.engine.Settle(ctx, o.ID, settlement(channel))
			assert.NoError(t, err)
			if changed {
				applied.Add(1)
			}
		}(ch)
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())

	history, err := f.store.History(ctx, o.ID)
	require.NoError(t, err)
	var paid int
	for _, e := range history {
		if e.ToStatus == string(domain.StatusSuccessful) {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestAdminTransitions(t *testing.T) {
	f := newFixture(t, product("p1", "25.00", 5))
	ctx := context.Background()

	o, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, o.ID, domain.StatusShipped)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition, "cannot ship before payment")

	_, err = f.engine.Transition(ctx, o.ID, domain.StatusSuccessful)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition, "admin cannot mark a gateway order paid")

	_, _, err = f.engine.Settle(ctx, o.ID, settlement("verify"))
	require.NoError(t, err)

	shipped, err := f.engine.Transition(ctx, o.ID, domain.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, shipped.Status)

	delivered, err := f.engine.Transition(ctx, o.ID, domain.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, delivered.Status)

	_, err = f.engine.Transition(ctx, o.ID, domain.StatusCancelled)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	again, err := f.engine.Transition(ctx, o.ID, domain.StatusDelivered)
	require.NoError(t, err, "same target is a no-op")
	assert.Equal(t, domain.StatusDelivered, again.Status)
}

func TestCashOnDeliveryMarkedPaidByAdmin(t *testing.T) {
	f := newFixture(t, product("p1", "25.00", 5))
	ctx := context.Background()

	in := order(app.ItemInput{ProductID: "p1", Quantity: 1})
	in.PaymentMethod = domain.PaymentCashOnDelivery
	o, err := f.engine.Create(ctx, in)
	require.NoError(t, err)

	paid, err := f.engine.Transition(ctx, o.ID, domain.StatusSuccessful)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessful, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.Empty(t, paid.TransactionID)

	again, err := f.engine.Transition(ctx, o.ID, domain.StatusSuccessful)
	require.NoError(t, err)
	require.NotNil(t, again.PaidAt)
	assert.True(t, paid.PaidAt.Equal(*again.PaidAt), "paid-at is written once")

	shipped, err := f.engine.Transition(ctx, o.ID, domain.StatusShipped)
	require.NoError(t, err)
	require.NotNil(t, shipped.PaidAt)
	assert.True(t, paid.PaidAt.Equal(*shipped.PaidAt))
}

func TestMarkFailedOnlyFromProcessing(t *testing.T) {
	f := newFixture(t, product("p1", "25.00", 5))
	ctx := context.Background()

	o, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	failed, changed, err := f.engine.MarkFailed(ctx, o.ID, "card declined", "webhook")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "card declined", failed.FailureReason)

	_, _, err = f.engine.Settle(ctx, o.ID, settlement("webhook"))
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestTransitionUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Transition(context.Background(), "missing", domain.StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestListAndLookup(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 50))
	ctx := context.Background()

	first, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	other := order(app.ItemInput{ProductID: "p1", Quantity: 1})
	other.Customer = domain.Customer{Name: "Bola", Email: "bola@example.com", Phone: "0809", Address: "Abuja"}
	_, err = f.engine.Create(ctx, other)
	require.NoError(t, err)

	_, _, err = f.engine.Settle(ctx, second.ID, settlement("verify"))
	require.NoError(t, err)

	history, err := f.engine.LookupByCustomer(ctx, "ADA@example.com", "")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID, "newest first")
	assert.Equal(t, first.ID, history[1].ID)

	none, err := f.engine.LookupByCustomer(ctx, "", "0000")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.engine.LookupByCustomer(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	bySearch, err := f.engine.List(ctx, app.ListFilter{Search: "ABUJA"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "Bola", bySearch[0].Customer.Name)

	byStatus, err := f.engine.List(ctx, app.ListFilter{Status: "successful"})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, second.ID, byStatus[0].ID)

	_, err = f.engine.List(ctx, app.ListFilter{Status: "pending"})
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
}

func TestGetByReferenceFallsBackToEmbeddedID(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 5))
	ctx := context.Background()

	o, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	ref := domain.NewReference(o.ID, time.Now())
	got, err := f.engine.GetByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.engine.GetByReference(ctx, "T-unknown")
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestSettleAfterShippingIsNoop(t *testing.T) {
	f := newFixture(t, product("p1", "25.00", 5))
	ctx := context.Background()

	o, err := f.engine.Create(ctx, order(app.ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)
	_, _, err = f.engine.Settle(ctx, o.ID, settlement("verify"))
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, o.ID, domain.StatusShipped)
	require.NoError(t, err)

	late, changed, err := f.engine.Settle(ctx, o.ID, settlement("webhook"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.StatusShipped, late.Status)
}
