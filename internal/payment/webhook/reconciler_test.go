package webhook_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/apperr"
	orderapp "github.com/jcmexdev/storefront/internal/order/app"
	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/payment/webhook"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
	"github.com/jcmexdev/storefront/internal/storage/sqlite"
)

const secret = "sk_test_webhook"

type fixture struct {
	engine     *orderapp.Engine
	reconciler *webhook.Reconciler
	order      *domain.Order
	reference  string
}

func newFixture(t *testing.T, c cache.Cache) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "webhook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.CreateProduct(ctx, &domain.Product{
		ID: "p1", Name: "Kettle", Price: decimal.RequireFromString("50.00"), Stock: 3,
	}))

	engine := orderapp.NewEngine(store, store, store, nil, nil)
	o, err := engine.Create(ctx, orderapp.CreateOrderInput{
		Customer: domain.Customer{Name: "Ada", Email: "ada@example.com", Phone: "0803", Address: "Lagos"},
		Items:    []orderapp.ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)

	ref := "ORD-" + o.ID + "-1700000000"
	_, err = engine.AttachPaymentSession(ctx, o.ID, ref, "https://checkout.example/x")
	require.NoError(t, err)

	return &fixture{
		engine:     engine,
		reconciler: webhook.NewReconciler(engine, webhook.Config{Secret: secret}, c, nil),
		order:      o,
		reference:  ref,
	}
}

func body(event, reference string, id, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"data":{"id":%d,"reference":%q,"amount":%d,"status":"success","paid_at":"2026-03-01T10:00:00.000Z","gateway_response":"Declined"}}`,
		event, id, reference, amount))
}

func (f *fixture) status(t *testing.T) domain.OrderStatus {
	t.Helper()
	o, err := f.engine.Get(context.Background(), f.order.ID)
	require.NoError(t, err)
	return o.Status
}

func TestInvalidSignatureLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t, nil)
	raw := body(webhook.EventChargeSuccess, f.reference, 7, 5000)

	for _, sig := range []string{"", "deadbeef", webhook.Sign([]byte("other-secret"), raw)} {
		_, err := f.reconciler.HandleNotification(context.Background(), raw, sig)
		assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	}
	assert.Equal(t, domain.StatusProcessing, f.status(t))
}

func TestSignatureCoversExactBytes(t *testing.T) {
	f := newFixture(t, nil)
	raw := body(webhook.EventChargeSuccess, f.reference, 7, 5000)
	sig := webhook.Sign([]byte(secret), raw)

	reformatted := append([]byte(" "), raw...)
	_, err := f.reconciler.HandleNotification(context.Background(), reformatted, sig)
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	assert.Equal(t, domain.StatusProcessing, f.status(t))
}

func TestChargeSuccessSettlesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	raw := body(webhook.EventChargeSuccess, f.reference, 7, 5000)
	sig := webhook.Sign([]byte(secret), raw)

	outcome, err := f.reconciler.HandleNotification(ctx, raw, sig)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, outcome)

	paid, err := f.engine.Get(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessful, paid.Status)
	assert.Equal(t, "7", paid.TransactionID)
	require.NotNil(t, paid.PaidAt)

	outcome, err = f.reconciler.HandleNotification(ctx, raw, sig)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, outcome)

	again, err := f.engine.Get(ctx, f.order.ID)
	require.NoError(t, err)
	assert.True(t, paid.PaidAt.Equal(*again.PaidAt))
}

func TestDuplicateDeliveryShortCircuitsOnCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewRedisCache(mr.Addr(), "storefront")
	t.Cleanup(func() { _ = c.Close() })

	f := newFixture(t, c)
	ctx := context.Background()
	raw := body(webhook.EventChargeSuccess, f.reference, 7, 5000)
	sig := webhook.Sign([]byte(secret), raw)

	outcome, err := f.reconciler.HandleNotification(ctx, raw, sig)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, outcome)
	assert.True(t, mr.Exists("storefront:webhook:charge.success:7"))

	outcome, err = f.reconciler.HandleNotification(ctx, raw, sig)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, outcome)
}

func TestUnknownReferenceIsAcknowledged(t *testing.T) {
	f := newFixture(t, nil)
	raw := body(webhook.EventChargeSuccess, "T-someone-else", 9, 5000)

	outcome, err := f.reconciler.HandleNotification(context.Background(), raw, webhook.Sign([]byte(secret), raw))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeUnknownReference, outcome)
}

func TestOtherEventsAreIgnored(t *testing.T) {
	f := newFixture(t, nil)
	raw := []byte(`{"event":"transfer.success","data":{"reference":"x"}}`)

	outcome, err := f.reconciler.HandleNotification(context.Background(), raw, webhook.Sign([]byte(secret), raw))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeIgnored, outcome)
	assert.Equal(t, domain.StatusProcessing, f.status(t))
}

func TestAmountMismatchIsRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewRedisCache(mr.Addr(), "storefront")
	t.Cleanup(func() { _ = c.Close() })

	f := newFixture(t, c)
	raw := body(webhook.EventChargeSuccess, f.reference, 7, 100)

	outcome, err := f.reconciler.HandleNotification(context.Background(), raw, webhook.Sign([]byte(secret), raw))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeRejected, outcome)
	assert.Equal(t, domain.StatusProcessing, f.status(t))
	assert.False(t, mr.Exists("storefront:webhook:charge.success:7"), "rejected charges are not remembered")
}

func TestChargeFailedMarksOrderFailed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	raw := body(webhook.EventChargeFailed, f.reference, 8, 5000)

	outcome, err := f.reconciler.HandleNotification(ctx, raw, webhook.Sign([]byte(secret), raw))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, outcome)

	o, err := f.engine.Get(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, o.Status)
	assert.Equal(t, "Declined", o.FailureReason)
}

func TestChargeFailedAfterPaymentIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ok := body(webhook.EventChargeSuccess, f.reference, 7, 5000)
	_, err := f.reconciler.HandleNotification(ctx, ok, webhook.Sign([]byte(secret), ok))
	require.NoError(t, err)

	failed := body(webhook.EventChargeFailed, f.reference, 8, 5000)
	outcome, err := f.reconciler.HandleNotification(ctx, failed, webhook.Sign([]byte(secret), failed))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeIgnored, outcome)
	assert.Equal(t, domain.StatusSuccessful, f.status(t))
}

func TestPaymentForCancelledOrderIsAConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Transition(ctx, f.order.ID, domain.StatusCancelled)
	require.NoError(t, err)

	raw := body(webhook.EventChargeSuccess, f.reference, 7, 5000)
	outcome, err := f.reconciler.HandleNotification(ctx, raw, webhook.Sign([]byte(secret), raw))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeConflict, outcome)
	assert.Equal(t, domain.StatusCancelled, f.status(t))
}

func TestMalformedBodyIsAcknowledged(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte(`not json`)},
		{"truncated", []byte(`{"event":`)},
		{"bad data", []byte(`{"event":"charge.success","data":"oops"}`)},
		{"no reference", []byte(`{"event":"charge.success","data":{"id":3,"amount":5000}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := f.reconciler.HandleNotification(context.Background(), tt.raw, webhook.Sign([]byte(secret), tt.raw))
			require.NoError(t, err)
			assert.Equal(t, webhook.OutcomeMalformed, outcome)
		})
	}
	assert.Equal(t, domain.StatusProcessing, f.status(t))
}

func TestChargeFailedForSupersededReferenceIsStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	old := "ORD-" + f.order.ID + "-1600000000"
	raw := body(webhook.EventChargeFailed, old, 8, 5000)

	outcome, err := f.reconciler.HandleNotification(ctx, raw, webhook.Sign([]byte(secret), raw))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeStale, outcome)
	assert.Equal(t, domain.StatusProcessing, f.status(t))
}
