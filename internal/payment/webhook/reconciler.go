// Package webhook reconciles signed server-to-server notifications from the
// payment processor with order state. It is a second, independent path to
// the same idempotent settlement the verify call uses.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
	"github.com/jcmexdev/storefront/internal/pkg/metrics"
)

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Outcome is how a notification that was accepted got handled. Every
// outcome is acknowledged to the processor.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeUnknownReference Outcome = "unknown_reference"
	// OutcomeConflict is a payment for an order that can no longer accept
	// one (e.g. cancelled). It needs manual follow-up, not redelivery.
	OutcomeConflict Outcome = "conflict"
	// OutcomeRejected is a signed charge whose amount differs from the order
	// total. The order is left untouched.
	OutcomeRejected Outcome = "rejected"
	// OutcomeMalformed is a signed body that cannot be parsed or names no
	// reference. Redelivery would not change it.
	OutcomeMalformed Outcome = "malformed"
	// OutcomeStale is a failure notice for a reference the order no longer
	// uses.
	OutcomeStale Outcome = "stale"
)

// Orders is the order engine as seen from the webhook.
type Orders interface {
	GetByReference(ctx context.Context, reference string) (*domain.Order, error)
	Settle(ctx context.Context, id string, s domain.Settlement) (*domain.Order, bool, error)
	MarkFailed(ctx context.Context, id, reason, channel string) (*domain.Order, bool, error)
}

type Config struct {
	// Secret is the shared HMAC key. For Paystack it is the secret API key.
	Secret string
	// DedupTTL is how long a processed event is remembered. Zero means 24h.
	DedupTTL time.Duration
}

type Reconciler struct {
	orders  Orders
	secret  []byte
	ttl     time.Duration
	cache   cache.Cache      // nil-safe
	metrics *metrics.Metrics // nil-safe
}

func NewReconciler(orders Orders, cfg Config, c cache.Cache, m *metrics.Metrics) *Reconciler {
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Reconciler{
		orders:  orders,
		secret:  []byte(cfg.Secret),
		ttl:     ttl,
		cache:   c,
		metrics: m,
	}
}

type notification struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type charge struct {
	ID        int64     `json:"id"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Channel   string    `json:"channel"`
	PaidAt    time.Time `json:"paid_at"`
	Message   string    `json:"gateway_response"`
}

// Sign returns the hex HMAC-SHA512 of body under secret, as the processor
// sends it in the signature header.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleNotification authenticates raw against signature and applies it.
// raw must be the request body exactly as received. Once the signature
// holds, every permanent condition is reported as an Outcome; an error is
// either ErrInvalidSignature or a storage failure worth redelivering.
func (r *Reconciler) HandleNotification(ctx context.Context, raw []byte, signature string) (Outcome, error) {
	expected := Sign(r.secret, raw)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		r.metrics.SecurityReject("invalid_signature")
		r.metrics.WebhookEvent("unknown", "rejected")
		slog.WarnContext(ctx, "webhook signature mismatch", "security", true, "bytes", len(raw))
		return "", apperr.ErrInvalidSignature
	}

	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		r.metrics.WebhookEvent("unknown", string(OutcomeMalformed))
		slog.WarnContext(ctx, "signed webhook body is not JSON", "bytes", len(raw), "error", err)
		return OutcomeMalformed, nil
	}

	outcome, err := r.dispatch(ctx, &n)
	result := string(outcome)
	if err != nil {
		result = apperr.Kind(err)
	}
	r.metrics.WebhookEvent(n.Event, result)
	return outcome, err
}

func (r *Reconciler) dispatch(ctx context.Context, n *notification) (Outcome, error) {
	if n.Event != EventChargeSuccess && n.Event != EventChargeFailed {
		slog.InfoContext(ctx, "webhook event ignored", "event", n.Event)
		return OutcomeIgnored, nil
	}

	var c charge
	if err := json.Unmarshal(n.Data, &c); err != nil {
		slog.WarnContext(ctx, "webhook data malformed", "event", n.Event, "error", err)
		return OutcomeMalformed, nil
	}
	if c.Reference == "" {
		slog.WarnContext(ctx, "webhook without reference", "event", n.Event)
		return OutcomeMalformed, nil
	}

	key := r.dedupKey(n.Event, &c)
	if r.seen(ctx, key) {
		slog.InfoContext(ctx, "webhook already processed", "event", n.Event, "reference", c.Reference)
		return OutcomeDuplicate, nil
	}

	order, err := r.orders.GetByReference(ctx, c.Reference)
	if errors.Is(err, apperr.ErrOrderNotFound) {
		slog.WarnContext(ctx, "webhook for unknown reference", "event", n.Event, "reference", c.Reference)
		return OutcomeUnknownReference, nil
	}
	if err != nil {
		return "", err
	}

	var outcome Outcome
	switch n.Event {
	case EventChargeSuccess:
		outcome, err = r.settle(ctx, order, n.Data, &c)
	case EventChargeFailed:
		outcome, err = r.fail(ctx, order, &c)
	}
	if err != nil {
		return "", err
	}

	if outcome != OutcomeRejected {
		r.remember(ctx, key)
	}
	return outcome, nil
}

func (r *Reconciler) settle(ctx context.Context, order *domain.Order, raw json.RawMessage, c *charge) (Outcome, error) {
	expected, err := domain.ToMinor(order.Total)
	if err != nil {
		return "", fmt.Errorf("order %s: %v: %w", order.ID, err, apperr.ErrValidation)
	}
	if c.Amount != expected {
		r.metrics.SecurityReject("amount_mismatch")
		slog.WarnContext(ctx, "webhook amount differs from order total",
			"security", true,
			"order_id", order.ID,
			"reference", c.Reference,
			"paid_minor", c.Amount,
			"expected_minor", expected,
		)
		return OutcomeRejected, nil
	}

	var txID string
	if c.ID != 0 {
		txID = strconv.FormatInt(c.ID, 10)
	}
	_, changed, err := r.orders.Settle(ctx, order.ID, domain.Settlement{
		Reference:     c.Reference,
		TransactionID: txID,
		Payload:       raw,
		PaidAt:        c.PaidAt,
		Channel:       "webhook",
	})
	if errors.Is(err, apperr.ErrInvalidTransition) {
		slog.ErrorContext(ctx, "payment received for an order that cannot be settled",
			"order_id", order.ID, "status", order.Status, "reference", c.Reference)
		return OutcomeConflict, nil
	}
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	return OutcomeProcessed, nil
}

func (r *Reconciler) fail(ctx context.Context, order *domain.Order, c *charge) (Outcome, error) {
	if order.PaymentReference != "" && order.PaymentReference != c.Reference {
		slog.InfoContext(ctx, "failure notice for a superseded reference",
			"order_id", order.ID, "reference", c.Reference, "current_reference", order.PaymentReference)
		return OutcomeStale, nil
	}

	reason := c.Message
	if reason == "" {
		reason = "charge failed"
	}
	_, changed, err := r.orders.MarkFailed(ctx, order.ID, reason, "webhook")
	if errors.Is(err, apperr.ErrInvalidTransition) {
		slog.InfoContext(ctx, "failure notice for an order past processing",
			"order_id", order.ID, "status", order.Status, "reference", c.Reference)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	return OutcomeProcessed, nil
}

func (r *Reconciler) dedupKey(event string, c *charge) string {
	id := c.Reference
	if c.ID != 0 {
		id = strconv.FormatInt(c.ID, 10)
	}
	return event + ":" + id
}

func (r *Reconciler) seen(ctx context.Context, key string) bool {
	if r.cache == nil {
		return false
	}
	v, err := r.cache.Get(ctx, r.cache.GenerateKey("webhook", key))
	if err != nil {
		slog.WarnContext(ctx, "webhook dedup lookup failed", "key", key, "error", err)
		return false
	}
	return v != ""
}

func (r *Reconciler) remember(ctx context.Context, key string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, r.cache.GenerateKey("webhook", key), "1", r.ttl); err != nil {
		slog.WarnContext(ctx, "webhook dedup write failed", "key", key, "error", err)
	}
}
