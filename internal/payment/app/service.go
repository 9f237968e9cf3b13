// Package app is the payment gateway adapter: it opens hosted payment
// sessions for orders and confirms completed payments against the processor
// before handing the outcome to the order engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/payment/gateway"
	"github.com/jcmexdev/storefront/internal/pkg/metrics"
)

// OrderIDPlaceholder is replaced with the order id in the callback URL.
const OrderIDPlaceholder = "{orderId}"

// Processor is the subset of the processor client the service needs.
type Processor interface {
	Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.Session, error)
	Verify(ctx context.Context, reference string) (*gateway.Transaction, error)
}

// Orders is the order engine as seen from the payment side.
type Orders interface {
	Get(ctx context.Context, id string) (*domain.Order, error)
	GetByReference(ctx context.Context, reference string) (*domain.Order, error)
	AttachPaymentSession(ctx context.Context, id, reference, authorizationURL string) (bool, error)
	Settle(ctx context.Context, id string, s domain.Settlement) (*domain.Order, bool, error)
}

type Config struct {
	// CallbackURL is where the processor sends the customer after paying.
	// OrderIDPlaceholder in it is substituted.
	CallbackURL string

	// VerifyAttempts bounds calls to the processor per Verify when it is
	// unavailable. Zero means 3.
	VerifyAttempts int
	RetryInterval  time.Duration

	// VerifyTimeout bounds one shared verify run, independent of the
	// callers waiting on it. Zero means 30s.
	VerifyTimeout time.Duration
}

type Service struct {
	orders    Orders
	processor Processor
	cfg       Config
	metrics   *metrics.Metrics // nil-safe
	inflight  singleflight.Group
	now       func() time.Time
}

func NewService(orders Orders, processor Processor, cfg Config, m *metrics.Metrics) *Service {
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 30 * time.Second
	}
	return &Service{
		orders:    orders,
		processor: processor,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
	}
}

type InitRequest struct {
	OrderID string
	Amount  decimal.Decimal
	Email   string
	Name    string
	Phone   string
}

type Session struct {
	RedirectURL string `json:"authorization_url"`
	Reference   string `json:"reference"`
}

// InitializeSession opens a hosted payment for an unpaid gateway order and
// stores the reference on it. An order that already has a session gets the
// stored one back. On any processor failure nothing is persisted.
func (s *Service) InitializeSession(ctx context.Context, req InitRequest) (*Session, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.OrderID == "" || req.Email == "" || req.Name == "" || req.Phone == "" || req.Amount.IsZero() {
		return nil, fmt.Errorf("order_id, amount, email, name and phone are required: %w", apperr.ErrMissingFields)
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if !req.Amount.Equal(order.Total) {
		s.securityReject(ctx, "amount_mismatch", "payment amount differs from order total",
			"order_id", order.ID, "requested", req.Amount.String(), "total", order.Total.String())
		return nil, fmt.Errorf("amount %s does not match order total %s: %w", req.Amount, order.Total, apperr.ErrAmountMismatch)
	}
	if order.PaymentMethod != domain.PaymentHostedGateway {
		return nil, fmt.Errorf("order %s is paid by %s: %w", order.ID, order.PaymentMethod, apperr.ErrInvalidTransition)
	}
	if order.Status != domain.StatusProcessing {
		return nil, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, apperr.ErrInvalidTransition)
	}
	if order.PaymentReference != "" {
		slog.InfoContext(ctx, "reusing payment session", "order_id", order.ID, "reference", order.PaymentReference)
		return &Session{RedirectURL: order.AuthorizationURL, Reference: order.PaymentReference}, nil
	}

	minor, err := domain.ToMinor(order.Total)
	if err != nil {
		return nil, fmt.Errorf("order %s: %v: %w", order.ID, err, apperr.ErrValidation)
	}

	reference := domain.NewReference(order.ID, s.now())
	session, err := s.processor.Initialize(ctx, gateway.InitializeRequest{
		Email:       req.Email,
		Amount:      minor,
		Reference:   reference,
		CallbackURL: s.callbackURL(order.ID),
		Metadata:    map[string]string{"order_id": order.ID, "name": req.Name, "phone": req.Phone},
	})
	if err != nil {
		slog.WarnContext(ctx, "payment session not opened", "order_id", order.ID, "error", err)
		return nil, err
	}

	attached, err := s.orders.AttachPaymentSession(ctx, order.ID, reference, session.AuthorizationURL)
	if err != nil {
		return nil, err
	}
	if !attached {
		// A concurrent call stored its session first; hand that one out.
		current, err := s.orders.Get(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return &Session{RedirectURL: current.AuthorizationURL, Reference: current.PaymentReference}, nil
	}

	return &Session{RedirectURL: session.AuthorizationURL, Reference: reference}, nil
}

type Result struct {
	OrderID        string             `json:"order_id"`
	Reference      string             `json:"reference"`
	Amount         decimal.Decimal    `json:"amount"`
	Status         domain.OrderStatus `json:"status"`
	AlreadySettled bool               `json:"already_settled"`
}

// Verify asks the processor for the outcome of reference and, if it is a
// success for the full order total, settles the order. Concurrent calls for
// the same reference share one processor round trip. The shared run does not
// inherit any caller's cancellation; a caller that gives up just stops
// waiting.
func (s *Service) Verify(ctx context.Context, reference string) (*Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("reference is required: %w", apperr.ErrValidation)
	}

	ch := s.inflight.DoChan(reference, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.VerifyTimeout)
		defer cancel()
		return s.verify(runCtx, reference)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			slog.DebugContext(ctx, "verify shared an in-flight call", "reference", reference)
		}
		res := *r.Val.(*Result)
		return &res, nil
	}
}

func (s *Service) verify(ctx context.Context, reference string) (*Result, error) {
	tx, err := s.fetch(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !tx.Succeeded() {
		slog.InfoContext(ctx, "payment not successful", "reference", reference, "processor_status", tx.Status)
		return nil, fmt.Errorf("reference %s is %q: %w", reference, tx.Status, apperr.ErrPaymentNotSuccessful)
	}

	order, err := s.orders.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	expected, err := domain.ToMinor(order.Total)
	if err != nil {
		return nil, fmt.Errorf("order %s: %v: %w", order.ID, err, apperr.ErrValidation)
	}
	if tx.Amount != expected {
		s.securityReject(ctx, "amount_mismatch", "processor amount differs from order total",
			"order_id", order.ID, "reference", reference, "paid_minor", tx.Amount, "expected_minor", expected)
		return nil, fmt.Errorf("paid %d, expected %d: %w", tx.Amount, expected, apperr.ErrAmountMismatch)
	}

	settled, changed, err := s.orders.Settle(ctx, order.ID, domain.Settlement{
		Reference:     reference,
		TransactionID: transactionID(tx),
		Payload:       tx.Raw,
		PaidAt:        tx.PaidAt,
		Channel:       "verify",
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		OrderID:        settled.ID,
		Reference:      reference,
		Amount:         domain.FromMinor(tx.Amount),
		Status:         settled.Status,
		AlreadySettled: !changed,
	}, nil
}

// fetch retries the processor only while it is unreachable. Any answer it
// gives, including a refusal, is final.
func (s *Service) fetch(ctx context.Context, reference string) (*gateway.Transaction, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.VerifyAttempts-1)), ctx)

	var tx *gateway.Transaction
	op := func() error {
		var err error
		tx, err = s.processor.Verify(ctx, reference)
		if err != nil && !apperr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "processor unavailable, retrying verify",
			"reference", reference, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
	return tx, nil
}

func (s *Service) callbackURL(orderID string) string {
	if s.cfg.CallbackURL == "" {
		return ""
	}
	return strings.ReplaceAll(s.cfg.CallbackURL, OrderIDPlaceholder, url.PathEscape(orderID))
}

func (s *Service) securityReject(ctx context.Context, reason, msg string, args ...any) {
	s.metrics.SecurityReject(reason)
	slog.WarnContext(ctx, msg, append([]any{"security", true, "reason", reason}, args...)...)
}

func transactionID(tx *gateway.Transaction) string {
	if tx.ID == 0 {
		return ""
	}
	return strconv.FormatInt(tx.ID, 10)
}
