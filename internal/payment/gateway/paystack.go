// Package gateway is the HTTP client for the hosted payment processor
// (Paystack's /transaction API). It knows the processor's wire format and
// error shapes and nothing about orders.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/pkg/metrics"
)

// maxResponseBytes caps how much of a processor response is read.
const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Client talks to the processor. It is safe for concurrent use.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	metrics *metrics.Metrics
}

// New returns a Client whose outbound requests carry trace context and are
// bounded by cfg.Timeout. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.SecretKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: m,
	}
}

type InitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"` // minor units
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Session struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is the processor's view of a payment. Raw holds the data
// object exactly as received.
type Transaction struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Channel   string    `json:"channel"`
	PaidAt    time.Time `json:"paid_at"`
	Message   string    `json:"gateway_response"`

	Raw json.RawMessage `json:"-"`
}

// Succeeded reports whether the processor considers the payment complete.
func (t *Transaction) Succeeded() bool {
	return t.Status == "success"
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize opens a hosted payment session.
//
// A timeout, transport error or 5xx is ErrGatewayUnavailable. A 4xx or a
// response with status=false is ErrGatewayInitFailed.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode initialize: %w", err)
	}

	env, err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, apperr.ErrGatewayInitFailed)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return nil, fmt.Errorf("gateway: decode session: %v: %w", err, apperr.ErrGatewayInitFailed)
	}
	if s.AuthorizationURL == "" {
		return nil, fmt.Errorf("gateway: session without authorization url: %w", apperr.ErrGatewayInitFailed)
	}
	if s.Reference == "" {
		s.Reference = req.Reference
	}
	return &s, nil
}

// Verify fetches the final state of a transaction. A 4xx (unknown
// reference) is ErrPaymentNotSuccessful; unavailability is reported as in
// Initialize. A successful call does not mean the payment succeeded; check
// Transaction.Succeeded.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	path := "/transaction/verify/" + url.PathEscape(reference)
	env, err := c.do(ctx, "verify", http.MethodGet, path, nil, apperr.ErrPaymentNotSuccessful)
	if err != nil {
		return nil, err
	}

	var tx Transaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("gateway: decode transaction %q: %w", reference, err)
	}
	tx.Raw = env.Data
	return &tx, nil
}

// do performs one request. rejected is the error reported when the
// processor answers but refuses the request.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, rejected error) (env *envelope, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = apperr.Kind(err)
		}
		c.metrics.ObserveGateway(op, result, time.Since(start))
	}()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("gateway: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("gateway: %s: %w", op, err)
		}
		return nil, fmt.Errorf("gateway: %s: %v: %w", op, err, apperr.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway: %s: read body: %v: %w", op, err, apperr.ErrGatewayUnavailable)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("gateway: %s: processor returned %d: %w", op, resp.StatusCode, apperr.ErrGatewayUnavailable)
	}

	env = &envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("gateway: %s: undecodable response (%d): %v: %w", op, resp.StatusCode, err, apperr.ErrGatewayUnavailable)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		return nil, fmt.Errorf("gateway: %s: %d %q: %w", op, resp.StatusCode, env.Message, rejected)
	}
	return env, nil
}
