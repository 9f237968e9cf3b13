package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/storefront/internal/api/httpx/middlewares"
	"github.com/jcmexdev/storefront/internal/order/app"
	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/order/ports"
	payapp "github.com/jcmexdev/storefront/internal/payment/app"
	"github.com/jcmexdev/storefront/internal/payment/webhook"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
)

// idempotencyTTL is how long an X-Idempotency-Key maps to its order.
const idempotencyTTL = 24 * time.Hour

// Deps are the services the handlers call. Cache and Health may be nil.
type Deps struct {
	Engine   *app.Engine
	Lookup   *app.Lookup
	Products ports.ProductStore
	Payments *payapp.Service
	Webhooks *webhook.Reconciler
	Cache    cache.Cache
	Health   func(ctx context.Context) error

	// MaxWebhookBytes caps the notification body. Zero means 1 MiB.
	MaxWebhookBytes int64
}

// Handler serves the storefront's HTTP API.
type Handler struct {
	engine          *app.Engine
	lookup          *app.Lookup
	products        ports.ProductStore
	payments        *payapp.Service
	webhooks        *webhook.Reconciler
	cache           cache.Cache // nil-safe
	health          func(ctx context.Context) error
	maxWebhookBytes int64
}

func NewHandler(d Deps) *Handler {
	limit := d.MaxWebhookBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	return &Handler{
		engine:          d.Engine,
		lookup:          d.Lookup,
		products:        d.Products,
		payments:        d.Payments,
		webhooks:        d.Webhooks,
		cache:           d.Cache,
		health:          d.Health,
		maxWebhookBytes: limit,
	}
}

// CreateOrder reserves stock and persists a processing order. With an
// X-Idempotency-Key header a replay returns the order created the first time.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	idempKey := middlewares.IdempotencyKey(ctx)
	if prior := h.replayedOrder(ctx, idempKey); prior != nil {
		w.Header().Set(middlewares.HeaderIdempotencyReplayed, "true")
		writeJSON(w, http.StatusOK, mapOrderToResponse(prior))
		return
	}

	items := make([]app.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, app.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	slog.InfoContext(ctx, "creating order",
		"request_id", middlewares.RequestID(ctx),
		"items", len(items),
		"email", req.Customer.Email,
	)

	order, err := h.engine.Create(ctx, app.CreateOrderInput{
		Customer:      req.Customer,
		Items:         items,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	h.rememberOrder(ctx, idempKey, order.ID)
	writeJSON(w, http.StatusCreated, mapOrderToResponse(order))
}

func (h *Handler) replayedOrder(ctx context.Context, key string) *domain.Order {
	if key == "" || h.cache == nil {
		return nil
	}
	id, err := h.cache.Get(ctx, h.cache.GenerateKey("orders", key))
	if err != nil {
		slog.WarnContext(ctx, "idempotency lookup failed", "error", err)
		return nil
	}
	if id == "" {
		return nil
	}
	o, err := h.lookup.ByID(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "idempotency key points at a missing order", "order_id", id, "error", err)
		return nil
	}
	return o
}

func (h *Handler) rememberOrder(ctx context.Context, key, orderID string) {
	if key == "" || h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, h.cache.GenerateKey("orders", key), orderID, idempotencyTTL); err != nil {
		slog.WarnContext(ctx, "idempotency write failed", "order_id", orderID, "error", err)
	}
}

// GetOrderByID is the customer-facing order page; the raw processor payload
// is not included.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	order, err := h.lookup.ByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

// ListOrders is the admin list: ?status=&search=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.lookup.List(r.Context(), app.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrders(orders))
}

// LookupOrders is the customer history page: ?email= or ?phone=.
func (h *Handler) LookupOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.lookup.ByCustomer(r.Context(), q.Get("email"), q.Get("phone"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrders(orders))
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	order, err := h.engine.Transition(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.lookup.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapEvents(entries))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.lookup.Stats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
