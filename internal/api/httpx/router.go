package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/storefront/internal/api/httpx/middlewares"
)

type RouterConfig struct {
	AllowedOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// RequestTimeout bounds API handlers. The webhook route is exempt.
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP surface. The webhook route sits outside the
// timeout group and no middleware touches its body, so the signature is
// checked against the bytes the processor sent.
func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.AttachRequestMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middlewares.HeaderXIdempotencyKey, middlewares.HeaderXRequestID},
		ExposedHeaders: []string{middlewares.HeaderXRequestID, middlewares.HeaderIdempotencyReplayed},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		r.Post("/payments/webhook", handler.PaystackWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Get("/healthz", handler.Healthz)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", handler.ListProducts)
			r.Post("/", handler.CreateProduct)
			r.Get("/{id}", handler.GetProduct)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", handler.CreateOrder)
			r.Get("/", handler.ListOrders)
			r.Get("/lookup", handler.LookupOrders)
			r.Get("/{id}", handler.GetOrderByID)
			r.Get("/{id}/events", handler.OrderHistory)
			r.Patch("/{id}/status", handler.UpdateOrderStatus)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/init", handler.InitPayment)
			r.Get("/verify/{reference}", handler.VerifyPayment)
		})

		r.Get("/admin/stats", handler.Stats)
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	return otelhttp.NewHandler(r, "storefront",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
