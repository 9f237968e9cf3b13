package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderXRequestID          = "X-Request-Id"
	HeaderXIdempotencyKey     = "X-Idempotency-Key"
	HeaderXPaystackSignature  = "X-Paystack-Signature"
	HeaderIdempotencyReplayed = "Idempotency-Replayed"
)

// contextKey keeps our values from colliding with other packages' keys.
type contextKey string

const (
	ContextKeyRequestID      contextKey = "request_id"
	ContextKeyIdempotencyKey contextKey = "idempotency_key"
)

// maxIdempotencyKeyLen bounds client-chosen cache keys.
const maxIdempotencyKeyLen = 128

// AttachRequestMetadata copies the chi request id and the client's
// idempotency key into the context, and echoes the request id back.
// It must run after middleware.RequestID.
func AttachRequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		idempotencyKey := strings.TrimSpace(r.Header.Get(HeaderXIdempotencyKey))
		if len(idempotencyKey) > maxIdempotencyKeyLen {
			idempotencyKey = idempotencyKey[:maxIdempotencyKeyLen]
		}

		if requestID != "" {
			w.Header().Set(HeaderXRequestID, requestID)
		}

		ctx := context.WithValue(r.Context(), ContextKeyRequestID, requestID)
		ctx = context.WithValue(ctx, ContextKeyIdempotencyKey, idempotencyKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(ContextKeyIdempotencyKey).(string)
	return key
}
