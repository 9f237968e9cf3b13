package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/apperr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", SecretKey: "sk_test", Timeout: 200 * time.Millisecond}, nil)
}

func TestInitializeSendsMinorUnitsAndAuth(t *testing.T) {
	var got InitializeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.example/abc","access_code":"abc","reference":"ORD-1-5"}}`))
	})

	s, err := c.Initialize(context.Background(), InitializeRequest{
		Email:     "ada@example.com",
		Amount:    5000,
		Reference: "ORD-1-5",
		Metadata:  map[string]string{"name": "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/abc", s.AuthorizationURL)
	assert.Equal(t, "ORD-1-5", s.Reference)
	assert.Equal(t, int64(5000), got.Amount)
	assert.Equal(t, "Ada", got.Metadata["name"])
}

func TestInitializeErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "rejected",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
			},
			want: apperr.ErrGatewayInitFailed,
		},
		{
			name: "status false on 200",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
			},
			want: apperr.ErrGatewayInitFailed,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: apperr.ErrGatewayUnavailable,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			want: apperr.ErrGatewayUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, tt.handler)
			_, err := c.Initialize(context.Background(), InitializeRequest{Email: "a@b.c", Amount: 100, Reference: "r"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyKeepsRawPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ORD-1-5", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"id":4099260516,"status":"success","reference":"ORD-1-5","amount":5000,"currency":"NGN","channel":"card","paid_at":"2026-03-01T10:00:00.000Z","gateway_response":"Successful"}}`))
	})

	tx, err := c.Verify(context.Background(), "ORD-1-5")
	require.NoError(t, err)
	assert.True(t, tx.Succeeded())
	assert.Equal(t, int64(4099260516), tx.ID)
	assert.Equal(t, int64(5000), tx.Amount)
	assert.Equal(t, "card", tx.Channel)
	assert.Equal(t, 2026, tx.PaidAt.Year())
	assert.Contains(t, string(tx.Raw), `"gateway_response":"Successful"`)
}

func TestVerifyUnknownReference(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	})

	_, err := c.Verify(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrPaymentNotSuccessful)
}

func TestVerifyAbandonedIsNotSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"id":1,"status":"abandoned","reference":"r","amount":5000,"paid_at":null}}`))
	})

	tx, err := c.Verify(context.Background(), "r")
	require.NoError(t, err)
	assert.False(t, tx.Succeeded())
	assert.True(t, tx.PaidAt.IsZero())
}
