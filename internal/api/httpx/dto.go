package httpx

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/orderlog"
)

type CreateOrderRequest struct {
	Customer      domain.Customer      `json:"customer"`
	Items         []CreateOrderItemDTO `json:"items"`
	PaymentMethod string               `json:"payment_method"`
}

type CreateOrderItemDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type InitPaymentRequest struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	Phone   string          `json:"phone"`
}

type CreateProductRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
}

type OrderResponse struct {
	ID               string              `json:"id"`
	Customer         domain.Customer     `json:"customer"`
	Items            []OrderItemResponse `json:"items"`
	Total            string              `json:"total"`
	PaymentMethod    string              `json:"payment_method"`
	Status           string              `json:"status"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	AuthorizationURL string              `json:"authorization_url,omitempty"`
	TransactionID    string              `json:"transaction_id,omitempty"`
	FailureReason    string              `json:"failure_reason,omitempty"`
	PaymentData      json.RawMessage     `json:"payment_data,omitempty"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

type OrderItemResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  string `json:"subtotal"`
}

type OrderEventResponse struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Origin    string    `json:"origin"`
	Channel   string    `json:"channel,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Image       string `json:"image,omitempty"`
	Stock       int    `json:"stock"`
	Category    string `json:"category,omitempty"`
}

type WebhookResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func mapOrderToResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:               o.ID,
		Customer:         o.Customer,
		Items:            mapItems(o.Items),
		Total:            money(o.Total),
		PaymentMethod:    string(o.PaymentMethod),
		Status:           string(o.Status),
		PaymentReference: o.PaymentReference,
		AuthorizationURL: o.AuthorizationURL,
		TransactionID:    o.TransactionID,
		FailureReason:    o.FailureReason,
		PaymentData:      o.PaymentData,
		PaidAt:           o.PaidAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func mapOrders(orders []*domain.Order) []OrderResponse {
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = mapOrderToResponse(o)
	}
	return out
}

func mapItems(items []domain.OrderItem) []OrderItemResponse {
	out := make([]OrderItemResponse, len(items))
	for i, it := range items {
		out[i] = OrderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: money(it.UnitPrice),
			Quantity:  it.Quantity,
			Subtotal:  money(it.Subtotal()),
		}
	}
	return out
}

func mapEvents(entries []*orderlog.Entry) []OrderEventResponse {
	out := make([]OrderEventResponse, len(entries))
	for i, e := range entries {
		out[i] = OrderEventResponse{
			From:      e.FromStatus,
			To:        e.ToStatus,
			Origin:    e.Origin,
			Channel:   e.Channel,
			Detail:    e.Detail,
			TraceID:   e.TraceID,
			CreatedAt: e.CreatedAt,
		}
	}
	return out
}

func mapProduct(p *domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       money(p.Price),
		Image:       p.Image,
		Stock:       p.Stock,
		Category:    p.Category,
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
