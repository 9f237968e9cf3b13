package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentHostedGateway  PaymentMethod = "paystack"
	PaymentCashOnDelivery PaymentMethod = "cod"
	PaymentOther          PaymentMethod = "other"
)

// Valid reports whether m is one of the accepted payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentHostedGateway, PaymentCashOnDelivery, PaymentOther:
		return true
	}
	return false
}

// Customer is a free-form snapshot taken when the order is placed.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// OrderItem snapshots the product name and unit price at creation time, so
// later catalog edits never change a historical order.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID               string
	Customer         Customer
	Items            []OrderItem
	Total            decimal.Decimal
	PaymentMethod    PaymentMethod
	PaymentReference string
	AuthorizationURL string
	TransactionID    string
	Status           OrderStatus
	PaymentData      json.RawMessage
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}

// CalculateTotal sums the item subtotals.
func CalculateTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Settlement is what a verified payment writes onto an order. It is applied
// only by the transition that moves the order into StatusSuccessful.
type Settlement struct {
	Reference     string
	TransactionID string
	Payload       json.RawMessage
	PaidAt        time.Time
	Channel       string
}
