// Package events publishes order status changes to NATS so that other
// systems (mailers, fulfilment) can react without polling. Subjects are
// <prefix>.<status>, e.g. orders.successful.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/order/ports"
)

const DefaultSubjectPrefix = "orders"

// msgPublisher is the part of *nats.Conn the publisher uses.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// StatusChanged is the message body.
type StatusChanged struct {
	OrderID       string               `json:"order_id"`
	Status        domain.OrderStatus   `json:"status"`
	Email         string               `json:"email"`
	Total         string               `json:"total"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Reference     string               `json:"payment_reference,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type Publisher struct {
	conn   msgPublisher
	prefix string
}

var _ ports.Publisher = (*Publisher)(nil)

func NewPublisher(conn msgPublisher, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Connect dials url and returns the connection with a Publisher over it.
// The caller owns the connection.
func Connect(url, name string) (*nats.Conn, *Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("events: connect to NATS at %s: %w", url, err)
	}
	return nc, NewPublisher(nc, DefaultSubjectPrefix), nil
}

// PublishStatus sends the order's current status. The active trace context
// travels in the message headers.
func (p *Publisher) PublishStatus(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("events: context done before publish: %w", err)
	}

	data, err := json.Marshal(StatusChanged{
		OrderID:       o.ID,
		Status:        o.Status,
		Email:         o.Customer.Email,
		Total:         o.Total.StringFixed(2),
		PaymentMethod: o.PaymentMethod,
		Reference:     o.PaymentReference,
		UpdatedAt:     o.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", o.ID, err)
	}

	msg := nats.NewMsg(p.Subject(o.Status))
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *Publisher) Subject(s domain.OrderStatus) string {
	return p.prefix + "." + string(s)
}
