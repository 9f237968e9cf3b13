package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/order/ports"
)

const orderColumns = `
	id, customer_name, customer_email, customer_phone, customer_address,
	items, total, payment_method, payment_reference, authorization_url,
	transaction_id, status, payment_data, failure_reason,
	created_at, updated_at, paid_at`

func (s *Store) InsertOrder(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("sqlite: encode items for %q: %w", o.ID, err)
	}

	q := `INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var paidAt any
	if o.PaidAt != nil {
		paidAt = formatTime(*o.PaidAt)
	}

	_, err = s.db.ExecContext(ctx, q,
		o.ID,
		o.Customer.Name,
		o.Customer.Email,
		o.Customer.Phone,
		o.Customer.Address,
		string(items),
		o.Total.String(),
		string(o.PaymentMethod),
		nullableString(o.PaymentReference),
		nullableString(o.AuthorizationURL),
		nullableString(o.TransactionID),
		string(o.Status),
		nullableString(string(o.PaymentData)),
		o.FailureReason,
		formatTime(o.CreatedAt),
		formatTime(o.UpdatedAt),
		paidAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: insert order %q: %w", o.ID, apperr.ErrDuplicateReference)
		}
		return fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	o, err := scanOrder(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %q: %w", id, apperr.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order %q: %w", id, err)
	}
	return o, nil
}

func (s *Store) GetOrderByReference(ctx context.Context, reference string) (*domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE payment_reference = ?`

	o, err := scanOrder(s.db.QueryRowContext(ctx, q, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reference %q: %w", reference, apperr.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order by reference %q: %w", reference, err)
	}
	return o, nil
}

// ListOrders returns matching orders, newest first. Search is a
// case-insensitive substring match OR-ed across name, email, phone and address.
func (s *Store) ListOrders(ctx context.Context, f ports.OrderFilter) ([]*domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Email != "" {
		where = append(where, "customer_email = ? COLLATE NOCASE")
		args = append(args, f.Email)
	}
	if f.Phone != "" {
		where = append(where, "customer_phone = ?")
		args = append(args, f.Phone)
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Search)) + "%"
		where = append(where, `(lower(customer_name) LIKE ? ESCAPE '\'
			OR lower(customer_email) LIKE ? ESCAPE '\'
			OR lower(customer_phone) LIKE ? ESCAPE '\'
			OR lower(customer_address) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}

	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateStatus is a compare-and-set on status. Settlement columns use
// COALESCE so that even a racing writer can never overwrite a paid-at
// timestamp or payload that is already present.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, st *domain.Settlement, reason string) (bool, error) {
	const q = `
		UPDATE orders SET
			status            = ?,
			updated_at        = ?,
			failure_reason    = CASE WHEN ? <> '' THEN ? ELSE failure_reason END,
			paid_at           = COALESCE(paid_at, ?),
			payment_data      = COALESCE(payment_data, ?),
			transaction_id    = COALESCE(transaction_id, ?),
			payment_reference = COALESCE(payment_reference, ?)
		WHERE id = ? AND status = ?`

	var paidAt, payload, txID, ref any
	if st != nil {
		paidAt = formatTime(st.PaidAt)
		payload = nullableString(string(st.Payload))
		txID = nullableString(st.TransactionID)
		ref = nullableString(st.Reference)
	}

	res, err := s.db.ExecContext(ctx, q,
		string(to),
		formatTime(time.Now()),
		reason, reason,
		paidAt,
		payload,
		txID,
		ref,
		id,
		string(from),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("sqlite: update status %q: %w", id, apperr.ErrDuplicateReference)
		}
		return false, fmt.Errorf("sqlite: update status %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: update status %q: %w", id, err)
	}
	return n == 1, nil
}

func (s *Store) SetPaymentSession(ctx context.Context, id, reference, authorizationURL string) (bool, error) {
	const q = `
		UPDATE orders SET
			payment_reference = ?,
			authorization_url = ?,
			updated_at        = ?
		WHERE id = ? AND payment_reference IS NULL`

	res, err := s.db.ExecContext(ctx, q, reference, nullableString(authorizationURL), formatTime(time.Now()), id)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("sqlite: reference %q: %w", reference, apperr.ErrDuplicateReference)
		}
		return false, fmt.Errorf("sqlite: set payment session %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: set payment session %q: %w", id, err)
	}
	return n == 1, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                                 domain.Order
		items, total, method, status      string
		ref, authURL, txID, payload, paid sql.NullString
		createdAt, updatedAt              string
	)
	err := row.Scan(
		&o.ID,
		&o.Customer.Name,
		&o.Customer.Email,
		&o.Customer.Phone,
		&o.Customer.Address,
		&items,
		&total,
		&method,
		&ref,
		&authURL,
		&txID,
		&status,
		&payload,
		&o.FailureReason,
		&createdAt,
		&updatedAt,
		&paid,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("total %q: %w", total, err)
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.Status = domain.OrderStatus(status)
	o.PaymentReference = ref.String
	o.AuthorizationURL = authURL.String
	o.TransactionID = txID.String
	if payload.Valid {
		o.PaymentData = json.RawMessage(payload.String)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if o.PaidAt, err = parseNullTime(paid); err != nil {
		return nil, err
	}
	return &o, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
