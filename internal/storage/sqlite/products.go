package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/order/domain"
)

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	const q = `
		INSERT INTO products (id, name, description, price, image, stock, category)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		p.ID, p.Name, p.Description, p.Price.String(), p.Image, p.Stock, p.Category)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: product %q already exists: %w", p.ID, apperr.ErrValidation)
		}
		return fmt.Errorf("sqlite: create product %q: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	const q = `
		SELECT id, name, description, price, image, stock, category
		FROM   products
		WHERE  id = ?`

	p, err := scanProduct(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %q: %w", id, apperr.ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get product %q: %w", id, err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	const q = `
		SELECT id, name, description, price, image, stock, category
		FROM   products
		ORDER  BY category, name`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list products: %w", err)
	}
	defer rows.Close()

	var out []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DecrementStock is the single atomic "decrement if >= qty" statement. When
// no row changes it looks the product up once more only to tell a missing
// product from an insufficient one.
func (s *Store) DecrementStock(ctx context.Context, productID string, qty int) error {
	const q = `UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`

	res, err := s.db.ExecContext(ctx, q, qty, productID, qty)
	if err != nil {
		return fmt.Errorf("sqlite: decrement stock %q: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: decrement stock %q: %w", productID, err)
	}
	if n == 1 {
		return nil
	}

	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s: requested %d, available %d: %w", p.Name, qty, p.Stock, apperr.ErrInsufficientStock)
}

func (s *Store) RestoreStock(ctx context.Context, productID string, qty int) error {
	const q = `UPDATE products SET stock = stock + ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, q, qty, productID)
	if err != nil {
		return fmt.Errorf("sqlite: restore stock %q: %w", productID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %q: %w", productID, apperr.ErrProductNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var price string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Image, &p.Stock, &p.Category); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", price, err)
	}
	p.Price = d
	return &p, nil
}
