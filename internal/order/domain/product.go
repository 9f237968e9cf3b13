package domain

import "github.com/shopspring/decimal"

type Product struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Price       decimal.Decimal `json:"price" yaml:"price"`
	Image       string          `json:"image" yaml:"image"`
	Stock       int             `json:"stock" yaml:"stock"`
	Category    string          `json:"category,omitempty" yaml:"category"`
}
