package httpx

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/order/domain"
)

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	out := make([]ProductResponse, len(products))
	for i, p := range products {
		out[i] = mapProduct(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapProduct(p))
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := &domain.Product{
		ID:          strings.TrimSpace(req.ID),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       req.Price,
		Image:       req.Image,
		Stock:       req.Stock,
		Category:    req.Category,
	}
	if err := validateProduct(p); err != nil {
		writeAppError(w, r, err)
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	if err := h.products.CreateProduct(r.Context(), p); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapProduct(p))
}

func validateProduct(p *domain.Product) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("name is required: %w", apperr.ErrValidation)
	case !p.Price.IsPositive():
		return fmt.Errorf("price must be positive: %w", apperr.ErrValidation)
	case p.Stock < 0:
		return fmt.Errorf("stock cannot be negative: %w", apperr.ErrValidation)
	}
	if _, err := domain.ToMinor(p.Price); err != nil {
		return fmt.Errorf("price: %v: %w", err, apperr.ErrValidation)
	}
	return nil
}
