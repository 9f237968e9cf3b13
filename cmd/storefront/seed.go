package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jcmexdev/storefront/internal/apperr"
	"github.com/jcmexdev/storefront/internal/config"
	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/pkg/telemetry"
	"github.com/jcmexdev/storefront/internal/storage/sqlite"
)

func seedCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load catalog products into the database",
		Long: `Load catalog products into the database. Products that already exist
are skipped.

Examples:
  storefront seed
  storefront seed --file catalog.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			telemetry.InitLogger(os.Stderr, cfg.Telemetry.LogLevel)

			products := defaultCatalog()
			if file != "" {
				if products, err = loadCatalog(file); err != nil {
					return err
				}
			}

			store, err := sqlite.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var created int
			for _, p := range products {
				err := store.CreateProduct(ctx, p)
				switch {
				case err == nil:
					created++
				case errors.Is(err, apperr.ErrValidation):
					slog.Warn("product skipped", "product_id", p.ID, "error", err)
				default:
					return fmt.Errorf("seed %s: %w", p.ID, err)
				}
			}
			slog.Info("catalog seeded", "created", created, "total", len(products), "db", cfg.Database.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML list of products")
	return cmd
}

func loadCatalog(path string) ([]*domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var products []*domain.Product
	if err := yaml.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for _, p := range products {
		if p.ID == "" || p.Name == "" || !p.Price.IsPositive() || p.Stock < 0 {
			return nil, fmt.Errorf("catalog %s: product %q is incomplete", path, p.ID)
		}
	}
	return products, nil
}

func defaultCatalog() []*domain.Product {
	return []*domain.Product{
		{ID: "ankara-tote", Name: "Ankara Tote Bag", Description: "Hand-sewn wax print tote.", Price: decimal.RequireFromString("45.00"), Stock: 12, Category: "bags"},
		{ID: "adire-scarf", Name: "Adire Silk Scarf", Description: "Indigo resist-dyed silk.", Price: decimal.RequireFromString("30.00"), Stock: 20, Category: "accessories"},
		{ID: "leather-sandals", Name: "Leather Sandals", Description: "Kano leather, unisex.", Price: decimal.RequireFromString("55.50"), Stock: 8, Category: "footwear"},
		{ID: "beaded-bracelet", Name: "Beaded Bracelet", Description: "Glass beads on waxed cord.", Price: decimal.RequireFromString("12.99"), Stock: 40, Category: "accessories"},
	}
}
