package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/storefront/internal/api/httpx"
	"github.com/jcmexdev/storefront/internal/config"
	"github.com/jcmexdev/storefront/internal/order/app"
	"github.com/jcmexdev/storefront/internal/order/ports"
	payapp "github.com/jcmexdev/storefront/internal/payment/app"
	"github.com/jcmexdev/storefront/internal/payment/gateway"
	"github.com/jcmexdev/storefront/internal/payment/webhook"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
	"github.com/jcmexdev/storefront/internal/pkg/events"
	"github.com/jcmexdev/storefront/internal/pkg/metrics"
	"github.com/jcmexdev/storefront/internal/pkg/telemetry"
	"github.com/jcmexdev/storefront/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			telemetry.InitLogger(os.Stderr, cfg.Telemetry.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	shutdownTracer := telemetry.NoopShutdown
	if cfg.Telemetry.TracingEnabled {
		shutdown, err := telemetry.SetupTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("initialise tracer: %w", err)
		}
		shutdownTracer = shutdown
	} else {
		telemetry.InstallPropagator()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()

	var c cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis.Addr, "storefront")
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			slog.Warn("redis unreachable at startup, continuing without it until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		c = redisCache
	}

	var publisher ports.Publisher
	if cfg.NATS.URL != "" {
		conn, pub, err := events.Connect(cfg.NATS.URL, cfg.Telemetry.ServiceName)
		if err != nil {
			return err
		}
		defer conn.Drain()
		publisher = pub
	}

	engine := app.NewEngine(store, store, store, publisher, m)
	client := gateway.New(gateway.Config{
		BaseURL:   cfg.Paystack.BaseURL,
		SecretKey: cfg.Paystack.SecretKey,
		Timeout:   cfg.Paystack.Timeout,
	}, m)

	handler := httpx.NewHandler(httpx.Deps{
		Engine:   engine,
		Lookup:   app.NewLookup(engine, store),
		Products: store,
		Payments: payapp.NewService(engine, client, payapp.Config{CallbackURL: cfg.Paystack.CallbackURL}, m),
		Webhooks: webhook.NewReconciler(engine, webhook.Config{Secret: cfg.WebhookSecret()}, c, m),
		Cache:    c,
		Health:   store.Ping,

		MaxWebhookBytes: cfg.HTTP.MaxWebhookBytes,
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpx.NewRouter(handler, httpx.RouterConfig{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Metrics:        m.Handler(),
			RequestTimeout: cfg.HTTP.WriteTimeout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("storefront HTTP server running", "addr", srv.Addr, "tracing", cfg.Telemetry.TracingEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
