package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/api"
	"github.com/atmx/market-engine/internal/config"
	"github.com/atmx/market-engine/internal/coordinator"
	"github.com/atmx/market-engine/internal/metrics"
	"github.com/atmx/market-engine/internal/store"
	"github.com/atmx/market-engine/internal/trade"
)

func main() {
	cfg, err := config.Load(os.Getenv("MARKETENGINE_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Postgres.DSN != "" {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Postgres.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			slog.Error("invalid postgres dsn", "err", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.Postgres.PoolMaxConns)
		poolCfg.MinConns = int32(cfg.Postgres.PoolMinConns)

		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Redis.TTLSecond)*time.Second)
			slog.Info("Redis read-through cache enabled")
		}
	} else {
		slog.Warn("postgres.dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Trading core ---
	takerFeeRate, err := decimal.NewFromString(cfg.Trading.TakerFeeRate)
	if err != nil {
		slog.Error("invalid trading.taker_fee_rate", "err", err)
		os.Exit(1)
	}
	maxQuantity, err := decimal.NewFromString(cfg.Trading.MaxQuantity)
	if err != nil {
		slog.Error("invalid trading.max_quantity", "err", err)
		os.Exit(1)
	}
	minPrice, err := decimal.NewFromString(cfg.Trading.MinPrice)
	if err != nil {
		slog.Error("invalid trading.min_price", "err", err)
		os.Exit(1)
	}
	maxPrice, err := decimal.NewFromString(cfg.Trading.MaxPrice)
	if err != nil {
		slog.Error("invalid trading.max_price", "err", err)
		os.Exit(1)
	}

	coord := coordinator.New(st, coordinator.Config{
		TakerFeeRate:    takerFeeRate,
		MinPrice:        minPrice,
		MaxPrice:        maxPrice,
		MaxQuantity:     maxQuantity,
		SystemAccountID: cfg.Trading.SystemAccountID,
	})

	recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	recoverErr := coord.Recover(recoverCtx)
	cancel()
	if recoverErr != nil {
		slog.Error("startup recovery failed", "err", recoverErr)
		os.Exit(1)
	}
	slog.Info("order books recovered from storage")

	svc := api.New(coord, st)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	tradeSvc := trade.NewService(svc, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(time.Duration(cfg.Server.ReadTimeoutS) * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time book/trade broadcasts.
		r.Get("/ws", wsHub.HandleWS)

		r.Post("/orders", tradeSvc.PlaceOrder)
		r.Post("/orders/{orderID}/cancel", tradeSvc.CancelOrder)

		r.Post("/markets/{marketID}/cancel", tradeSvc.CancelMarket)
		r.Post("/markets/{marketID}/resolve", tradeSvc.ResolveMarket)
		r.Get("/markets/{marketID}/book/{outcome}", tradeSvc.MarketSnapshot)

		r.Get("/portfolio/{userID}", tradeSvc.Portfolio)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutS) * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}
