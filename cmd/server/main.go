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
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/fees"
	"github.com/investsim/portfolio-engine/internal/metrics"
	"github.com/investsim/portfolio-engine/internal/portfolio"
	"github.com/investsim/portfolio-engine/internal/quote"
	"github.com/investsim/portfolio-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// Optional Redis client, shared by the store and quote caches.
	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store

	switch {
	case os.Getenv("DATABASE_URL") != "":
		pool, err := store.NewPostgresPool(context.Background(), os.Getenv("DATABASE_URL"))
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis account cache enabled")
		}

	case os.Getenv("SQLITE_PATH") != "":
		sq, err := store.OpenSQLiteStore(os.Getenv("SQLITE_PATH"))
		if err != nil {
			slog.Error("sqlite open failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { sq.Close() })
		st = sq
		slog.Info("using SQLite store", "path", os.Getenv("SQLITE_PATH"))

	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Quote source ---
	var quotes quote.Source
	if quoteURL := os.Getenv("QUOTE_URL"); quoteURL != "" {
		quotes = quote.NewHTTPSource(quoteURL, 5*time.Second)
		if rdb != nil {
			quotes = quote.NewCachedSource(quotes, rdb, 10*time.Second)
			slog.Info("Redis quote cache enabled")
		}
		slog.Info("using HTTP quote source", "url", quoteURL)
	} else {
		slog.Warn("QUOTE_URL not set, using static development quotes")
		quotes = quote.NewStaticSource(map[string]decimal.Decimal{
			"AAPL": decimal.NewFromFloat(187.25),
			"TSLA": decimal.NewFromFloat(241.80),
			"NVDA": decimal.NewFromFloat(116.40),
			"2330": decimal.NewFromFloat(1045.00),
		})
	}

	// --- Default starting cash ---
	initialCash := decimal.NewFromInt(1000000)
	if raw := os.Getenv("INITIAL_CASH"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.LessThanOrEqual(decimal.Zero) {
			slog.Error("invalid INITIAL_CASH", "value", raw)
			os.Exit(1)
		}
		initialCash = parsed
	}

	// --- WebSocket hub ---
	wsHub := portfolio.NewWSHub()
	go wsHub.Run()

	// --- Portfolio service ---
	svc := portfolio.NewService(st, fees.NewDefaultCalculator(), quotes, wsHub, initialCash)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade updates.
		r.Get("/ws", wsHub.HandleWS)

		// Account management and queries.
		r.Post("/accounts", svc.CreateAccount)
		r.Get("/accounts/{accountID}", svc.GetAccount)
		r.Get("/accounts/{accountID}/holdings", svc.GetHoldings)
		r.Get("/accounts/{accountID}/valuation", svc.GetValuation)
		r.Get("/accounts/{accountID}/transactions", svc.GetTransactions)
		r.Get("/accounts/{accountID}/risk", svc.GetRiskMetrics)
		r.Get("/accounts/{accountID}/sell-check", svc.CheckSellFeasibility)

		// Trade execution.
		r.Post("/trade", svc.ExecuteTrade)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", port)
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

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}
