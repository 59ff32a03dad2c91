package main

import (
	"context"
	"database/sql"
	"errors"
	"expvar"
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
	_ "github.com/lib/pq"

	"github.com/Vovarama1992/messenger-pos-bot/internal/ai"
	"github.com/Vovarama1992/messenger-pos-bot/internal/config"
	"github.com/Vovarama1992/messenger-pos-bot/internal/logger"
	"github.com/Vovarama1992/messenger-pos-bot/internal/messenger"
	"github.com/Vovarama1992/messenger-pos-bot/internal/ordering"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		stop()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. Startup failures are returned so
// deferred cleanup still runs.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)

	// --- DB ---
	var repo ordering.Repo
	if cfg.StoreEnabled() {
		db, err := openDB(cfg)
		if err != nil {
			return fmt.Errorf("db init: %w", err)
		}
		defer db.Close()

		if cfg.AutoMigrate {
			mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := ordering.Migrate(mctx, db)
			cancel()
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("schema applied")
		}

		repo = ordering.NewRepo(db)
	} else {
		log.Warn("DATABASE_URL not set, the bot will answer with the unavailable message")
	}

	if cfg.AppSecret == "" {
		log.Warn("FB_APP_SECRET not set, webhook signatures are not verified")
	}
	if cfg.PageAccessToken == "" {
		log.Warn("FB_PAGE_ACCESS_TOKEN not set, replies will not be delivered")
	}

	// --- AI matcher ---
	var matcher ordering.ItemMatcher
	if cfg.OpenAIAPIKey != "" {
		matcher = ai.NewMatcher(ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, log), ai.DefaultMinConfidence)
	}

	// --- Messenger wiring ---
	client := messenger.NewClient(cfg.GraphAPIBase, cfg.PageAccessToken, log)
	orderingService := ordering.NewService(repo, matcher, client, log)
	webhookHandler := messenger.NewHandler(orderingService, client, messenger.Options{
		VerifyToken: cfg.VerifyToken,
		AdminToken:  cfg.AdminToken,
		AppSecret:   cfg.AppSecret,
	}, log)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Hub-Signature", "X-Hub-Signature-256"},
	}))

	messenger.RegisterRoutes(r, webhookHandler)

	// --- health ---
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	r.Handle("/debug/vars", expvar.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDB(cfg config.Config) (*sql.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
