package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/pulse/server/internal/alerts"
	"github.com/obsidianstack/pulse/server/internal/api"
	"github.com/obsidianstack/pulse/server/internal/auth"
	"github.com/obsidianstack/pulse/server/internal/config"
	"github.com/obsidianstack/pulse/server/internal/receiver"
	"github.com/obsidianstack/pulse/server/internal/store"
	"github.com/obsidianstack/pulse/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	mintFor := flag.String("mint-token", "", "print a signed agent token for this agent name and exit (auth mode jwt)")
	mintTTL := flag.Duration("token-ttl", 0, "lifetime of a minted token; 0 never expires")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("pulse-collector starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	if *mintFor != "" {
		if err := mintToken(os.Stdout, cfg.Server.Auth, *mintFor, *mintTTL); err != nil {
			slog.Error("failed to mint token", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"dedup_ttl", cfg.Server.Dedup.TTL,
		"stream_interval", cfg.Server.Stream.Interval,
		"max_batch_bytes", cfg.Server.MaxBatchBytes,
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)
	if cfg.Server.Auth.Mode == "bearer" && cfg.Server.Auth.Token() == "" {
		slog.Warn("auth mode is bearer but the token variable is empty; batches are accepted unauthenticated",
			"token_env", cfg.Server.Auth.TokenEnv)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg.Server); err != nil {
		slog.Error("collector exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("pulse-collector stopped")
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	authMW, err := batchAuth(cfg.Auth)
	if err != nil {
		return err
	}

	// Record store with background TTL eviction of dedup IDs.
	st := store.New(cfg.Dedup.TTL, cfg.Dedup.Recent)

	// Alerts engine: evaluates rules after every stored batch.
	alertEngine := alerts.New(cfg.Alerts)

	// WebSocket hub: streams stats to dashboards.
	hub := ws.New(st, cfg.Stream.Interval)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.With(authMW).
		Post("/v1/batches", receiver.New(st, alertEngine, receiver.WithMaxBodyBytes(cfg.MaxBatchBytes)).ServeHTTP)
	r.Handle("/api/*", api.New(st, alertEngine))
	r.Get("/ws/stream", hub.ServeHTTP)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("pulse-collector shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("HTTP server shutdown", "err", err)
		}
		alertEngine.Wait()
		return nil
	})

	return g.Wait()
}

// batchAuth selects the middleware guarding POST /v1/batches.
func batchAuth(a config.AuthConfig) (func(http.Handler) http.Handler, error) {
	if a.Mode != "jwt" {
		return auth.Bearer(a.Mode, a.Token()), nil
	}
	v, err := auth.NewVerifier(a.Token())
	if err != nil {
		return nil, fmt.Errorf("auth mode jwt (%s): %w", a.TokenEnv, err)
	}
	return v.Middleware, nil
}

// mintToken writes a signed agent token to w. The agent sends it as its
// bearer token.
func mintToken(w io.Writer, a config.AuthConfig, agent string, ttl time.Duration) error {
	if a.Mode != "jwt" {
		return fmt.Errorf("server.auth.mode is %q, tokens can only be minted in jwt mode", a.Mode)
	}
	v, err := auth.NewVerifier(a.Token())
	if err != nil {
		return err
	}
	tok, err := v.Mint(agent, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}
