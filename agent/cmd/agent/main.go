package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/pulse/agent/internal/buffer"
	"github.com/obsidianstack/pulse/agent/internal/config"
	"github.com/obsidianstack/pulse/agent/internal/ingest"
	"github.com/obsidianstack/pulse/agent/internal/metrics"
	"github.com/obsidianstack/pulse/agent/internal/scraper"
	"github.com/obsidianstack/pulse/agent/internal/security"
	"github.com/obsidianstack/pulse/agent/internal/transport"
)

// shutdownTimeout bounds the HTTP drain plus the final buffer flush.
const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("pulse-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Agent.Level())
	slog.Info("config loaded",
		"collector_url", cfg.Agent.CollectorURL,
		"listen_addr", cfg.Agent.ListenAddr,
		"batch_size", cfg.Agent.BatchSize,
		"flush_interval", cfg.Agent.FlushInterval,
		"breaker", cfg.Agent.Breaker.Enabled,
		"sources", len(cfg.Agent.Sources),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, cfg.Agent, &level); err != nil {
		slog.Error("agent exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("pulse-agent stopped")
}

func run(ctx context.Context, configPath string, cfg config.AgentConfig, level *slog.LevelVar) error {
	reg := metrics.New()

	client, err := transport.NewHTTPClient(cfg)
	if err != nil {
		return err
	}

	opts := []transport.Option{
		transport.WithRetryPolicy(transport.RetryPolicy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
		}),
		transport.WithStats(reg),
	}
	if ts := transport.TokenSourceFor(cfg.Auth); ts != nil {
		opts = append(opts, transport.WithTokenSource(ts))
	}

	var sender buffer.Sender = transport.New(cfg.CollectorURL, client, opts...)
	if cfg.Breaker.Enabled {
		sender = transport.NewBreaker(sender, transport.BreakerSettings{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
		})
	}

	buf := buffer.New(sender,
		buffer.WithBatchSize(cfg.BatchSize),
		buffer.WithFlushInterval(cfg.FlushInterval),
		buffer.WithStats(reg),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ingest.New(buf, reg.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var scrapers []*scraper.Scraper
	for _, src := range cfg.Sources {
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		scrapers = append(scrapers, s)
		slog.Info("registered source", "id", src.ID, "endpoint", src.Endpoint, "interval", src.Interval)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("ingest API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Scrapers are drained before the buffer closes so their last records
	// are part of the final flush.
	scrapeCtx, stopScrapers := context.WithCancel(gctx)
	defer stopScrapers()
	var scrapeWG sync.WaitGroup
	for _, s := range scrapers {
		s := s
		scrapeWG.Add(1)
		go func() {
			defer scrapeWG.Done()
			s.Run(scrapeCtx, buf)
		}()
	}

	if cfg.CertCheckInterval > 0 {
		g.Go(func() error {
			security.Monitor(gctx, cfg.CollectorURL, cfg.TLS.InsecureSkipVerify,
				cfg.CertCheckInterval, reg.SetCertDaysLeft)
			return nil
		})
	}

	// Only the log level is hot-reloadable; the delivery pipeline keeps its
	// startup settings.
	g.Go(func() error {
		err := config.Watch(gctx, configPath, func(updated *config.Config) {
			level.Set(updated.Agent.Level())
			slog.Info("config hot-reloaded", "log_level", updated.Agent.LogLevel)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("pulse-agent shutting down", "pending", buf.Len())

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		stopScrapers()
		scrapeWG.Wait()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("ingest API shutdown", "err", err)
		}
		if err := buf.Close(shutCtx); err != nil {
			slog.Warn("final flush did not deliver", "err", err, "dropped", buf.Len())
		}
		return nil
	})

	return g.Wait()
}
