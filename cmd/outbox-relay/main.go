// Command outbox-relay delivers order events recorded in the outbox table.
//
// Events are forwarded to Kafka and/or NATS when configured, otherwise they are logged.
// Configuration comes from an optional YAML file with environment overrides; see
// internal/config for the keys. /metrics and /healthz are served on http.addr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	outbox "github.com/velmie/txoutbox"
	"github.com/velmie/txoutbox/internal/config"
	"github.com/velmie/txoutbox/internal/orders"
	"github.com/velmie/txoutbox/promoutbox"
	"github.com/velmie/txoutbox/redislease"
	"github.com/velmie/txoutbox/zaplog"
)

const (
	exitUsage       = 2
	shutdownTimeout = 10 * time.Second
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file; environment variables override it")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	zl, _, err := zaplog.New(zaplog.Config{Development: cfg.Log.Development, Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zaplog.Wrap(zl)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := promoutbox.New(promReg, "outbox")
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.close()

	registry := outbox.NewRegistry()
	if err := orders.RegisterEvents(registry); err != nil {
		return fmt.Errorf("register events: %w", err)
	}

	router := outbox.NewRouter()
	closePublishers, err := wirePublishers(cfg, router, registry.Keys(), logger)
	if err != nil {
		return err
	}
	defer closePublishers()

	opts := []outbox.RelayOption{
		outbox.WithBatchSize(cfg.Relay.BatchSize),
		outbox.WithPollInterval(cfg.Relay.PollInterval),
		outbox.WithIdleMultiplier(cfg.Relay.IdleMultiplier),
		outbox.WithWorkers(cfg.Relay.Workers),
		outbox.WithHandlerTimeout(cfg.Relay.HandlerTimeout),
		outbox.WithPendingInterval(cfg.Relay.PendingInterval),
		outbox.WithDeadLetterUnresolvable(cfg.Relay.DeadLetterUnresolvable),
		outbox.WithLogger(logger),
		outbox.WithMetrics(metrics),
	}
	if cfg.Relay.ErrorBackoff > 0 {
		opts = append(opts, outbox.WithErrorBackoff(cfg.Relay.ErrorBackoff, cfg.Relay.MaxErrorBackoff))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer func() { _ = client.Close() }()

		lease, err := redislease.New(client, redislease.WithKey(cfg.Redis.LeaseKey), redislease.WithTTL(cfg.Redis.LeaseTTL))
		if err != nil {
			return err
		}
		logger.Info("outbox relay lease enabled", "key", cfg.Redis.LeaseKey, "token", lease.Token())
		opts = append(opts, outbox.WithLease(lease))
	}

	relay := outbox.NewRelay(store.consumer, registry, router, opts...)

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           newAdminRouter(promReg, store.ping),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "addr", cfg.HTTP.Addr, "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return relay.Run(ctx)
}
