package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	outbox "github.com/velmie/txoutbox"
	"github.com/velmie/txoutbox/internal/config"
	"github.com/velmie/txoutbox/publish"
	"github.com/velmie/txoutbox/publish/kafkapub"
	"github.com/velmie/txoutbox/publish/natspub"
)

// wirePublishers registers a forwarder per configured broker for every type key. Without any
// broker the events are only logged.
func wirePublishers(cfg *config.Config, router *outbox.Router, typeKeys []string, logger outbox.Logger) (func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	breakerCfg := func(name string) publish.BreakerConfig {
		return publish.BreakerConfig{
			Name:                name,
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			Timeout:             cfg.Breaker.Timeout,
			Logger:              logger,
		}
	}
	forward := func(name string, publisher publish.Publisher) error {
		breaker, err := publish.NewBreaker(publisher, breakerCfg(name))
		if err != nil {
			return err
		}

		return publish.Forward(router, breaker, typeKeys...)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		writer := kafkapub.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() { _ = writer.Close() })

		publisher, err := kafkapub.New(writer)
		if err == nil {
			err = forward("kafka", publisher)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("wire kafka publisher: %w", err)
		}
		logger.Info("outbox forwarding to kafka", "topic", cfg.Kafka.Topic)
	}

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name("outbox-relay"))
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		closers = append(closers, conn.Close)

		publisher, err := natspub.New(conn, natspub.WithSubjectPrefix(cfg.NATS.SubjectPrefix))
		if err == nil {
			err = forward("nats", publisher)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("wire nats publisher: %w", err)
		}
		logger.Info("outbox forwarding to nats", "subject_prefix", cfg.NATS.SubjectPrefix)
	}

	if len(closers) == 0 {
		for _, key := range typeKeys {
			router.HandleFunc(key, logEvent(logger))
		}
	}

	return closeAll, nil
}

func logEvent(logger outbox.Logger) func(ctx context.Context, event outbox.Event) error {
	return func(ctx context.Context, event outbox.Event) error {
		id, _ := outbox.RecordIDFromContext(ctx)
		logger.Info("outbox event delivered", "id", id, "type_key", event.EventType())

		return nil
	}
}
