package main

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	outbox "github.com/velmie/txoutbox"
	"github.com/velmie/txoutbox/gormstore"
	"github.com/velmie/txoutbox/internal/config"
	"github.com/velmie/txoutbox/mysql"
)

type storeHandle struct {
	consumer outbox.Consumer
	ping     func(ctx context.Context) error
	close    func()
}

func openStore(ctx context.Context, cfg config.Store) (*storeHandle, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)
	default:
		return openMySQL(ctx, cfg)
	}
}

func openMySQL(ctx context.Context, cfg config.Store) (*storeHandle, error) {
	db, err := mysql.Open(cfg.DSN)
	if err != nil {
		return nil, err
	}

	store, err := mysql.NewStore(db, mysql.WithTable(cfg.Table), mysql.WithMaxRetries(cfg.MaxRetries))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init mysql store: %w", err)
	}
	if cfg.Migrate {
		schema, err := mysql.Schema(store.Table())
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create outbox table: %w", err)
		}
	}

	return &storeHandle{
		consumer: store,
		ping:     db.PingContext,
		close:    func() { _ = db.Close() },
	}, nil
}

func openPostgres(ctx context.Context, cfg config.Store) (*storeHandle, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	store, err := gormstore.NewStore(db, gormstore.WithTable(cfg.Table), gormstore.WithMaxRetries(cfg.MaxRetries))
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	return &storeHandle{
		consumer: store,
		ping:     sqlDB.PingContext,
		close:    func() { _ = sqlDB.Close() },
	}, nil
}
