package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

func NewConnection(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := SessionURL(cfg)
	if err != nil {
		return nil, err
	}

	db, err := telemetry.OpenPostgres(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := telemetry.ObservePool(db, otel.Meter("database")); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("observe pool: %w", err)
	}

	return db, nil
}
