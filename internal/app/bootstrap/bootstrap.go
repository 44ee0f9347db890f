// Package bootstrap builds the collaborators shared by the API server and
// the ledgerctl admin tool.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splax/creditledger/internal/app/migrate"
	"github.com/splax/creditledger/internal/payment/stripe"
	"github.com/splax/creditledger/internal/repository"
	"github.com/splax/creditledger/internal/repository/memory"
	"github.com/splax/creditledger/internal/repository/mongo"
	"github.com/splax/creditledger/internal/repository/postgres"
	"github.com/splax/creditledger/internal/repository/sqlite"
	"github.com/splax/creditledger/pkg/config"
)

// OpenStore connects the backend named by cfg.StoreDriver. Postgres schemas
// are migrated with goose when cfg.AutoMigrate is set; the other backends
// bring their own schema.
func OpenStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case config.StoreDriverPostgres, "":
		if cfg.AutoMigrate {
			if err := MigratePostgres(ctx, cfg, log); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool), nil
	case config.StoreDriverMongo:
		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		return store, nil
	case config.StoreDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreDriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// MigratePostgres applies pending goose migrations.
func MigratePostgres(ctx context.Context, cfg config.APIConfig, log *slog.Logger) error {
	runner, err := migrate.New(cfg.DatabaseURL, migrate.Source(cfg.MigrationsDir), log)
	if err != nil {
		return fmt.Errorf("configure migrations: %w", err)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		return err
	}
	return runner.Ensure(ctx)
}

// NewProcessor builds the Stripe payment processor from cfg.
func NewProcessor(cfg config.APIConfig, log *slog.Logger) (*stripe.Processor, error) {
	return stripe.New(cfg.StripeSecretKey, stripe.Options{
		MaxRetries: int64(cfg.StripeMaxRetries),
		Logger:     log,
	})
}
