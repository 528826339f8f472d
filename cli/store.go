package cli

import (
	"context"
	"fmt"

	"github.com/warp/warehouse-ledger/api"
	"github.com/warp/warehouse-ledger/config"
	"github.com/warp/warehouse-ledger/store/postgres"
	"github.com/warp/warehouse-ledger/store/sqlite"
	"github.com/warp/warehouse-ledger/warehouse/store"
)

// openStore opens the configured backend with migrations applied. The
// returned func releases it.
func openStore(ctx context.Context, cfg config.Config) (api.DataStore, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.Store.PostgresDSN, cfg.Store.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// migrateStore applies pending migrations and returns the versions applied.
func migrateStore(ctx context.Context, cfg config.Config) ([]int64, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return nil, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		return s.Migrate(ctx)
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.Store.PostgresDSN, cfg.Store.MaxConns)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		return s.Migrate(ctx)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
