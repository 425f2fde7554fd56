package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/memstore"
	"github.com/dmitrymomot/clinicbilling/pkg/mongostore"
	"github.com/dmitrymomot/clinicbilling/pkg/pgstore"
)

const (
	driverMongo    = "mongo"
	driverPostgres = "postgres"
	driverMemory   = "memory"
)

// storeConfig selects the persistence backend.
type storeConfig struct {
	Driver   string `env:"STORE_DRIVER" envDefault:"mongo"`
	Mongo    mongostore.Config
	Postgres pgstore.Config
}

// billingStore is everything the billing core persists or looks up.
type billingStore interface {
	billing.RecordStore
	billing.FingerprintStore
	billing.Directory
	billing.PatientCounter
	billing.StorageMeter
	Ping(ctx context.Context) error
}

var (
	_ billingStore = (*mongostore.Store)(nil)
	_ billingStore = (*pgstore.Store)(nil)
	_ billingStore = (*memstore.Store)(nil)
)

type closeFunc func(ctx context.Context) error

func noopClose(context.Context) error { return nil }

// openStore connects the configured backend. With migrate set it also
// applies migrations (postgres) or creates indexes (mongo).
func openStore(ctx context.Context, cfg storeConfig, migrate bool, log *slog.Logger) (billingStore, closeFunc, error) {
	switch cfg.Driver {
	case driverMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		store := mongostore.New(client.Database(cfg.Mongo.Database))
		if migrate {
			if err := store.EnsureIndexes(ctx); err != nil {
				_ = client.Disconnect(ctx)
				return nil, nil, err
			}
			log.InfoContext(ctx, "mongo indexes ensured", slog.String("database", cfg.Mongo.Database))
		}
		return store, client.Disconnect, nil

	case driverPostgres:
		pool, err := pgstore.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := pgstore.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return pgstore.New(pool), func(context.Context) error {
			pool.Close()
			return nil
		}, nil

	case driverMemory:
		log.WarnContext(ctx, "using in-memory store; state is lost on exit")
		return memstore.New(), noopClose, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q (want %s, %s or %s)", cfg.Driver, driverMongo, driverPostgres, driverMemory)
	}
}
