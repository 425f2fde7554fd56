package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/config"
	"github.com/dmitrymomot/clinicbilling/pkg/httpserver"
	"github.com/dmitrymomot/clinicbilling/pkg/journal"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/metrics"
	"github.com/dmitrymomot/clinicbilling/pkg/notify"
	"github.com/dmitrymomot/clinicbilling/pkg/usage"
	"github.com/dmitrymomot/clinicbilling/svc/api"
	"github.com/dmitrymomot/clinicbilling/svc/sweeper"
)

type serveConfig struct {
	Store   storeConfig
	Paddle  billing.PaddleConfig
	Catalog billing.CatalogConfig
	HTTP    httpserver.Config
	Email   notify.EmailConfig
	Redis   notify.RedisConfig
	Journal journal.Config
	S3      usage.S3Config
	Sweeper sweeper.Config
}

const drainTimeout = 30 * time.Second

func newServeCmd(rt *runtime) *cobra.Command {
	var withSweeper bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the billing HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load[serveConfig]()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), rt, cfg, withSweeper)
		},
	}
	cmd.Flags().BoolVar(&withSweeper, "sweeper", true, "run the expiry sweeper in this process")
	return cmd
}

func serve(ctx context.Context, rt *runtime, cfg serveConfig, withSweeper bool) error {
	log := rt.log
	var cleanup []func(context.Context) error
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		for i := len(cleanup) - 1; i >= 0; i-- {
			if err := cleanup[i](drainCtx); err != nil {
				log.ErrorContext(drainCtx, "shutdown step failed", logger.Error(err))
			}
		}
	}()

	store, closeStore, err := openStore(ctx, cfg.Store, false, log)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)

	catalog, err := billing.NewCatalogFromConfig(cfg.Catalog)
	if err != nil {
		return err
	}
	paddle, err := billing.NewPaddleProcessor(cfg.Paddle)
	if err != nil {
		return err
	}
	collector := metrics.New("")
	apiOpts := []api.Option{
		api.WithLogger(log),
		api.WithMetrics(collector, collector.Handler()),
		api.WithReadinessCheck("store", store.Ping),
	}

	// Storage usage comes from the bucket when files live in S3.
	var meter billing.StorageMeter = store
	if cfg.S3.Bucket != "" {
		s3Meter, err := usage.NewS3Meter(ctx, cfg.S3)
		if err != nil {
			return err
		}
		meter = s3Meter
		log.InfoContext(ctx, "storage usage measured from s3", slog.String("bucket", cfg.S3.Bucket))
	}

	var events billing.Journal = journal.Noop{}
	if cfg.Journal.Enabled() {
		client, err := journal.Connect(ctx, cfg.Journal)
		if err != nil {
			return err
		}
		j := journal.NewOpenSearch(client, cfg.Journal.IndexPrefix)
		events = j
		apiOpts = append(apiOpts,
			api.WithEventLog(j),
			api.WithReadinessCheck("opensearch", journal.Healthcheck(client)),
		)
	}

	dispatcher, err := newDispatcher(ctx, cfg, log, &cleanup, &apiOpts)
	if err != nil {
		return err
	}
	apiOpts = append(apiOpts, api.WithNotifier(dispatcher))

	gate := billing.NewGate(store, catalog,
		billing.WithPatientCounter(store),
		billing.WithStorageMeter(meter),
		billing.WithGateObserver(collector),
		billing.WithGateLogger(log),
	)
	orchestrator := billing.NewOrchestrator(paddle, store, catalog,
		billing.WithOrchestratorObserver(collector),
		billing.WithOrchestratorLogger(log),
	)
	reconciler := billing.NewReconciler(paddle, paddle, store, billing.NewLedger(store), store, catalog,
		billing.WithJournal(events),
		billing.WithReconcilerObserver(collector),
		billing.WithReconcilerLogger(log),
	)

	handler := api.New(reconciler, gate, orchestrator, apiOpts...).Router()
	server := httpserver.New(cfg.HTTP, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, handler) })
	if withSweeper {
		sw := sweeper.New(store, cfg.Sweeper, sweeper.WithCounter(collector), sweeper.WithLogger(log))
		g.Go(func() error { return sw.Run(gctx) })
	}
	return g.Wait()
}

// newDispatcher picks the email sender and claim store. Without Postmark
// tokens mail is written to disk; without Redis claims live in memory.
func newDispatcher(ctx context.Context, cfg serveConfig, log *slog.Logger, cleanup *[]func(context.Context) error, apiOpts *[]api.Option) (*notify.Dispatcher, error) {
	var sender notify.Sender
	if cfg.Email.UsePostmark() {
		pm, err := notify.NewPostmarkSender(cfg.Email)
		if err != nil {
			return nil, err
		}
		sender = pm
	} else {
		log.WarnContext(ctx, "postmark is not configured; emails are written to disk", slog.String("dir", cfg.Email.DevOutputDir))
		sender = notify.NewDevSender(cfg.Email.DevOutputDir)
	}

	var claims notify.Claims = notify.NewMemoryClaims()
	if cfg.Redis.ConnectionURL != "" {
		rdb, err := notify.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		claims = notify.NewRedisClaims(rdb)
		*cleanup = append(*cleanup, closeRedis(rdb))
		*apiOpts = append(*apiOpts, api.WithReadinessCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	d := notify.NewDispatcher(sender,
		notify.WithClaims(claims),
		notify.WithClaimTTL(cfg.Redis.ClaimTTL),
		notify.WithConcurrency(cfg.Email.Concurrency),
		notify.WithLogger(log),
	)
	// Registered after redis so pending sends drain before the client closes.
	*cleanup = append(*cleanup, d.Shutdown)
	return d, nil
}

func closeRedis(rdb *redis.Client) func(context.Context) error {
	return func(context.Context) error {
		if err := rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
		return nil
	}
}
