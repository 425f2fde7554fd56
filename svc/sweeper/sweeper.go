package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// Config controls the repair schedule.
type Config struct {
	Schedule  string `env:"SWEEPER_SCHEDULE" envDefault:"*/15 * * * *"`
	BatchSize int    `env:"SWEEPER_BATCH_SIZE" envDefault:"100"`
}

// Store is the part of billing.RecordStore the sweeper needs.
type Store interface {
	ListExpiredPaid(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	RepairPlan(ctx context.Context, tenantID uuid.UUID, now time.Time) error
}

// Counter receives the number of repaired records.
type Counter interface {
	PlansRepaired(n int)
}

// ErrInvalidSchedule is returned by Run when the cron expression does not parse.
var ErrInvalidSchedule = errors.New("sweeper: invalid cron schedule")

const defaultBatchSize = 100

// Sweeper repairs expired paid plans in batches.
type Sweeper struct {
	store   Store
	cfg     Config
	counter Counter
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithCounter reports repaired records to c after each run.
func WithCounter(c Counter) Option {
	return func(s *Sweeper) { s.counter = c }
}

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used to decide expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Sweeper.
func New(store Store, cfg Config, opts ...Option) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	s := &Sweeper{
		store: store,
		cfg:   cfg,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("sweeper"))
	return s
}

// RunOnce repairs every qualifying record and returns how many were repaired.
// A failed repair is logged and skipped; the run ends once a listing yields
// no record it has not already tried.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	var (
		repaired int
		failures []error
		seen     = make(map[uuid.UUID]struct{})
	)

	for {
		limit := s.cfg.BatchSize + len(failures)
		ids, err := s.store.ListExpiredPaid(ctx, now, limit)
		if err != nil {
			return repaired, fmt.Errorf("list expired plans: %w", err)
		}

		fresh := 0
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh++
			if err := s.store.RepairPlan(ctx, id, now); err != nil {
				failures = append(failures, fmt.Errorf("repair %s: %w", id, err))
				s.log.ErrorContext(ctx, "plan repair failed", logger.TenantID(id), logger.Error(err))
				continue
			}
			repaired++
		}

		if fresh == 0 || len(ids) < limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
	}

	if s.counter != nil && repaired > 0 {
		s.counter.PlansRepaired(repaired)
	}
	if repaired > 0 || len(failures) > 0 {
		s.log.InfoContext(ctx, "expired plans repaired",
			slog.Int("repaired", repaired),
			slog.Int("failed", len(failures)),
		)
	}
	return repaired, errors.Join(failures...)
}

// Run executes RunOnce on the configured schedule until ctx is cancelled.
// Overlapping runs are skipped.
func (s *Sweeper) Run(ctx context.Context) error {
	cl := cronLogger{log: s.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	_, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.ErrorContext(ctx, "sweep finished with errors", logger.Error(err))
		}
	})
	if err != nil {
		return errors.Join(ErrInvalidSchedule, err)
	}

	s.log.InfoContext(ctx, "sweeper started", slog.String("schedule", s.cfg.Schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("sweeper stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, logger.Error(err))...)
}
