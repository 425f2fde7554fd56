package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// Dispatcher renders and sends notification intents.
type Dispatcher struct {
	sender   Sender
	claims   Claims
	ttl      time.Duration
	limit    int
	timeout  time.Duration
	logger   *slog.Logger
	inflight sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClaims sets the store that records which intents were already sent.
func WithClaims(c Claims) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.claims = c
		}
	}
}

// WithClaimTTL sets how long a sent intent stays claimed.
func WithClaimTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithConcurrency caps parallel sends per Dispatch call.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithTimeout bounds background deliveries started by Notify.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher. Claims default to MemoryClaims.
func NewDispatcher(sender Sender, opts ...Option) *Dispatcher {
	if sender == nil {
		panic("notify: sender is required")
	}
	d := &Dispatcher{
		sender:  sender,
		claims:  NewMemoryClaims(),
		ttl:     DefaultClaimTTL,
		limit:   4,
		timeout: time.Minute,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logger.Component("notify.dispatcher"))
	return d
}

// Dispatch delivers intents concurrently and waits for all of them.
// One failed delivery does not stop the others; their errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []billing.NotificationIntent) error {
	if len(intents) == 0 {
		return nil
	}

	errs := make([]error, len(intents))
	var g errgroup.Group
	g.SetLimit(d.limit)
	for i, intent := range intents {
		g.Go(func() error {
			errs[i] = d.deliver(ctx, intent)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Notify dispatches in the background and logs failures.
// The delivery outlives ctx cancellation but not d.timeout.
func (d *Dispatcher) Notify(ctx context.Context, intents []billing.NotificationIntent) {
	if len(intents) == 0 {
		return
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.Dispatch(ctx, intents); err != nil {
			d.logger.ErrorContext(ctx, "notification delivery failed", logger.Error(err))
		}
	}()
}

// Shutdown waits for background deliveries or ctx, whichever ends first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, intent billing.NotificationIntent) error {
	log := d.logger.With(
		logger.EventID(intent.EventID),
		logger.TenantID(intent.TenantID),
		slog.String("template", string(intent.Template)),
	)

	if intent.Recipient.Email == "" {
		return fmt.Errorf("%w: %s", ErrNoRecipient, intent.Key())
	}

	msg, err := Compose(ctx, intent)
	if err != nil {
		return err
	}

	key := intent.Key()
	claimed, err := d.claims.Claim(ctx, key, d.ttl)
	switch {
	case err != nil:
		log.WarnContext(ctx, "notification claim unavailable, sending anyway", logger.Error(err))
	case !claimed:
		log.DebugContext(ctx, "notification already sent")
		return nil
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		if claimed {
			if rerr := d.claims.Release(ctx, key); rerr != nil {
				log.WarnContext(ctx, "failed to release notification claim", logger.Error(rerr))
			}
		}
		return fmt.Errorf("%s: %w", key, err)
	}

	log.InfoContext(ctx, "notification sent")
	return nil
}
