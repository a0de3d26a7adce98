package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"leakwatch/internal/logger"
	"leakwatch/internal/metrics"
	"leakwatch/internal/models"
)

const (
	// DefaultMaxAttempts bounds delivery tries per alert.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the fixed wait between tries.
	DefaultBackoff = 5 * time.Second
)

// ErrNoTransport is returned by NewDispatcher when transport is nil.
var ErrNoTransport = errors.New("notify: transport is required")

// DeliveryError is returned once an alert reaches the Failed state.
type DeliveryError struct {
	AlertID   string
	Metric    string
	Attempts  int
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("deliver alert %s for %s: %s failure after %d attempt(s): %v",
		e.AlertID, e.Metric, kind, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// SleepFunc waits d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Dispatcher delivers alerts through a Transport, retrying transient
// failures a bounded number of times with a fixed backoff.
type Dispatcher struct {
	transport   Transport
	from        string
	to          string
	maxAttempts int
	backoff     time.Duration
	sleep       SleepFunc
	onAttempt   func(models.DeliveryAttempt)

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Option is a functional option for configuring the dispatcher
type Option func(*Dispatcher)

// WithMaxAttempts sets the retry budget; values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n >= 1 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff sets the fixed wait between attempts.
func WithBackoff(b time.Duration) Option {
	return func(d *Dispatcher) {
		if b >= 0 {
			d.backoff = b
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

// WithObserver registers a hook called after every attempt.
func WithObserver(fn func(models.DeliveryAttempt)) Option {
	return func(d *Dispatcher) { d.onAttempt = fn }
}

// NewDispatcher builds a dispatcher sending from sender to recipient.
func NewDispatcher(t Transport, sender, recipient string, opts ...Option) (*Dispatcher, error) {
	if t == nil {
		return nil, ErrNoTransport
	}

	d := &Dispatcher{
		transport:   t,
		from:        sender,
		to:          recipient,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		sleep:       SleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch runs the delivery state machine for one alert:
// Pending -> Attempting(1..N) -> Sent | Failed.
//
// A transient failure below the attempt budget waits the backoff and tries
// again. A permanent failure, an exhausted budget or a cancelled ctx ends in
// Failed and returns a *DeliveryError wrapping the last error.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.Alert) error {
	log := logger.WithMetric("notify", alert.Metric, alert.Observed, alert.Threshold).
		With().Str("alert_id", alert.ID).Logger()

	if err := ctx.Err(); err != nil {
		return d.fail(alert, 0, false, err)
	}

	msg := Message{
		From:    d.from,
		To:      d.to,
		Subject: alert.Subject,
		Body:    alert.Body,
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", d.backoff).
				Msg("retrying alert delivery")

			metrics.DeliveryRetries.Inc()

			if err := d.sleep(ctx, d.backoff); err != nil {
				log.Info().Int("attempts", attempt-1).Msg("alert delivery interrupted by shutdown")
				return d.fail(alert, attempt-1, false, err)
			}
		}

		err := d.transport.Send(ctx, msg)
		if err == nil {
			d.observe(alert, attempt, models.OutcomeSent, nil)
			d.sent.Add(1)
			metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
			log.Info().Int("attempt", attempt).Msg("alert sent")
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			d.observe(alert, attempt, models.OutcomePermanentError, err)
			log.Error().Err(err).Int("attempt", attempt).Msg("permanent delivery failure, not retrying")
			return d.fail(alert, attempt, true, err)
		}

		d.observe(alert, attempt, models.OutcomeTransportError, err)
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", d.maxAttempts).
			Msg("alert delivery attempt failed")

		if ctxErr := ctx.Err(); ctxErr != nil {
			return d.fail(alert, attempt, false, ctxErr)
		}
	}

	log.Error().
		Err(lastErr).
		Int("max_attempts", d.maxAttempts).
		Msg("alert delivery failed after all attempts")

	return d.fail(alert, d.maxAttempts, false, lastErr)
}

func (d *Dispatcher) observe(alert models.Alert, attempt int, outcome models.Outcome, err error) {
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(outcome)).Inc()
	if d.onAttempt != nil {
		d.onAttempt(models.DeliveryAttempt{Alert: alert, Attempt: attempt, Outcome: outcome, Err: err})
	}
}

func (d *Dispatcher) fail(alert models.Alert, attempts int, permanent bool, err error) error {
	d.failed.Add(1)
	metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
	return &DeliveryError{
		AlertID:   alert.ID,
		Metric:    alert.Metric,
		Attempts:  attempts,
		Permanent: permanent,
		Err:       err,
	}
}

// Stats returns dispatcher statistics
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:   d.sent.Load(),
		Failed: d.failed.Load(),
	}
}

// Stats holds dispatcher counters
type Stats struct {
	Sent   uint64
	Failed uint64
}

// SleepContext waits d or until ctx is done. A non-positive d only reports
// ctx's state.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
