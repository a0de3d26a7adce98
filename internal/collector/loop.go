package collector

import (
	"context"
	"errors"
	"runtime/debug"
	"sync/atomic"
	"time"

	"leakwatch/internal/alerts"
	"leakwatch/internal/logger"
	"leakwatch/internal/logstore"
	"leakwatch/internal/metrics"
	"leakwatch/internal/models"
	"leakwatch/internal/notify"
	"leakwatch/internal/source"
)

// DefaultInterval is the wait between two ticks.
const DefaultInterval = 5 * time.Second

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("collector: source, store and dispatcher are required")

// Appender persists one snapshot.
type Appender interface {
	Append(snap models.Snapshot) error
}

// Dispatcher delivers one alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert models.Alert) error
}

// Mirror receives a copy of each snapshot once it is stored. Offer must not
// block.
type Mirror interface {
	Offer(snap models.Snapshot) bool
}

// Config holds the loop dependencies.
type Config struct {
	Source     source.Source
	Store      Appender
	Dispatcher Dispatcher
	Thresholds models.ThresholdConfig
	Interval   time.Duration
	// Mirror is optional.
	Mirror Mirror
	// Sleep replaces the interval wait, mainly for tests.
	Sleep notify.SleepFunc
}

// Loop drives the read, store, evaluate, dispatch cycle on one goroutine.
type Loop struct {
	src        source.Source
	store      Appender
	dispatcher Dispatcher
	thresholds models.ThresholdConfig
	interval   time.Duration
	mirror     Mirror
	sleep      notify.SleepFunc

	ticks          atomic.Uint64
	readFailures   atomic.Uint64
	appendFailures atomic.Uint64
	alertsRaised   atomic.Uint64
	deliveryFailed atomic.Uint64
	mirrored       atomic.Uint64
}

// New builds a loop. Thresholds are copied.
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil || cfg.Store == nil || cfg.Dispatcher == nil {
		return nil, ErrMissingDependency
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = notify.SleepContext
	}

	th := make(models.ThresholdConfig, len(cfg.Thresholds))
	for k, v := range cfg.Thresholds {
		th[k] = v
	}

	return &Loop{
		src:        cfg.Source,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		thresholds: th,
		interval:   cfg.Interval,
		mirror:     cfg.Mirror,
		sleep:      cfg.Sleep,
	}, nil
}

// Run ticks until ctx is cancelled. Cancellation is a normal stop and
// returns nil.
func (l *Loop) Run(ctx context.Context) error {
	log := logger.WithComponent("collector")
	log.Info().
		Dur("interval", l.interval).
		Int("thresholds", len(l.thresholds)).
		Msg("collection loop starting")

	for {
		if ctx.Err() != nil {
			break
		}

		l.tick(ctx)

		if err := l.sleep(ctx, l.interval); err != nil {
			break
		}
	}

	st := l.Stats()
	log.Info().
		Uint64("ticks", st.Ticks).
		Uint64("alerts", st.Alerts).
		Uint64("delivery_failures", st.DeliveryFailures).
		Msg("collection loop stopped")
	return nil
}

// tick runs one cycle. It never returns an error: every failure is logged
// and the loop moves on.
func (l *Loop) tick(ctx context.Context) {
	log := logger.WithComponent("collector")

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("tick panic recovered")
			metrics.PanicsRecovered.WithLabelValues("collector").Inc()
		}
	}()

	start := time.Now()
	l.ticks.Add(1)
	metrics.TicksTotal.Inc()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	snap, err := l.src.Next(ctx)
	if err != nil {
		l.readFailures.Add(1)
		metrics.ReadFailuresTotal.Inc()
		log.Error().Err(err).Msg("reading failed, skipping tick")
		return
	}

	for name, v := range snap.Metrics() {
		metrics.MetricValue.WithLabelValues(name).Set(v)
	}

	if err := l.store.Append(snap); err != nil {
		l.appendFailures.Add(1)
		ev := log.Error().Err(err)
		var serr *logstore.StorageError
		if errors.As(err, &serr) {
			ev = ev.Str("op", serr.Op).Str("path", serr.Path)
		}
		ev.Msg("failed to append snapshot")
	} else {
		log.Debug().Time("timestamp", snap.Timestamp()).Msg("snapshot stored")
		if l.mirror != nil && l.mirror.Offer(snap) {
			l.mirrored.Add(1)
		}
	}

	// The reading is logged; a stop request now ends the tick.
	if ctx.Err() != nil {
		return
	}

	for _, alert := range alerts.Evaluate(snap, l.thresholds) {
		l.alertsRaised.Add(1)
		metrics.AlertsTotal.WithLabelValues(alert.Metric).Inc()

		alog := logger.WithMetric("collector", alert.Metric, alert.Observed, alert.Threshold)
		alog.Warn().Msg("threshold exceeded")

		if err := l.dispatcher.Dispatch(ctx, alert); err != nil {
			l.deliveryFailed.Add(1)
			ev := alog.Error().Err(err)
			var derr *notify.DeliveryError
			if errors.As(err, &derr) {
				ev = ev.Int("attempts", derr.Attempts).Bool("permanent", derr.Permanent)
			}
			ev.Msg("alert not delivered")
		}

		if ctx.Err() != nil {
			log.Info().Msg("stop requested, remaining alerts not dispatched")
			return
		}
	}
}

// Stats returns loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:            l.ticks.Load(),
		ReadFailures:     l.readFailures.Load(),
		AppendFailures:   l.appendFailures.Load(),
		Alerts:           l.alertsRaised.Load(),
		DeliveryFailures: l.deliveryFailed.Load(),
		Mirrored:         l.mirrored.Load(),
	}
}

// Stats holds loop counters
type Stats struct {
	Ticks            uint64 `json:"ticks"`
	ReadFailures     uint64 `json:"read_failures"`
	AppendFailures   uint64 `json:"append_failures"`
	Alerts           uint64 `json:"alerts"`
	DeliveryFailures uint64 `json:"delivery_failures"`
	Mirrored         uint64 `json:"mirrored"`
}
