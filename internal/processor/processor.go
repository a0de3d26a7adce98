package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leakwatch/internal/collector"
	"leakwatch/internal/config"
	"leakwatch/internal/handlers"
	"leakwatch/internal/kafka"
	"leakwatch/internal/logger"
	"leakwatch/internal/logstore"
	"leakwatch/internal/metrics"
	"leakwatch/internal/middleware"
	"leakwatch/internal/models"
	"leakwatch/internal/notify"
	"leakwatch/internal/source"
	"leakwatch/internal/worker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Processor wires the collector together: log store, reading source,
// dispatcher, the collection loop, the optional Kafka mirror and the ops
// HTTP server.
type Processor struct {
	cfg      *config.Config
	password string

	src       source.Source
	transport notify.Transport

	writer     *logstore.Writer
	reader     *logstore.Reader
	dispatcher *notify.Dispatcher
	loop       *collector.Loop
	producer   *kafka.Producer
	mirror     *worker.Pool
	httpServer *http.Server

	started time.Time
	wg      sync.WaitGroup
}

// Option is a functional option for configuring the processor
type Option func(*Processor)

// WithSource replaces the source named in the config.
func WithSource(s source.Source) Option {
	return func(p *Processor) { p.src = s }
}

// WithTransport replaces the SMTP transport.
func WithTransport(t notify.Transport) Option {
	return func(p *Processor) { p.transport = t }
}

// New constructs a Processor. cfg must already be validated; password is
// the SMTP credential and is only handed to the transport.
func New(cfg *config.Config, password string, opts ...Option) *Processor {
	p := &Processor{
		cfg:      cfg,
		password: password,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the collector and blocks until ctx is cancelled. It returns an
// error only when startup fails.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")
	p.started = time.Now()

	if err := p.initStore(); err != nil {
		log.Error().Err(err).Msg("failed to open log store")
		return fmt.Errorf("failed to open log store: %w", err)
	}
	defer p.writer.Close()

	if err := p.initDispatcher(); err != nil {
		log.Error().Err(err).Msg("failed to initialize dispatcher")
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	if p.cfg.Kafka.Enabled() {
		if err := p.initMirror(); err != nil {
			log.Error().Err(err).Msg("failed to initialize kafka mirror")
			return fmt.Errorf("failed to initialize kafka mirror: %w", err)
		}
		p.mirror.Start()
	}

	if err := p.initLoop(); err != nil {
		log.Error().Err(err).Msg("failed to initialize collection loop")
		return fmt.Errorf("failed to initialize collection loop: %w", err)
	}

	if p.cfg.HTTP.Addr != "" {
		p.initHTTPServer()

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			log.Info().Str("addr", p.cfg.HTTP.Addr).Msg("starting HTTP server")
			if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	// Stats reporting goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	// The loop owns this goroutine until cancellation.
	p.loop.Run(ctx)
	log.Info().Msg("shutdown signal received")

	return p.shutdown()
}

func (p *Processor) initStore() error {
	w, err := logstore.NewWriter(p.cfg.Store.Path)
	if err != nil {
		return err
	}
	p.writer = w
	p.reader = logstore.NewReader(p.cfg.Store.Path)

	log := logger.WithComponent("processor")
	log.Info().Str("path", p.cfg.Store.Path).Msg("log store opened")
	return nil
}

func (p *Processor) initDispatcher() error {
	log := logger.WithComponent("processor")

	if p.transport == nil {
		smtp := notify.NewSMTPTransport(
			p.cfg.Email.SMTPHost,
			p.cfg.Email.SMTPPort,
			p.cfg.Email.Login(),
			p.password,
		)
		log.Info().Stringer("transport", smtp).Msg("smtp transport configured")
		p.transport = smtp
	}

	d, err := notify.NewDispatcher(p.transport, p.cfg.Email.Sender, p.cfg.Email.Recipient,
		notify.WithMaxAttempts(p.cfg.Alerting.MaxAttempts),
		notify.WithBackoff(p.cfg.Alerting.Backoff),
	)
	if err != nil {
		return err
	}
	p.dispatcher = d
	return nil
}

// initMirror initializes the Kafka producer and the mirror pool
func (p *Processor) initMirror() error {
	log := logger.WithComponent("processor")
	producer, err := kafka.NewProducer(
		p.cfg.Kafka.Brokers,
		p.cfg.Kafka.Topic,
		p.cfg.Kafka.Producer,
	)
	if err != nil {
		return err
	}
	p.producer = producer

	p.mirror = worker.NewPool(worker.Config{
		Publisher:    producer,
		Node:         p.node(),
		Queue:        p.cfg.Kafka.Queue,
		Workers:      p.cfg.Kafka.Workers,
		BatchSize:    p.cfg.Kafka.Producer.BatchSize,
		BatchTimeout: p.cfg.Kafka.Producer.BatchTimeout,
	})

	log.Info().
		Strs("brokers", p.cfg.Kafka.Brokers).
		Str("topic", p.cfg.Kafka.Topic).
		Msg("kafka mirror initialized")
	return nil
}

func (p *Processor) initLoop() error {
	if p.src == nil {
		src, err := source.New(p.cfg.Collector.Source, p.cfg.Collector.Metrics, p.cfg.Collector.Static)
		if err != nil {
			return err
		}
		p.src = src
	}

	cfg := collector.Config{
		Source:     p.src,
		Store:      p.writer,
		Dispatcher: p.dispatcher,
		Thresholds: models.ThresholdConfig(p.cfg.Thresholds),
		Interval:   p.cfg.Collector.Interval,
	}
	if p.mirror != nil {
		cfg.Mirror = p.mirror
	}

	loop, err := collector.New(cfg)
	if err != nil {
		return err
	}
	p.loop = loop
	return nil
}

func (p *Processor) node() string {
	if p.cfg.Collector.Node != "" {
		return p.cfg.Collector.Node
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}

// Handler returns the ops mux: /health, /stats, /metrics and /snapshots.
func (p *Processor) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /snapshots", handlers.NewSnapshotsHandler(p.reader))
	mux.HandleFunc("GET /health", p.healthHandler)
	mux.HandleFunc("GET /stats", p.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Chain(mux, middleware.Logging, middleware.Recovery)
}

func (p *Processor) initHTTPServer() {
	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTP.Addr,
		Handler:      p.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	if p.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		log.Info().Msg("stopping HTTP server")
		if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	if p.mirror != nil {
		done := make(chan struct{})
		go func() {
			p.mirror.Stop()
			close(done)
		}()

		select {
		case <-done:
			log.Info().Msg("mirror drained")
		case <-time.After(10 * time.Second):
			log.Warn().Msg("mirror drain timeout, dropping queued snapshots")
			p.mirror.Abort()
			<-done
		}

		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}

	p.wg.Wait()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.Stats()
			ev := log.Info().
				Uint64("ticks", s.Collector.Ticks).
				Uint64("read_failures", s.Collector.ReadFailures).
				Uint64("append_failures", s.Collector.AppendFailures).
				Uint64("alerts", s.Collector.Alerts).
				Uint64("alerts_sent", s.Delivery.Sent).
				Uint64("alerts_failed", s.Delivery.Failed)
			if s.Mirror != nil {
				ev = ev.
					Uint64("mirror_processed", s.Mirror.Processed).
					Uint64("mirror_dropped", s.Mirror.Dropped).
					Int("mirror_queued", s.Mirror.Queued)
				metrics.MirrorQueueSize.Set(float64(s.Mirror.Queued))
			}
			ev.Msg("stats")
		}
	}
}

// Stats is the /stats payload.
type Stats struct {
	Uptime    string               `json:"uptime"`
	Collector collector.Stats      `json:"collector"`
	Delivery  DeliveryStats        `json:"delivery"`
	Mirror    *worker.Stats        `json:"mirror,omitempty"`
	Producer  *kafka.ProducerStats `json:"producer,omitempty"`
}

// DeliveryStats mirrors notify.Stats with JSON names.
type DeliveryStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// Stats returns a snapshot of every component's counters.
func (p *Processor) Stats() Stats {
	s := Stats{Uptime: time.Since(p.started).Round(time.Second).String()}
	if p.loop != nil {
		s.Collector = p.loop.Stats()
	}
	if p.dispatcher != nil {
		ds := p.dispatcher.Stats()
		s.Delivery = DeliveryStats{Sent: ds.Sent, Failed: ds.Failed}
	}
	if p.mirror != nil {
		ms := p.mirror.Stats()
		ps := p.producer.Stats()
		s.Mirror = &ms
		s.Producer = &ps
	}
	return s
}

// healthHandler handles health check requests. An unreachable mirror
// degrades health but the collector keeps running.
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	resp := map[string]interface{}{}

	if p.producer != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := p.producer.HealthCheck(ctx); err != nil {
			status = "degraded"
			resp["mirror_error"] = err.Error()
		}
	}

	resp["status"] = status
	resp["timestamp"] = time.Now().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(p.Stats())
}
