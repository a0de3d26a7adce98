package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"leakwatch/internal/logger"
	"leakwatch/internal/metrics"
	"leakwatch/internal/models"
)

// Publisher defines the interface for publishing envelopes
type Publisher interface {
	Publish(ctx context.Context, envelope *models.Envelope) error
	PublishBatch(ctx context.Context, envelopes []*models.Envelope) error
}

// Pool mirrors stored snapshots to a Publisher off the collection goroutine.
// Offer never blocks: a full queue drops the snapshot, the log stays the
// source of truth.
type Pool struct {
	publisher    Publisher
	queue        chan *models.Envelope
	node         string
	workers      int
	batchSize    int
	batchTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	seq    atomic.Uint64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Publisher    Publisher
	Node         string
	Queue        int
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		publisher:    cfg.Publisher,
		queue:        make(chan *models.Envelope, cfg.Queue),
		node:         cfg.Node,
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing envelopes
func (p *Pool) Start() {
	log := logger.WithComponent("mirror_pool")
	log.Info().
		Int("workers", p.workers).
		Int("queue", cap(p.queue)).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting mirror pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Offer queues snap for publishing. It reports false when the queue is
// full or the pool is stopped.
func (p *Pool) Offer(snap models.Snapshot) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	env := models.NewEnvelope(snap, p.node, p.seq.Add(1))
	select {
	case p.queue <- env:
		metrics.MirrorQueueSize.Set(float64(len(p.queue)))
		return true
	default:
		p.dropped.Add(1)
		metrics.MirrorDroppedTotal.Inc()
		return false
	}
}

// Stop refuses new snapshots, lets workers flush what is queued, then
// cancels in-flight publishes.
func (p *Pool) Stop() {
	log := logger.WithComponent("mirror_pool")

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	log.Info().Int("queued", len(p.queue)).Msg("stopping mirror pool")
	p.wg.Wait()
	p.cancel()
	log.Info().Msg("mirror pool stopped")
}

// Abort cancels in-flight publishes; a pending Stop then returns quickly.
func (p *Pool) Abort() {
	p.cancel()
}

// worker drains the queue in batches
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("mirror_worker").With().Int("worker_id", id).Logger()

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("mirror_worker").Inc()
		}
	}()

	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	batch := make([]*models.Envelope, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case envelope, ok := <-p.queue:
			if !ok {
				// Queue closed, flush and exit
				if len(batch) > 0 {
					p.publishBatch(batch)
				}
				return
			}

			batch = append(batch, envelope)
			metrics.MirrorQueueSize.Set(float64(len(p.queue)))

			if len(batch) >= p.batchSize {
				p.publishBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				p.publishBatch(batch)
				batch = batch[:0]
			}
			timer.Reset(p.batchTimeout)
		}
	}
}

// publishBatch publishes a batch of envelopes
func (p *Pool) publishBatch(batch []*models.Envelope) {
	if len(batch) == 0 {
		return
	}

	log := logger.WithComponent("mirror_worker")
	start := time.Now()

	batchID := uuid.NewString()
	for _, env := range batch {
		env.WithBatch(batchID)
	}

	ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	defer cancel()

	err := p.publisher.PublishBatch(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("batch_id", batchID).
			Int("batch_size", len(batch)).
			Dur("duration", duration).
			Msg("failed to publish batch")

		p.publishIndividually(batch)
		return
	}

	log.Debug().
		Str("batch_id", batchID).
		Int("batch_size", len(batch)).
		Dur("duration", duration).
		Msg("batch mirrored")

	p.processed.Add(uint64(len(batch)))
	metrics.MirrorProcessedTotal.Add(float64(len(batch)))
}

// publishIndividually retries each envelope of a failed batch once.
func (p *Pool) publishIndividually(batch []*models.Envelope) {
	log := logger.WithComponent("mirror_worker")
	log.Warn().Int("count", len(batch)).Msg("attempting individual publish for failed batch")

	for _, envelope := range batch {
		envelope.RetryCount++

		ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
		err := p.publisher.Publish(ctx, envelope)
		cancel()

		if err != nil {
			log.Error().
				Err(err).
				Uint64("sequence", envelope.Sequence).
				Time("timestamp", envelope.Snapshot.Timestamp()).
				Msg("failed to mirror snapshot")
			p.failed.Add(1)
			metrics.MirrorFailedTotal.Inc()
			continue
		}

		p.processed.Add(1)
		metrics.MirrorProcessedTotal.Inc()
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
		Capacity:  cap(p.queue),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
}
