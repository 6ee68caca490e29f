package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"semaforo/internal/logger"
	"semaforo/internal/metrics"
	"semaforo/internal/models"
)

// Publisher delivers audit events to their destination
type Publisher interface {
	Publish(ctx context.Context, event *models.AuditEvent) error
	PublishBatch(ctx context.Context, events []*models.AuditEvent) error
}

// Config holds worker pool configuration
type Config struct {
	Publisher    Publisher
	Events       <-chan *models.AuditEvent
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// Pool drains the audit queue in batches and hands them to a Publisher.
// A batch is flushed when it is full, when BatchTimeout passes, or when the
// queue is closed.
type Pool struct {
	cfg Config

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewPool creates a pool; call Start to launch it
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start launches the workers
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.cfg.Workers).
		Int("batch_size", p.cfg.BatchSize).
		Dur("batch_timeout", p.cfg.BatchTimeout).
		Msg("starting audit worker pool")

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop waits for the workers to drain the queue. Close the queue first,
// otherwise Stop blocks until Abort.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		log := logger.WithComponent("worker_pool")
		p.wg.Wait()
		p.cancel()
		log.Info().
			Uint64("processed", p.processed.Load()).
			Uint64("failed", p.failed.Load()).
			Msg("audit worker pool stopped")
	})
}

// Abort makes the workers flush what they hold and exit without draining
// the rest of the queue
func (p *Pool) Abort() {
	p.cancel()
	p.Stop()
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	batch := make([]*models.AuditEvent, 0, p.cfg.BatchSize)
	flush := func() {
		if len(batch) > 0 {
			p.flush(batch)
			batch = batch[:0]
		}
	}

	timer := time.NewTimer(p.cfg.BatchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			flush()
			return

		case event, ok := <-p.cfg.Events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= p.cfg.BatchSize {
				flush()
				timer.Reset(p.cfg.BatchTimeout)
			}

		case <-timer.C:
			flush()
			timer.Reset(p.cfg.BatchTimeout)
		}
	}
}

// flush publishes a batch in one call and falls back to one call per event
// when the batch is rejected. Counters see each event exactly once.
func (p *Pool) flush(batch []*models.AuditEvent) {
	log := logger.WithComponent("worker")
	start := time.Now()

	// Detached from p.ctx so that the final flush on shutdown still runs.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 10*time.Second)
	err := p.cfg.Publisher.PublishBatch(ctx, batch)
	cancel()
	metrics.WorkerBatchPublishDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		p.record(len(batch), 0)
		return
	}

	log.Warn().
		Err(err).
		Int("batch_size", len(batch)).
		Msg("batch publish failed, publishing events one by one")

	ok := 0
	for _, event := range batch {
		event.RetryCount++
		ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 5*time.Second)
		err := p.cfg.Publisher.Publish(ctx, event)
		cancel()

		if err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("aircraft_id", event.AircraftID).
				Msg("audit event lost")
			continue
		}
		ok++
	}
	p.record(ok, len(batch)-ok)
}

func (p *Pool) record(processed, failed int) {
	p.processed.Add(uint64(processed))
	p.failed.Add(uint64(failed))
	metrics.WorkerProcessedTotal.Add(float64(processed))
	metrics.WorkerFailedTotal.Add(float64(failed))
}

// Stats holds worker pool counters
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// Stats returns the pool's lifetime counters
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}
