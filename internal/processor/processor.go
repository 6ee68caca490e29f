package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"semaforo/internal/config"
	"semaforo/internal/handlers"
	"semaforo/internal/kafka"
	"semaforo/internal/logger"
	"semaforo/internal/metrics"
	"semaforo/internal/middleware"
	"semaforo/internal/propagation"
	"semaforo/internal/state"
	"semaforo/internal/storage"
	"semaforo/internal/worker"
)

// Processor owns the service runtime: the record store, the per-aircraft
// locker, the audit pipeline and the HTTP server.
type Processor struct {
	cfg *config.Config

	store       storage.Store
	locker      state.Locker
	redisLocker *state.RedisLocker
	producer    *kafka.Producer
	sink        *worker.ChannelSink
	workerPool  *worker.Pool
	coordinator *propagation.Coordinator
	httpServer  *http.Server

	listener net.Listener
	ready    chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	return &Processor{cfg: cfg, ready: make(chan struct{})}
}

// Run starts background goroutines and blocks until context cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Str("node", p.nodeID()).Msg("processor starting")

	if err := p.setup(); err != nil {
		log.Error().Err(err).Msg("failed to initialize processor")
		p.closeDependencies()
		return err
	}

	ln, err := net.Listen("tcp", p.cfg.Server.Addr)
	if err != nil {
		p.closeDependencies()
		return fmt.Errorf("listen on %s: %w", p.cfg.Server.Addr, err)
	}
	p.listener = ln

	p.workerPool.Start()
	close(p.ready)

	// Start HTTP server in background
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Stats reporting goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return p.shutdown()
}

// Ready is closed once the server is accepting connections
func (p *Processor) Ready() <-chan struct{} {
	return p.ready
}

// Addr is the address the HTTP server listens on. Only valid after Ready.
func (p *Processor) Addr() string {
	return p.listener.Addr().String()
}

func (p *Processor) setup() error {
	if err := p.initStore(); err != nil {
		return err
	}
	if err := p.initLocker(); err != nil {
		return err
	}
	if err := p.initAudit(); err != nil {
		return err
	}

	p.coordinator = propagation.New(p.store, p.locker, p.sink, propagation.Options{
		Workers:       p.cfg.Propagation.Workers,
		AllowDecrease: p.cfg.Propagation.AllowDecrease,
		NodeID:        p.nodeID(),
	})

	p.initHTTPServer()
	return nil
}

func (p *Processor) initStore() error {
	log := logger.WithComponent("processor")
	store, err := storage.New(p.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	p.store = store
	log.Info().Str("backend", p.cfg.Storage.Backend).Msg("record store initialized")
	return nil
}

// initLocker picks the distributed locker when Redis is enabled so that
// several nodes can serve the same fleet.
func (p *Processor) initLocker() error {
	log := logger.WithComponent("processor")
	if !p.cfg.Redis.Enabled {
		p.locker = state.NewLocalLocker()
		log.Info().Msg("using in-process aircraft locks")
		return nil
	}

	rl, err := state.NewRedisLocker(p.cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize redis locker: %w", err)
	}
	p.redisLocker = rl
	p.locker = rl
	log.Info().Str("addr", p.cfg.Redis.Addr).Dur("ttl", p.cfg.Redis.LockTTL).Msg("using redis aircraft locks")
	return nil
}

// initAudit builds the queue, the publisher behind it and the worker pool
func (p *Processor) initAudit() error {
	log := logger.WithComponent("processor")
	pc := p.cfg.Kafka.Producer

	var publisher worker.Publisher = worker.LogPublisher{}
	if p.cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.Topic, pc)
		if err != nil {
			return fmt.Errorf("failed to initialize producer: %w", err)
		}
		p.producer = producer
		publisher = producer
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.Topic).
			Msg("kafka producer initialized")
	} else {
		log.Info().Msg("kafka disabled, audit events go to the log")
	}

	p.sink = worker.NewChannelSink(pc.QueueSize)
	p.workerPool = worker.NewPool(worker.Config{
		Publisher:    publisher,
		Events:       p.sink.Events(),
		Workers:      pc.PoolSize,
		BatchSize:    pc.BatchSize,
		BatchTimeout: pc.BatchTimeout,
	})
	log.Info().Int("workers", pc.PoolSize).Int("queue", p.sink.Cap()).Msg("audit worker pool initialized")
	return nil
}

func (p *Processor) initHTTPServer() {
	checks := map[string]handlers.HealthCheck{
		"store": func(ctx context.Context) error {
			_, err := p.store.ListAircraft(ctx)
			return err
		},
	}
	if p.redisLocker != nil {
		checks["redis"] = p.redisLocker.HealthCheck
	}
	if p.producer != nil {
		checks["kafka"] = p.producer.HealthCheck
	}

	router := handlers.NewRouter(handlers.Config{
		Service:     p.coordinator,
		Checks:      checks,
		Stats:       func() any { return p.Stats() },
		MaxBodySize: p.cfg.Server.MaxBodySize,
	})

	p.httpServer = &http.Server{
		Addr: p.cfg.Server.Addr,
		Handler: middleware.Chain(
			router,
			middleware.Recovery,
			middleware.Logging,
		),
		ReadTimeout:  p.cfg.Server.ReadTimeout,
		WriteTimeout: p.cfg.Server.WriteTimeout,
		IdleTimeout:  p.cfg.Server.IdleTimeout,
	}
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close the audit queue so workers drain it
	log.Info().Msg("closing audit queue")
	p.sink.Close()

	// 3. Wait for workers to finish processing (with timeout)
	done := make(chan struct{})
	go func() {
		p.workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - aborting")
		p.workerPool.Abort()
	}

	// 4. Close producer, locker and store
	p.closeDependencies()

	// 5. Wait for all goroutines
	p.wg.Wait()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

func (p *Processor) closeDependencies() {
	log := logger.WithComponent("processor")

	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
	if p.redisLocker != nil {
		if err := p.redisLocker.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			log.Error().Err(err).Msg("store close error")
		}
	}
}

// Stats is a snapshot of the audit pipeline
type Stats struct {
	Worker   worker.Stats         `json:"worker"`
	Producer *kafka.ProducerStats `json:"producer,omitempty"`
	Queue    QueueStats           `json:"queue"`
}

// QueueStats describes the audit queue
type QueueStats struct {
	Buffered int    `json:"buffered"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
}

// Stats returns current statistics
func (p *Processor) Stats() Stats {
	s := Stats{
		Worker: p.workerPool.Stats(),
		Queue: QueueStats{
			Buffered: p.sink.Len(),
			Capacity: p.sink.Cap(),
			Dropped:  p.sink.Dropped(),
		},
	}
	if p.producer != nil {
		ps := p.producer.Stats()
		s.Producer = &ps
	}
	return s
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
			stats := p.Stats()
			metrics.AuditQueueSize.Set(float64(stats.Queue.Buffered))

			event := log.Info().
				Uint64("worker_processed", stats.Worker.Processed).
				Uint64("worker_failed", stats.Worker.Failed).
				Int("queue_size", stats.Queue.Buffered).
				Uint64("queue_dropped", stats.Queue.Dropped)
			if stats.Producer != nil {
				event = event.
					Uint64("producer_sent", stats.Producer.MessagesSent).
					Uint64("producer_failed", stats.Producer.MessagesFailed).
					Uint64("producer_bytes", stats.Producer.BytesWritten)
			}
			event.Msg("stats")
		}
	}
}

func (p *Processor) nodeID() string {
	if p.cfg.App.NodeID != "" {
		return p.cfg.App.NodeID
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
