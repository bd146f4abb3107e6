// internal/worker/pool.go
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

var (
	// ErrQueueFull est retourné quand la file des jobs est pleine
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolStopped est retourné quand le pool n'accepte plus de jobs
	ErrPoolStopped = errors.New("worker pool is not running")
)

// Rejecter est implémenté par les processeurs capables d'enregistrer l'abandon d'un job
type Rejecter interface {
	Reject(task *models.CourseTask, reason string)
}

// WorkerPool gère un pool de workers pour traiter les jobs de génération
type WorkerPool struct {
	processor Processor
	config    *PoolConfig
	workers   []*Worker
	jobQueue  chan *models.CourseTask
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	stopped   bool
	mu        sync.RWMutex
	logger    *zap.Logger
}

// PoolConfig contient la configuration du pool de workers
type PoolConfig struct {
	WorkerCount int           // Nombre de workers simultanés
	QueueSize   int           // Capacité de la file (0 = 2 x WorkerCount)
	JobTimeout  time.Duration // Timeout par job
}

// DefaultPoolConfig retourne une configuration par défaut
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		WorkerCount: 3,
		JobTimeout:  30 * time.Minute,
	}
}

// NewWorkerPool crée un nouveau pool de workers
func NewWorkerPool(processor Processor, config *PoolConfig, logger *zap.Logger) *WorkerPool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.WorkerCount * 2
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultPoolConfig().JobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker")

	pool := &WorkerPool{
		processor: processor,
		config:    config,
		jobQueue:  make(chan *models.CourseTask, config.QueueSize),
		logger:    logger,
	}

	for i := 0; i < config.WorkerCount; i++ {
		pool.workers = append(pool.workers, NewWorker(i, processor, config.JobTimeout, logger))
	}

	return pool
}

// Start démarre le pool de workers. Un pool arrêté ne redémarre pas.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.running {
		return nil
	}

	p.logger.Info("Starting worker pool",
		zap.Int("workers", p.config.WorkerCount),
		zap.Int("queue_capacity", cap(p.jobQueue)),
		zap.Duration("job_timeout", p.config.JobTimeout))

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, worker := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(runCtx, p.jobQueue)
		}(worker)
	}

	p.running = true
	p.logger.Info("Worker pool started successfully")

	return nil
}

// Submit met un job en file sans bloquer
func (p *WorkerPool) Submit(task *models.CourseTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolStopped
	}

	select {
	case p.jobQueue <- task:
		p.logger.Debug("Job queued", zap.String("job_id", task.JobID), zap.Int("queue_size", len(p.jobQueue)))
		return nil
	default:
		p.logger.Warn("Job queue full, job rejected", zap.String("job_id", task.JobID))
		return ErrQueueFull
	}
}

// Stop arrête le pool: les jobs en cours sont annulés, les jobs en file sont abandonnés
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}

	p.logger.Info("Stopping worker pool...")

	p.running = false
	p.stopped = true
	close(p.jobQueue)
	p.cancel()
	p.mu.Unlock()

	// Attendre que tous les workers se terminent
	p.wg.Wait()

	abandoned := 0
	for task := range p.jobQueue {
		abandoned++
		if r, ok := p.processor.(Rejecter); ok {
			r.Reject(task, "service shutting down")
		}
	}

	p.logger.Info("Worker pool stopped", zap.Int("abandoned_jobs", abandoned))
	return nil
}

// GetStats retourne les statistiques du pool
func (p *WorkerPool) GetStats() models.WorkerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := models.WorkerStats{
		WorkerCount:   len(p.workers),
		QueueSize:     len(p.jobQueue),
		QueueCapacity: cap(p.jobQueue),
		Running:       p.running,
		Workers:       make([]models.WorkerInfo, 0, len(p.workers)),
	}

	for _, worker := range p.workers {
		stats.Workers = append(stats.Workers, worker.GetStats())
	}

	return stats
}

func (p *WorkerPool) GetConfig() *PoolConfig {
	return p.config
}
