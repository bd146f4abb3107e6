package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// Processor exécute un job de génération
type Processor interface {
	ProcessJob(ctx context.Context, task *models.CourseTask) *JobResult
}

const (
	workerIdle    = "idle"
	workerBusy    = "busy"
	workerStopped = "stopped"
)

// Worker consomme la file du pool, un cours à la fois
type Worker struct {
	id         int
	processor  Processor
	jobTimeout time.Duration
	logger     *zap.Logger

	mu           sync.RWMutex
	status       string
	currentJobID string

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewWorker crée un worker. jobTimeout <= 0 laisse le job tourner jusqu'à l'annulation du contexte.
func NewWorker(id int, processor Processor, jobTimeout time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:         id,
		processor:  processor,
		jobTimeout: jobTimeout,
		logger:     logger.With(zap.Int("worker_id", id)),
		status:     workerIdle,
	}
}

// setState change le statut et le job courant ensemble, les stats ne voient jamais un état mélangé
func (w *Worker) setState(status string, jobID string) {
	w.mu.Lock()
	w.status, w.currentJobID = status, jobID
	w.mu.Unlock()
}

func (w *Worker) getState() (string, string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, w.currentJobID
}

func (w *Worker) processJob(ctx context.Context, task *models.CourseTask) {
	log := w.logger.With(zap.String("job_id", task.JobID))

	w.setState(workerBusy, task.JobID)
	defer w.setState(workerIdle, "")
	w.total.Add(1)

	log.Info("Worker processing job", zap.String("username", task.Username))

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if w.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
	}
	defer cancel()

	result := w.processor.ProcessJob(jobCtx, task)
	if result == nil {
		result = &JobResult{}
	}

	if result.Success {
		w.succeeded.Add(1)
		log.Info("Worker completed job",
			zap.Int("slides", result.SlidesGenerated),
			zap.Duration("duration", result.Duration))
		return
	}

	w.failed.Add(1)
	log.Warn("Worker failed job", zap.Error(result.Error))
}

// GetStats retourne un instantané du worker
func (w *Worker) GetStats() models.WorkerInfo {
	status, currentJobID := w.getState()

	return models.WorkerInfo{
		ID:           w.id,
		Status:       status,
		CurrentJobID: currentJobID,
		JobsTotal:    w.total.Load(),
		JobsSuccess:  w.succeeded.Load(),
		JobsFailed:   w.failed.Load(),
	}
}

// Start consomme jobQueue jusqu'à l'annulation de ctx ou la fermeture de la file
func (w *Worker) Start(ctx context.Context, jobQueue <-chan *models.CourseTask) {
	defer w.setState(workerStopped, "")
	w.logger.Debug("Worker starting")

	for {
		// Un arrêt demandé passe avant les jobs encore en file
		if ctx.Err() != nil {
			w.logger.Info("Worker stopped due to context cancellation")
			return
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped due to context cancellation")
			return
		case task, ok := <-jobQueue:
			if !ok {
				w.logger.Info("Worker stopped, job queue closed")
				return
			}
			w.processJob(ctx, task)
		}
	}
}
