package models

import "time"

// WorkerStats représente les statistiques du pool de workers
type WorkerStats struct {
	WorkerCount   int          `json:"worker_count"`
	QueueSize     int          `json:"queue_size"`
	QueueCapacity int          `json:"queue_capacity"`
	Running       bool         `json:"running"`
	Workers       []WorkerInfo `json:"workers"`
}

// WorkerInfo représente les informations d'un worker individuel
type WorkerInfo struct {
	ID           int    `json:"id"`
	Status       string `json:"status"` // idle, busy, stopped
	CurrentJobID string `json:"current_job_id,omitempty"`
	JobsTotal    int64  `json:"jobs_total"`
	JobsSuccess  int64  `json:"jobs_success"`
	JobsFailed   int64  `json:"jobs_failed"`
}

// WorkerStatsResponse représente les statistiques détaillées du worker
type WorkerStatsResponse struct {
	WorkerPool WorkerStats `json:"worker_pool"`
	QueueUsage float64     `json:"queue_usage_percent"`
	Timestamp  time.Time   `json:"timestamp"`
}
