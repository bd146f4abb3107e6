// Package events diffuse la progression des jobs de génération.
package events

import (
	"context"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// Publisher diffuse un événement de progression. Une erreur de publication
// ne doit jamais faire échouer le job.
type Publisher interface {
	Publish(ctx context.Context, event *models.ProgressEvent) error
	Close() error
}

// NopPublisher ignore les événements (REDIS_ADDR vide)
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *models.ProgressEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
