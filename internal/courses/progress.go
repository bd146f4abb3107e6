package courses

import (
	"context"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// ProgressReporter dérive la vue de progression de l'état courant du store, sans cache
type ProgressReporter struct {
	repo Repository
}

func NewProgressReporter(repo Repository) *ProgressReporter {
	return &ProgressReporter{repo: repo}
}

// Status retourne la progression du job ou ErrCourseNotFound
func (p *ProgressReporter) Status(ctx context.Context, jobID string) (*models.CourseStatus, error) {
	course, generated, err := p.repo.GetProgress(ctx, jobID)
	if err != nil {
		return nil, err
	}

	completed := generated == course.TotalSlides

	status := models.StatusLabelInProgress
	switch {
	case completed:
		status = models.StatusLabelCompleted
	case course.State == models.StateFailed:
		status = models.StatusLabelFailed
	}

	return &models.CourseStatus{
		JobID:           course.JobID,
		SlidesGenerated: generated,
		TotalSlides:     course.TotalSlides,
		Completed:       completed,
		Status:          status,
		State:           course.State,
		Title:           course.Title,
		Error:           course.Error,
	}, nil
}
