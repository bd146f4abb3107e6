package courses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// DefaultProvisionalSlides est le nombre de slides annoncé avant la segmentation
const DefaultProvisionalSlides = 10

// Dispatcher met un job en file d'exécution sans bloquer
type Dispatcher interface {
	Submit(task *models.CourseTask) error
}

type Service struct {
	repo              Repository
	progress          *ProgressReporter
	dispatcher        Dispatcher
	provisionalSlides int
	tracer            trace.Tracer
	logger            *zap.Logger
}

func NewService(repo Repository, dispatcher Dispatcher, provisionalSlides int, logger *zap.Logger) *Service {
	if provisionalSlides <= 0 {
		provisionalSlides = DefaultProvisionalSlides
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:              repo,
		progress:          NewProgressReporter(repo),
		dispatcher:        dispatcher,
		provisionalSlides: provisionalSlides,
		tracer:            otel.Tracer("ocf-coursegen/courses"),
		logger:            logger.Named("courses"),
	}
}

// StartCourse crée l'enregistrement du cours puis soumet le job. Le cours existe
// avant la mise en file: un poll immédiat trouve toujours un statut "In Progress".
func (s *Service) StartCourse(ctx context.Context, req *models.CourseRequest) (*models.Course, error) {
	ctx, span := s.tracer.Start(ctx, "CourseService.StartCourse")
	defer span.End()

	course := &models.Course{
		JobID:       uuid.NewString(),
		Title:       models.CapitalizeTitle(req.InputPrompt),
		InputPrompt: req.InputPrompt,
		Username:    req.Username,
		TotalSlides: s.provisionalSlides,
		State:       models.StateCreated,
	}
	span.SetAttributes(attribute.String("job_id", course.JobID))

	if err := s.repo.CreateCourse(ctx, course); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to create course", zap.String("job_id", course.JobID), zap.Error(err))
		return nil, fmt.Errorf("failed to create course: %w", err)
	}

	task := &models.CourseTask{
		JobID:       course.JobID,
		InputPrompt: req.InputPrompt,
		Username:    req.Username,
	}
	if err := s.dispatcher.Submit(task); err != nil {
		span.RecordError(err)
		s.logger.Warn("course job rejected", zap.String("job_id", course.JobID), zap.Error(err))
		if uerr := s.repo.UpdateState(context.WithoutCancel(ctx), course.JobID, models.StateFailed, err.Error()); uerr != nil {
			s.logger.Error("failed to mark rejected course as failed", zap.String("job_id", course.JobID), zap.Error(uerr))
		}
		return nil, fmt.Errorf("%w: %w", ErrJobRejected, err)
	}

	s.logger.Info("course job accepted",
		zap.String("job_id", course.JobID),
		zap.String("username", course.Username),
		zap.String("title", course.Title))
	return course, nil
}

func (s *Service) GetStatus(ctx context.Context, jobID string) (*models.CourseStatus, error) {
	ctx, span := s.tracer.Start(ctx, "CourseService.GetStatus")
	defer span.End()

	status, err := s.progress.Status(ctx, jobID)
	if err != nil && !errors.Is(err, ErrCourseNotFound) {
		span.RecordError(err)
		s.logger.Error("failed to get course status", zap.String("job_id", jobID), zap.Error(err))
	}
	return status, err
}

// GetSlide retourne une slide validée. Un numéro hors de [1, count] est ErrSlideNotFound.
func (s *Service) GetSlide(ctx context.Context, jobID string, slideNumber int) (*models.Slide, error) {
	ctx, span := s.tracer.Start(ctx, "CourseService.GetSlide")
	defer span.End()

	if _, err := s.repo.GetCourse(ctx, jobID); err != nil {
		return nil, err
	}

	slide, err := s.repo.GetSlide(ctx, jobID, slideNumber)
	if err != nil && !errors.Is(err, ErrSlideNotFound) {
		span.RecordError(err)
		s.logger.Error("failed to get slide", zap.String("job_id", jobID), zap.Int("slide", slideNumber), zap.Error(err))
	}
	return slide, err
}

func (s *Service) GetLesson(ctx context.Context, jobID string) (*models.Lesson, error) {
	ctx, span := s.tracer.Start(ctx, "CourseService.GetLesson")
	defer span.End()

	if _, err := s.repo.GetCourse(ctx, jobID); err != nil {
		return nil, err
	}
	return s.repo.GetLesson(ctx, jobID)
}

func (s *Service) ListUserCourses(ctx context.Context, username string) ([]models.CourseSummary, error) {
	ctx, span := s.tracer.Start(ctx, "CourseService.ListUserCourses")
	defer span.End()

	summaries, err := s.repo.ListUserCourses(ctx, username)
	if err != nil && !errors.Is(err, ErrUserCoursesNotFound) {
		span.RecordError(err)
		s.logger.Error("failed to list user courses", zap.String("username", username), zap.Error(err))
	}
	return summaries, err
}

// FailStaleCourses passe en échec les jobs bloqués depuis plus de maxAge
func (s *Service) FailStaleCourses(ctx context.Context, maxAge time.Duration) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "CourseService.FailStaleCourses")
	defer span.End()

	failed, err := s.repo.FailStaleCourses(ctx, time.Now().Add(-maxAge), "stale job")
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to fail stale courses: %w", err)
	}
	if failed > 0 {
		s.logger.Warn("stale course jobs marked as failed", zap.Int64("count", failed))
	}
	return failed, nil
}
