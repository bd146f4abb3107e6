package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Open-Course-Factory/ocf-coursegen/internal/courses"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/storage"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/validation"
	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
	pkgstorage "github.com/Open-Course-Factory/ocf-coursegen/pkg/storage"
)

// CourseService regroupe les opérations exposées par l'API
type CourseService interface {
	StartCourse(ctx context.Context, req *models.CourseRequest) (*models.Course, error)
	GetStatus(ctx context.Context, jobID string) (*models.CourseStatus, error)
	GetSlide(ctx context.Context, jobID string, slideNumber int) (*models.Slide, error)
	GetLesson(ctx context.Context, jobID string) (*models.Lesson, error)
	ListUserCourses(ctx context.Context, username string) ([]models.CourseSummary, error)
}

// WorkerStatsProvider fournit l'état du pool de workers
type WorkerStatsProvider interface {
	GetStats() models.WorkerStats
}

// MediaReader donne accès aux médias d'un cours quel que soit le backend
type MediaReader interface {
	ListCourseMedia(ctx context.Context, jobID string) ([]string, error)
	DownloadCourseMedia(ctx context.Context, jobID, name string) (io.Reader, error)
}

type Handlers struct {
	courses CourseService
	workers WorkerStatsProvider
	media   MediaReader
	logger  *zap.Logger
}

func NewHandlers(courseService CourseService, workers WorkerStatsProvider, media MediaReader, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		courses: courseService,
		workers: workers,
		media:   media,
		logger:  logger.Named("api"),
	}
}

// Health check
func (h *Handlers) Health(c *gin.Context) {
	response := gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.workers != nil {
		response["workers_running"] = h.workers.GetStats().Running
	}
	c.JSON(http.StatusOK, response)
}

// CreateCourse accepte une demande de cours et rend la main immédiatement
func (h *Handlers) CreateCourse(c *gin.Context) {
	req := c.MustGet(validation.ValidatedRequestKey).(models.CourseRequest)

	course, err := h.courses.StartCourse(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, courses.ErrJobRejected) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "Course generation unavailable",
				"details": err.Error(),
			})
			return
		}
		h.internalError(c, "failed to start course", err)
		return
	}

	c.JSON(http.StatusAccepted, models.CourseAcceptedResponse{
		JobID:  course.JobID,
		Status: models.StatusLabelInProgress,
	})
}

// GetCourseStatus retourne la progression d'un job
func (h *Handlers) GetCourseStatus(c *gin.Context) {
	jobID := c.GetString(validation.ValidatedJobIDKey)

	status, err := h.courses.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetSlide retourne une slide déjà validée
func (h *Handlers) GetSlide(c *gin.Context) {
	jobID := c.GetString(validation.ValidatedJobIDKey)
	slideNumber := c.GetInt(validation.ValidatedSlideKey)

	slide, err := h.courses.GetSlide(c.Request.Context(), jobID, slideNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, slide)
}

// GetLesson retourne le texte brut de la leçon
func (h *Handlers) GetLesson(c *gin.Context) {
	jobID := c.GetString(validation.ValidatedJobIDKey)

	lesson, err := h.courses.GetLesson(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.LessonResponse{JobID: lesson.JobID, Lesson: lesson.Text})
}

// ListUserCourses liste les cours créés par un utilisateur, du plus ancien au plus récent
func (h *Handlers) ListUserCourses(c *gin.Context) {
	username := c.GetString(validation.ValidatedUsernameKey)

	summaries, err := h.courses.ListUserCourses(c.Request.Context(), username)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.UserCoursesResponse{Username: username, Courses: summaries})
}

// ListCourseMedia liste les médias générés pour un cours
func (h *Handlers) ListCourseMedia(c *gin.Context) {
	jobID := c.GetString(validation.ValidatedJobIDKey)

	// Le cours doit exister, même sans média encore publié
	if _, err := h.courses.GetStatus(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err)
		return
	}

	names, err := h.media.ListCourseMedia(c.Request.Context(), jobID)
	if err != nil {
		h.internalError(c, "failed to list course media", err)
		return
	}
	if names == nil {
		names = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"media":  names,
	})
}

// DownloadCourseMedia sert un média à travers le service de stockage
func (h *Handlers) DownloadCourseMedia(c *gin.Context) {
	jobID := c.GetString(validation.ValidatedJobIDKey)
	name := c.Param("name")

	reader, err := h.media.DownloadCourseMedia(c.Request.Context(), jobID, name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidMediaName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid media name"})
		case errors.Is(err, storage.ErrMediaNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		default:
			h.internalError(c, "failed to download course media", err)
		}
		return
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	c.DataFromReader(http.StatusOK, -1, pkgstorage.ContentType(name), reader, nil)
}

// GetWorkerStats retourne les statistiques du pool
func (h *Handlers) GetWorkerStats(c *gin.Context) {
	stats := h.workers.GetStats()

	usage := 0.0
	if stats.QueueCapacity > 0 {
		usage = float64(stats.QueueSize) / float64(stats.QueueCapacity) * 100
	}

	c.JSON(http.StatusOK, models.WorkerStatsResponse{
		WorkerPool: stats,
		QueueUsage: usage,
		Timestamp:  time.Now().UTC(),
	})
}

// respondError traduit les erreurs métier en codes HTTP
func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, courses.ErrCourseNotFound),
		errors.Is(err, courses.ErrSlideNotFound),
		errors.Is(err, courses.ErrLessonNotFound),
		errors.Is(err, courses.ErrUserCoursesNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.internalError(c, "request failed", err)
	}
}

func (h *Handlers) internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	h.logger.Error(msg,
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
