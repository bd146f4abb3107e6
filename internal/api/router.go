package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Open-Course-Factory/ocf-coursegen/internal/validation"
)

const serviceName = "ocf-coursegen"

// RouterConfig regroupe les réglages HTTP du service
type RouterConfig struct {
	// AllowedOrigin liste les origines CORS séparées par des virgules, "*" pour toutes
	AllowedOrigin string
	// MediaDir est servi sous /media quand le stockage est local, vide sinon
	MediaDir string
	// RateLimiter nil désactive la limitation
	RateLimiter RateLimiter
}

func SetupRouter(courseService CourseService, workers WorkerStatsProvider, media MediaReader, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLoggerMiddleware(logger.Named("http")))
	r.Use(SecurityHeadersMiddleware())
	r.Use(CORSMiddleware(cfg.AllowedOrigin))

	handlers := NewHandlers(courseService, workers, media, logger)
	validator := validation.NewAPIValidator(validation.DefaultValidationConfig())

	// Routes
	r.GET("/health", handlers.Health)

	if cfg.MediaDir != "" {
		r.Static("/media", cfg.MediaDir)
	}

	api := r.Group("/api/v1")
	api.Use(validation.Middleware(validator))
	api.Use(RateLimitMiddleware(cfg.RateLimiter, logger))
	{
		jobID := validation.ValidateJobIDParam("job_id")

		api.POST("/courses",
			validation.ParseCourseRequest(),
			validation.ValidateRequest(validation.ValidateCourseRequest),
			handlers.CreateCourse)
		api.GET("/courses/:job_id/status", validation.ValidateRequest(jobID), handlers.GetCourseStatus)
		api.GET("/courses/:job_id/slides/:slide_number",
			validation.ValidateRequest(jobID, validation.ValidateSlideNumberParam("slide_number")),
			handlers.GetSlide)
		api.GET("/courses/:job_id/lesson", validation.ValidateRequest(jobID), handlers.GetLesson)
		api.GET("/courses/:job_id/media", validation.ValidateRequest(jobID), handlers.ListCourseMedia)
		api.GET("/courses/:job_id/media/:name", validation.ValidateRequest(jobID), handlers.DownloadCourseMedia)

		api.GET("/users/:username/courses",
			validation.ValidateRequest(validation.ValidateUsernameParam("username")),
			handlers.ListUserCourses)

		api.GET("/worker/stats", handlers.GetWorkerStats)
	}

	return r
}
