package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Open-Course-Factory/ocf-coursegen/internal/courses"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/events"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/genai"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/splitter"
	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

const (
	knowledgeMaxTokens = 500
	lessonMaxTokens    = 2000
)

// SlideEnricher produit une slide complète à partir de son texte
type SlideEnricher interface {
	Enrich(ctx context.Context, jobID string, slideNumber int, text string) models.Slide
	ReleaseWorkspace(jobID string)
}

// ProcessorConfig contient les modèles et la politique de retry du job
type ProcessorConfig struct {
	KnowledgeModel         string
	GeneralModel           string
	KnowledgeMaxAttempts   int
	KnowledgeRetryDelay    time.Duration
	KnowledgeRetryMaxDelay time.Duration
}

// DefaultProcessorConfig retourne la configuration par défaut
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		KnowledgeModel:         "/models/WhiteRabbitNeo-33B-DeepSeekCoder",
		GeneralModel:           "azure/gpt-4o",
		KnowledgeMaxAttempts:   5,
		KnowledgeRetryDelay:    5 * time.Second,
		KnowledgeRetryMaxDelay: time.Minute,
	}
}

// JobResult contient le résultat du traitement d'un job
type JobResult struct {
	Success         bool
	Error           error
	Duration        time.Duration
	SlidesGenerated int
	TotalSlides     int
	Attempts        int
}

// JobProcessor exécute le job de génération d'un cours, étape par étape
type JobProcessor struct {
	repo      courses.Repository
	text      genai.TextGenerator
	enricher  SlideEnricher
	publisher events.Publisher
	config    ProcessorConfig
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewJobProcessor crée un processeur. publisher peut être nil.
func NewJobProcessor(
	repo courses.Repository,
	text genai.TextGenerator,
	enricher SlideEnricher,
	publisher events.Publisher,
	config ProcessorConfig,
	logger *zap.Logger,
) *JobProcessor {
	defaults := DefaultProcessorConfig()
	if config.KnowledgeMaxAttempts <= 0 {
		config.KnowledgeMaxAttempts = defaults.KnowledgeMaxAttempts
	}
	if config.KnowledgeRetryDelay <= 0 {
		config.KnowledgeRetryDelay = defaults.KnowledgeRetryDelay
	}
	if config.KnowledgeRetryMaxDelay <= 0 {
		config.KnowledgeRetryMaxDelay = defaults.KnowledgeRetryMaxDelay
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JobProcessor{
		repo:      repo,
		text:      text,
		enricher:  enricher,
		publisher: publisher,
		config:    config,
		tracer:    otel.Tracer("ocf-coursegen/worker"),
		logger:    logger.Named("processor"),
	}
}

// ProcessJob traite un job de génération complet. Le cours a été créé à l'admission.
func (p *JobProcessor) ProcessJob(ctx context.Context, task *models.CourseTask) *JobResult {
	startTime := time.Now()
	result := &JobResult{}

	ctx, span := p.tracer.Start(ctx, "JobProcessor.ProcessJob")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", task.JobID))

	log := p.logger.With(zap.String("job_id", task.JobID))

	fail := func(err error) *JobResult {
		span.RecordError(err)
		result.Error = err
		result.Duration = time.Since(startTime)
		if errors.Is(err, courses.ErrCourseTerminal) {
			// Cours clos pendant le job (job périmé): son état final est conservé
			log.Warn("Course closed while its job was running", zap.Error(err))
			return result
		}
		p.markFailed(ctx, task.JobID, err, log)
		return result
	}

	// Un job resté en file après l'échec de son cours ne doit pas le rouvrir
	course, err := p.repo.GetCourse(ctx, task.JobID)
	if err != nil {
		return fail(fmt.Errorf("failed to load course: %w", err))
	}
	if course.State.IsTerminal() {
		log.Warn("Course already closed, job skipped", zap.String("state", string(course.State)))
		result.Error = fmt.Errorf("%w: %s", courses.ErrCourseTerminal, course.State)
		result.Duration = time.Since(startTime)
		return result
	}

	// Étape 1: connaissances de fond, avec retry borné
	log.Info("Fetching background knowledge", zap.String("model", p.config.KnowledgeModel))
	knowledge, attempts, err := p.fetchKnowledge(ctx, task, log)
	result.Attempts = attempts
	if err != nil {
		return fail(fmt.Errorf("knowledge fetch failed: %w", err))
	}
	if err := p.repo.UpdateState(ctx, task.JobID, models.StateKnowledgeFetched, ""); err != nil {
		return fail(fmt.Errorf("failed to update job state: %w", err))
	}

	// Étape 2: rédaction du cours selon le profil du lecteur
	profile := p.loadProfile(ctx, task.Username, log)
	log.Info("Generating lesson text", zap.String("model", p.config.GeneralModel))
	lesson, err := p.text.Generate(ctx, p.config.GeneralModel, []genai.Message{
		genai.UserMessage(LessonPrompt(task.InputPrompt, knowledge, profile)),
	}, lessonMaxTokens)
	if err != nil {
		return fail(fmt.Errorf("lesson generation failed: %w", err))
	}
	if err := p.repo.SaveLesson(ctx, task.JobID, lesson); err != nil {
		return fail(fmt.Errorf("failed to save lesson: %w", err))
	}
	if err := p.repo.UpdateState(ctx, task.JobID, models.StateTextGenerated, ""); err != nil {
		return fail(fmt.Errorf("failed to update job state: %w", err))
	}

	// Étape 3: segmentation, le total devient définitif
	slides := splitter.Segment(lesson)
	result.TotalSlides = len(slides)
	if err := p.repo.SetTotalSlides(ctx, task.JobID, len(slides)); err != nil {
		return fail(fmt.Errorf("failed to set total slides: %w", err))
	}
	if err := p.repo.AddUserCourse(ctx, task.Username, task.JobID); err != nil {
		return fail(fmt.Errorf("failed to register user course: %w", err))
	}
	if err := p.repo.UpdateState(ctx, task.JobID, models.StateSegmented, ""); err != nil {
		return fail(fmt.Errorf("failed to update job state: %w", err))
	}
	p.publish(ctx, &models.ProgressEvent{JobID: task.JobID, State: models.StateSegmented, TotalSlides: len(slides)}, log)
	log.Info("Lesson segmented", zap.Int("total_slides", len(slides)))

	// Étape 4: enrichissement et commit slide par slide
	if len(slides) > 0 {
		if err := p.repo.UpdateState(ctx, task.JobID, models.StateEnriching, ""); err != nil {
			return fail(fmt.Errorf("failed to update job state: %w", err))
		}
		defer p.enricher.ReleaseWorkspace(task.JobID)
	}

	for i, text := range slides {
		number := i + 1
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("job interrupted before slide %d: %w", number, err))
		}

		slide := p.enricher.Enrich(ctx, task.JobID, number, text)
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("job interrupted during slide %d: %w", number, err))
		}

		if err := p.repo.AppendSlide(ctx, &slide); err != nil {
			return fail(fmt.Errorf("failed to store slide %d: %w", number, err))
		}
		result.SlidesGenerated = number

		p.publish(ctx, &models.ProgressEvent{
			JobID:       task.JobID,
			State:       models.StateEnriching,
			SlideNumber: number,
			TotalSlides: len(slides),
		}, log)
		log.Debug("Slide committed", zap.Int("slide", number), zap.Int("total_slides", len(slides)))
	}

	// Étape 5: terminé
	if err := p.repo.UpdateState(ctx, task.JobID, models.StateCompleted, ""); err != nil {
		return fail(fmt.Errorf("failed to update final job state: %w", err))
	}
	p.publish(ctx, &models.ProgressEvent{JobID: task.JobID, State: models.StateCompleted, TotalSlides: len(slides)}, log)

	result.Success = true
	result.Duration = time.Since(startTime)
	log.Info("Course generated",
		zap.Int("slides", result.SlidesGenerated),
		zap.Int("knowledge_attempts", result.Attempts),
		zap.Duration("duration", result.Duration))
	return result
}

// fetchKnowledge appelle le modèle de connaissances avec un backoff exponentiel borné
func (p *JobProcessor) fetchKnowledge(ctx context.Context, task *models.CourseTask, log *zap.Logger) (string, int, error) {
	messages := []genai.Message{genai.UserMessage(KnowledgePrompt(task.InputPrompt))}

	for attempt := 1; ; attempt++ {
		if err := p.repo.RecordAttempt(ctx, task.JobID, attempt); err != nil {
			return "", attempt, fmt.Errorf("failed to record attempt: %w", err)
		}

		knowledge, err := p.text.Generate(ctx, p.config.KnowledgeModel, messages, knowledgeMaxTokens)
		if err == nil {
			return knowledge, attempt, nil
		}
		if ctx.Err() != nil {
			return "", attempt, ctx.Err()
		}
		if attempt >= p.config.KnowledgeMaxAttempts {
			return "", attempt, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		delay := genai.Backoff(attempt, p.config.KnowledgeRetryDelay, p.config.KnowledgeRetryMaxDelay)
		log.Warn("Knowledge fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.config.KnowledgeMaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

// loadProfile retourne le profil du demandeur ou un profil neutre
func (p *JobProcessor) loadProfile(ctx context.Context, username string, log *zap.Logger) models.UserProfile {
	profile, err := p.repo.GetUserProfile(ctx, username)
	if err != nil {
		if errors.Is(err, courses.ErrProfileNotFound) {
			log.Info("No profile for user, using default profile", zap.String("username", username))
		} else {
			log.Warn("Failed to load user profile, using default profile", zap.String("username", username), zap.Error(err))
		}
		return models.UserProfile{Username: username}
	}
	return *profile
}

// Reject passe en échec un job qui ne sera jamais exécuté
func (p *JobProcessor) Reject(task *models.CourseTask, reason string) {
	p.markFailed(context.Background(), task.JobID, errors.New(reason), p.logger.With(zap.String("job_id", task.JobID)))
}

func (p *JobProcessor) markFailed(ctx context.Context, jobID string, cause error, log *zap.Logger) {
	// Le contexte du job peut être expiré: l'échec doit quand même être enregistré
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	log.Error("Course job failed", zap.Error(cause))
	if err := p.repo.UpdateState(storeCtx, jobID, models.StateFailed, cause.Error()); err != nil {
		if errors.Is(err, courses.ErrCourseTerminal) {
			log.Info("Course already closed, failure not recorded")
			return
		}
		log.Error("Failed to mark job as failed", zap.Error(err))
	}
	p.publish(storeCtx, &models.ProgressEvent{JobID: jobID, State: models.StateFailed, Error: cause.Error()}, log)
}

func (p *JobProcessor) publish(ctx context.Context, event *models.ProgressEvent, log *zap.Logger) {
	if err := p.publisher.Publish(ctx, event); err != nil {
		log.Warn("Failed to publish progress event", zap.String("state", string(event.State)), zap.Error(err))
	}
}
