package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Open-Course-Factory/ocf-coursegen/internal/courses"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/genai"
	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

const (
	testKnowledgeModel = "knowledge-model"
	testGeneralModel   = "general-model"
	testPlaceholder    = "https://cdn.example.org/placeholder.png"
)

type scriptedText struct {
	mu                 sync.Mutex
	knowledgeFailures  int
	knowledgeAlwaysErr bool
	knowledge          string
	lesson             string
	lessonErr          error
	knowledgeCalls     int
	lessonPrompts      []string
}

func (s *scriptedText) Generate(ctx context.Context, model string, messages []genai.Message, maxTokens int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch model {
	case testKnowledgeModel:
		s.knowledgeCalls++
		if s.knowledgeAlwaysErr || s.knowledgeCalls <= s.knowledgeFailures {
			return "", &genai.ServiceError{Provider: "kindo", StatusCode: 500, Body: "upstream down"}
		}
		return s.knowledge, nil
	case testGeneralModel:
		s.lessonPrompts = append(s.lessonPrompts, messages[0].Content)
		return s.lesson, s.lessonErr
	}
	return "", errors.New("unexpected model " + model)
}

type fakeEnricher struct {
	mu       sync.Mutex
	calls    []int
	released []string
	onEnrich func(slideNumber int)
}

func (f *fakeEnricher) Enrich(ctx context.Context, jobID string, slideNumber int, text string) models.Slide {
	f.mu.Lock()
	f.calls = append(f.calls, slideNumber)
	hook := f.onEnrich
	f.mu.Unlock()

	if hook != nil {
		hook(slideNumber)
	}
	return models.Slide{
		JobID:       jobID,
		SlideNumber: slideNumber,
		Content:     text,
		Images:      models.StringSlice{testPlaceholder},
	}
}

func (f *fakeEnricher) ReleaseWorkspace(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, jobID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ProgressEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event *models.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// failingAppendRepo simule une panne du store pendant l'append
type failingAppendRepo struct {
	courses.Repository
}

func (r failingAppendRepo) AppendSlide(ctx context.Context, slide *models.Slide) error {
	return errors.New("database unavailable")
}

type processorFixture struct {
	repo      *courses.MemoryRepository
	text      *scriptedText
	enricher  *fakeEnricher
	publisher *recordingPublisher
	processor *JobProcessor
	task      *models.CourseTask
}

func newProcessorFixture(t *testing.T, text *scriptedText) *processorFixture {
	t.Helper()

	repo := courses.NewMemoryRepository()
	task := &models.CourseTask{JobID: uuid.NewString(), InputPrompt: "SQL Injection", Username: "alice"}
	require.NoError(t, repo.CreateCourse(context.Background(), &models.Course{
		JobID:       task.JobID,
		Title:       models.CapitalizeTitle(task.InputPrompt),
		InputPrompt: task.InputPrompt,
		Username:    task.Username,
		TotalSlides: courses.DefaultProvisionalSlides,
	}))

	f := &processorFixture{
		repo:      repo,
		text:      text,
		enricher:  &fakeEnricher{},
		publisher: &recordingPublisher{},
		task:      task,
	}
	f.processor = NewJobProcessor(repo, text, f.enricher, f.publisher, testProcessorConfig(), nil)
	return f
}

func testProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		KnowledgeModel:         testKnowledgeModel,
		GeneralModel:           testGeneralModel,
		KnowledgeMaxAttempts:   3,
		KnowledgeRetryDelay:    time.Millisecond,
		KnowledgeRetryMaxDelay: 5 * time.Millisecond,
	}
}

const threeParagraphLesson = "SQL injection abuses **unsanitised** input.\n\n" +
	"Attackers close quotes and append clauses.\n \n" +
	"*** --- ***\n\n" +
	"## Defend with parameterised queries."

func TestProcessJob_Success(t *testing.T) {
	f := newProcessorFixture(t, &scriptedText{knowledge: "background", lesson: threeParagraphLesson})
	ctx := context.Background()

	result := f.processor.ProcessJob(ctx, f.task)
	require.NoError(t, result.Error)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.SlidesGenerated)
	assert.Equal(t, 3, result.TotalSlides)
	assert.Equal(t, 1, result.Attempts)

	course, err := f.repo.GetCourse(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, course.State)
	assert.Equal(t, 3, course.TotalSlides)
	assert.NotNil(t, course.CompletedAt)

	expected := []string{
		"SQL injection abuses unsanitised input.",
		"Attackers close quotes and append clauses.",
		"Defend with parameterised queries.",
	}
	for i, content := range expected {
		slide, err := f.repo.GetSlide(ctx, f.task.JobID, i+1)
		require.NoError(t, err)
		assert.Equal(t, content, slide.Content)
		assert.Equal(t, []string{testPlaceholder}, []string(slide.Images))
	}

	status, err := courses.NewProgressReporter(f.repo).Status(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.True(t, status.Completed)
	assert.Equal(t, models.StatusLabelCompleted, status.Status)

	lesson, err := f.repo.GetLesson(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, threeParagraphLesson, lesson.Text)

	list, err := f.repo.ListUserCourses(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []models.CourseSummary{{JobID: f.task.JobID, Title: "Sql injection"}}, list)

	assert.Equal(t, []int{1, 2, 3}, f.enricher.calls)
	assert.Equal(t, []string{f.task.JobID}, f.enricher.released)

	var states []models.CourseState
	for _, e := range f.publisher.events {
		states = append(states, e.State)
	}
	assert.Equal(t, []models.CourseState{
		models.StateSegmented,
		models.StateEnriching,
		models.StateEnriching,
		models.StateEnriching,
		models.StateCompleted,
	}, states)
	assert.Equal(t, 3, f.publisher.events[3].SlideNumber)
}

func TestProcessJob_KnowledgeRetriedThenSucceeds(t *testing.T) {
	text := &scriptedText{knowledgeFailures: 2, knowledge: "background", lesson: "One slide only."}
	f := newProcessorFixture(t, text)
	ctx := context.Background()

	result := f.processor.ProcessJob(ctx, f.task)
	require.True(t, result.Success, "error: %v", result.Error)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, text.knowledgeCalls)

	course, err := f.repo.GetCourse(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, 3, course.Attempts)
	assert.Equal(t, models.StateCompleted, course.State)
}

func TestProcessJob_KnowledgeRetryExhausted(t *testing.T) {
	text := &scriptedText{knowledgeAlwaysErr: true, lesson: "never used"}
	f := newProcessorFixture(t, text)
	ctx := context.Background()

	result := f.processor.ProcessJob(ctx, f.task)
	assert.False(t, result.Success)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "knowledge fetch failed")

	var serviceErr *genai.ServiceError
	assert.True(t, errors.As(result.Error, &serviceErr))

	assert.Equal(t, 3, text.knowledgeCalls)
	assert.Empty(t, text.lessonPrompts)

	course, err := f.repo.GetCourse(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, course.State)
	assert.Equal(t, 3, course.Attempts)
	assert.Contains(t, course.Error, "giving up after 3 attempts")

	status, err := courses.NewProgressReporter(f.repo).Status(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLabelFailed, status.Status)
	assert.Equal(t, 0, status.SlidesGenerated)

	require.NotEmpty(t, f.publisher.events)
	assert.Equal(t, models.StateFailed, f.publisher.events[len(f.publisher.events)-1].State)
}

func TestProcessJob_KnowledgeBackoffHonoursCancellation(t *testing.T) {
	text := &scriptedText{knowledgeAlwaysErr: true}
	f := newProcessorFixture(t, text)
	cfg := testProcessorConfig()
	cfg.KnowledgeRetryDelay = time.Hour
	cfg.KnowledgeRetryMaxDelay = time.Hour
	f.processor = NewJobProcessor(f.repo, text, f.enricher, f.publisher, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := f.processor.ProcessJob(ctx, f.task)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)

	// L'échec est enregistré malgré le contexte expiré
	course, err := f.repo.GetCourse(context.Background(), f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, course.State)
}

func TestProcessJob_LessonFailureMarksFailed(t *testing.T) {
	f := newProcessorFixture(t, &scriptedText{knowledge: "background", lessonErr: errors.New("model overloaded")})
	ctx := context.Background()

	result := f.processor.ProcessJob(ctx, f.task)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error.Error(), "lesson generation failed")

	course, err := f.repo.GetCourse(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, course.State)
	assert.Equal(t, courses.DefaultProvisionalSlides, course.TotalSlides)

	_, err = f.repo.GetLesson(ctx, f.task.JobID)
	assert.ErrorIs(t, err, courses.ErrLessonNotFound)
}

func TestProcessJob_ZeroSlidesCompletesImmediately(t *testing.T) {
	f := newProcessorFixture(t, &scriptedText{knowledge: "background", lesson: "  \n\n *** \n\n ###"})
	ctx := context.Background()

	result := f.processor.ProcessJob(ctx, f.task)
	require.True(t, result.Success, "error: %v", result.Error)
	assert.Equal(t, 0, result.TotalSlides)

	status, err := courses.NewProgressReporter(f.repo).Status(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.TotalSlides)
	assert.True(t, status.Completed)
	assert.Equal(t, models.StateCompleted, status.State)

	assert.Empty(t, f.enricher.calls)
	assert.Empty(t, f.enricher.released)
}

func TestProcessJob_CancelledBetweenSlides(t *testing.T) {
	f := newProcessorFixture(t, &scriptedText{knowledge: "background", lesson: threeParagraphLesson})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.enricher.onEnrich = func(slideNumber int) {
		if slideNumber == 2 {
			cancel()
		}
	}

	result := f.processor.ProcessJob(ctx, f.task)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, context.Canceled)
	assert.Equal(t, 1, result.SlidesGenerated)

	bg := context.Background()
	course, err := f.repo.GetCourse(bg, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, course.State)

	_, count, err := f.repo.GetProgress(bg, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{f.task.JobID}, f.enricher.released)
}

func TestProcessJob_StorageErrorIsFatal(t *testing.T) {
	f := newProcessorFixture(t, &scriptedText{knowledge: "background", lesson: threeParagraphLesson})
	f.processor = NewJobProcessor(failingAppendRepo{f.repo}, f.text, f.enricher, f.publisher, testProcessorConfig(), nil)
	ctx := context.Background()

	result := f.processor.ProcessJob(ctx, f.task)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error.Error(), "failed to store slide 1")
	assert.Equal(t, []int{1}, f.enricher.calls)

	course, err := f.repo.GetCourse(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, course.State)
	assert.Equal(t, 3, course.TotalSlides)
}

func TestProcessJob_PublishErrorDoesNotFailJob(t *testing.T) {
	f := newProcessorFixture(t, &scriptedText{knowledge: "background", lesson: threeParagraphLesson})
	f.publisher.err = errors.New("redis down")

	result := f.processor.ProcessJob(context.Background(), f.task)
	assert.True(t, result.Success)
	assert.Len(t, f.publisher.events, 5)
}

func TestProcessJob_ProfileShapesLessonPrompt(t *testing.T) {
	t.Run("working professional", func(t *testing.T) {
		text := &scriptedText{knowledge: "background facts", lesson: "Body."}
		f := newProcessorFixture(t, text)
		f.repo.PutUserProfile(models.UserProfile{Username: "alice", Age: 40, WorkingProfessional: true})

		require.True(t, f.processor.ProcessJob(context.Background(), f.task).Success)
		require.Len(t, text.lessonPrompts, 1)
		assert.Contains(t, text.lessonPrompts[0], "working professional")
		assert.Contains(t, text.lessonPrompts[0], "background facts")
		assert.Contains(t, text.lessonPrompts[0], "SQL Injection")
	})

	t.Run("missing profile falls back to default", func(t *testing.T) {
		text := &scriptedText{knowledge: "background facts", lesson: "Body."}
		f := newProcessorFixture(t, text)

		require.True(t, f.processor.ProcessJob(context.Background(), f.task).Success)
		require.Len(t, text.lessonPrompts, 1)
		assert.Contains(t, text.lessonPrompts[0], "curious learner")
	})
}

func TestProcessJob_SkipsCourseFailedWhileQueued(t *testing.T) {
	text := &scriptedText{knowledge: "background", lesson: threeParagraphLesson}
	f := newProcessorFixture(t, text)
	ctx := context.Background()

	failed, err := f.repo.FailStaleCourses(ctx, time.Now().Add(time.Hour), "stale job")
	require.NoError(t, err)
	require.Equal(t, int64(1), failed)

	result := f.processor.ProcessJob(ctx, f.task)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, courses.ErrCourseTerminal)

	course, err := f.repo.GetCourse(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, course.State)
	assert.Equal(t, "stale job", course.Error)

	status, err := courses.NewProgressReporter(f.repo).Status(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLabelFailed, status.Status)

	assert.Zero(t, text.knowledgeCalls)
	assert.Empty(t, f.enricher.calls)
	assert.Empty(t, f.publisher.events)
}

func TestProcessJob_CourseFailedMidRunStaysFailed(t *testing.T) {
	f := newProcessorFixture(t, &scriptedText{knowledge: "background", lesson: threeParagraphLesson})
	ctx := context.Background()
	f.enricher.onEnrich = func(slideNumber int) {
		if slideNumber == 2 {
			_, err := f.repo.FailStaleCourses(ctx, time.Now().Add(time.Hour), "stale job")
			require.NoError(t, err)
		}
	}

	result := f.processor.ProcessJob(ctx, f.task)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, courses.ErrCourseTerminal)
	assert.Equal(t, 1, result.SlidesGenerated)

	course, err := f.repo.GetCourse(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, course.State)
	assert.Equal(t, "stale job", course.Error)

	_, count, err := f.repo.GetProgress(ctx, f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{f.task.JobID}, f.enricher.released)

	for _, e := range f.publisher.events {
		assert.NotEqual(t, models.StateCompleted, e.State)
	}
}

func TestJobProcessor_Reject(t *testing.T) {
	f := newProcessorFixture(t, &scriptedText{})

	f.processor.Reject(f.task, "service shutting down")

	course, err := f.repo.GetCourse(context.Background(), f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, course.State)
	assert.Equal(t, "service shutting down", course.Error)

	// Un second rejet ne remplace pas la cause enregistrée
	f.processor.Reject(f.task, "stale job")
	course, err = f.repo.GetCourse(context.Background(), f.task.JobID)
	require.NoError(t, err)
	assert.Equal(t, "service shutting down", course.Error)
}

func TestPrompts(t *testing.T) {
	assert.Contains(t, KnowledgePrompt("  XSS  "), "topic: XSS.")

	tests := []struct {
		name    string
		profile models.UserProfile
		want    string
	}{
		{"professional", models.UserProfile{Age: 30, WorkingProfessional: true}, "working professional"},
		{"teenager", models.UserProfile{Age: 15}, "15 years old so the article should use simple words"},
		{"adult", models.UserProfile{Age: 35}, "35 years old and is not a professional"},
		{"unknown", models.UserProfile{}, "curious learner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := LessonPrompt("XSS", "knowledge", tt.profile)
			assert.Contains(t, prompt, tt.want)
			assert.True(t, strings.HasPrefix(prompt, "User question: XSS "))
		})
	}
}
