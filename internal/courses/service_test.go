package courses

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []*models.CourseTask
	err   error
}

func (d *fakeDispatcher) Submit(task *models.CourseTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

type fakeSweeper struct {
	calls  int
	maxAge time.Duration
}

func (s *fakeSweeper) CleanupOldWorkspaces(maxAge time.Duration) (int, error) {
	s.calls++
	s.maxAge = maxAge
	return 2, nil
}

func TestService_StartCourse(t *testing.T) {
	repo := NewMemoryRepository()
	dispatcher := &fakeDispatcher{}
	service := NewService(repo, dispatcher, 0, nil)
	ctx := context.Background()

	course, err := service.StartCourse(ctx, &models.CourseRequest{InputPrompt: "  sql INJECTION", Username: "alice"})
	require.NoError(t, err)

	_, err = uuid.Parse(course.JobID)
	assert.NoError(t, err)
	assert.Equal(t, "Sql injection", course.Title)

	require.Len(t, dispatcher.tasks, 1)
	assert.Equal(t, course.JobID, dispatcher.tasks[0].JobID)
	assert.Equal(t, "  sql INJECTION", dispatcher.tasks[0].InputPrompt)
	assert.Equal(t, "alice", dispatcher.tasks[0].Username)

	// Un poll immédiat trouve le cours en cours de génération
	status, err := service.GetStatus(ctx, course.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.SlidesGenerated)
	assert.Equal(t, DefaultProvisionalSlides, status.TotalSlides)
	assert.False(t, status.Completed)
	assert.Equal(t, models.StatusLabelInProgress, status.Status)
	assert.Equal(t, models.StateCreated, status.State)
}

func TestService_StartCourse_DistinctJobIDs(t *testing.T) {
	service := NewService(NewMemoryRepository(), &fakeDispatcher{}, 5, nil)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		course, err := service.StartCourse(ctx, &models.CourseRequest{InputPrompt: "topic", Username: "alice"})
		require.NoError(t, err)
		assert.False(t, seen[course.JobID])
		seen[course.JobID] = true
		assert.Equal(t, 5, course.TotalSlides)
	}
}

func TestService_StartCourse_Rejected(t *testing.T) {
	for _, reason := range []string{"job queue is full", "worker pool is not running"} {
		t.Run(reason, func(t *testing.T) {
			repo := NewMemoryRepository()
			service := NewService(repo, &fakeDispatcher{err: errors.New(reason)}, 0, nil)
			ctx := context.Background()

			course, err := service.StartCourse(ctx, &models.CourseRequest{InputPrompt: "topic", Username: "alice"})
			assert.Nil(t, course)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrJobRejected)

			// Le cours rejeté reste visible en échec, avec la cause du refus
			var failed []*models.Course
			for _, c := range repo.courses {
				failed = append(failed, c)
			}
			require.Len(t, failed, 1)
			assert.Equal(t, models.StateFailed, failed[0].State)
			assert.Equal(t, reason, failed[0].Error)

			status, err := service.GetStatus(ctx, failed[0].JobID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusLabelFailed, status.Status)
			assert.Equal(t, reason, status.Error)
		})
	}
}

func TestService_GetStatus_Unknown(t *testing.T) {
	service := NewService(NewMemoryRepository(), &fakeDispatcher{}, 0, nil)

	_, err := service.GetStatus(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrCourseNotFound)
}

func TestService_GetSlide(t *testing.T) {
	repo := NewMemoryRepository()
	service := NewService(repo, &fakeDispatcher{}, 0, nil)
	ctx := context.Background()

	_, err := service.GetSlide(ctx, uuid.NewString(), 1)
	assert.ErrorIs(t, err, ErrCourseNotFound)

	course, err := service.StartCourse(ctx, &models.CourseRequest{InputPrompt: "topic", Username: "alice"})
	require.NoError(t, err)

	_, err = service.GetSlide(ctx, course.JobID, 1)
	assert.ErrorIs(t, err, ErrSlideNotFound)

	require.NoError(t, repo.AppendSlide(ctx, &models.Slide{JobID: course.JobID, SlideNumber: 1, Content: "intro"}))

	slide, err := service.GetSlide(ctx, course.JobID, 1)
	require.NoError(t, err)
	assert.Equal(t, "intro", slide.Content)
	assert.Equal(t, models.StringSlice{}, slide.Images)
}

func TestService_GetLesson(t *testing.T) {
	repo := NewMemoryRepository()
	service := NewService(repo, &fakeDispatcher{}, 0, nil)
	ctx := context.Background()

	_, err := service.GetLesson(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrCourseNotFound)

	course, err := service.StartCourse(ctx, &models.CourseRequest{InputPrompt: "topic", Username: "alice"})
	require.NoError(t, err)

	_, err = service.GetLesson(ctx, course.JobID)
	assert.ErrorIs(t, err, ErrLessonNotFound)

	require.NoError(t, repo.SaveLesson(ctx, course.JobID, "lesson text"))
	lesson, err := service.GetLesson(ctx, course.JobID)
	require.NoError(t, err)
	assert.Equal(t, "lesson text", lesson.Text)
}

func TestService_ListUserCourses(t *testing.T) {
	repo := NewMemoryRepository()
	service := NewService(repo, &fakeDispatcher{}, 0, nil)
	ctx := context.Background()

	_, err := service.ListUserCourses(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserCoursesNotFound)

	course, err := service.StartCourse(ctx, &models.CourseRequest{InputPrompt: "phishing", Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, repo.AddUserCourse(ctx, "alice", course.JobID))

	list, err := service.ListUserCourses(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []models.CourseSummary{{JobID: course.JobID, Title: "Phishing"}}, list)
}

func TestProgressReporter_Status(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		total     int
		slides    int
		state     models.CourseState
		completed bool
		label     string
	}{
		{"nothing generated yet", 10, 0, models.StateCreated, false, models.StatusLabelInProgress},
		{"partially enriched", 3, 2, models.StateEnriching, false, models.StatusLabelInProgress},
		{"all slides stored", 3, 3, models.StateEnriching, true, models.StatusLabelCompleted},
		{"zero slide course", 0, 0, models.StateCompleted, true, models.StatusLabelCompleted},
		{"failed midway", 3, 1, models.StateFailed, false, models.StatusLabelFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			course := newCourse("Topic")
			course.TotalSlides = tt.total
			require.NoError(t, repo.CreateCourse(ctx, course))
			for i := 1; i <= tt.slides; i++ {
				require.NoError(t, repo.AppendSlide(ctx, &models.Slide{JobID: course.JobID, SlideNumber: i, Content: "c"}))
			}
			require.NoError(t, repo.UpdateState(ctx, course.JobID, tt.state, ""))

			status, err := NewProgressReporter(repo).Status(ctx, course.JobID)
			require.NoError(t, err)
			assert.Equal(t, tt.slides, status.SlidesGenerated)
			assert.Equal(t, tt.total, status.TotalSlides)
			assert.Equal(t, tt.completed, status.Completed)
			assert.Equal(t, tt.label, status.Status)
			assert.LessOrEqual(t, status.SlidesGenerated, status.TotalSlides)
		})
	}
}

func TestCleanupService_RunOnce(t *testing.T) {
	repo := NewMemoryRepository()
	service := NewService(repo, &fakeDispatcher{}, 0, nil)
	ctx := context.Background()

	stuck := newCourse("Stuck")
	require.NoError(t, repo.CreateCourse(ctx, stuck))
	require.NoError(t, repo.UpdateState(ctx, stuck.JobID, models.StateEnriching, ""))

	fresh := newCourse("Fresh")
	require.NoError(t, repo.CreateCourse(ctx, fresh))

	// Le cours bloqué n'a plus progressé depuis deux heures
	repo.mu.Lock()
	repo.courses[stuck.JobID].UpdatedAt = time.Now().Add(-2 * time.Hour)
	repo.mu.Unlock()

	sweeper := &fakeSweeper{}
	cleanup := NewCleanupService(service, sweeper, time.Minute, time.Hour, nil)
	cleanup.RunOnce(ctx)

	got, err := repo.GetCourse(ctx, stuck.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, "stale job", got.Error)

	got, err = repo.GetCourse(ctx, fresh.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCreated, got.State)

	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, time.Hour, sweeper.maxAge)
}

func TestCleanupService_StartStop(t *testing.T) {
	service := NewService(NewMemoryRepository(), &fakeDispatcher{}, 0, nil)
	cleanup := NewCleanupService(service, nil, 10*time.Millisecond, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		cleanup.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cleanup.Stop()
	cleanup.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup service did not stop")
	}
}
