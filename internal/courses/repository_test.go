package courses

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/Open-Course-Factory/ocf-coursegen/internal/database"
	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

type repoFixture struct {
	repo       Repository
	putProfile func(p models.UserProfile)
}

func newSQLiteFixture(t *testing.T) repoFixture {
	t.Helper()

	db, err := database.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), "silent", nil)
	require.NoError(t, err)
	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate())

	return repoFixture{
		repo: NewCourseRepository(db.DB),
		putProfile: func(p models.UserProfile) {
			require.NoError(t, db.Create(&p).Error)
		},
	}
}

func newMemoryFixture(t *testing.T) repoFixture {
	repo := NewMemoryRepository()
	return repoFixture{repo: repo, putProfile: repo.PutUserProfile}
}

// forEachRepository exécute le même scénario sur chaque implémentation
func forEachRepository(t *testing.T, fn func(t *testing.T, f repoFixture)) {
	t.Run("gorm-sqlite", func(t *testing.T) { fn(t, newSQLiteFixture(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryFixture(t)) })
}

func newCourse(title string) *models.Course {
	return &models.Course{
		JobID:       uuid.NewString(),
		Title:       title,
		InputPrompt: title,
		Username:    "alice",
		TotalSlides: DefaultProvisionalSlides,
	}
}

func TestRepository_CourseLifecycle(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()
		course := newCourse("Sql injection")
		require.NoError(t, f.repo.CreateCourse(ctx, course))

		got, err := f.repo.GetCourse(ctx, course.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.StateCreated, got.State)
		assert.Equal(t, "Sql injection", got.Title)
		assert.Equal(t, DefaultProvisionalSlides, got.TotalSlides)
		assert.Nil(t, got.StartedAt)

		require.NoError(t, f.repo.RecordAttempt(ctx, course.JobID, 1))
		require.NoError(t, f.repo.UpdateState(ctx, course.JobID, models.StateKnowledgeFetched, ""))
		require.NoError(t, f.repo.SetTotalSlides(ctx, course.JobID, 3))

		got, err = f.repo.GetCourse(ctx, course.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.StateKnowledgeFetched, got.State)
		assert.Equal(t, 3, got.TotalSlides)
		assert.Equal(t, 1, got.Attempts)
		assert.NotNil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)

		require.NoError(t, f.repo.UpdateState(ctx, course.JobID, models.StateFailed, "boom"))
		got, err = f.repo.GetCourse(ctx, course.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.StateFailed, got.State)
		assert.Equal(t, "boom", got.Error)
		assert.NotNil(t, got.CompletedAt)
	})
}

func TestRepository_UnknownCourse(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()
		unknown := uuid.NewString()

		_, err := f.repo.GetCourse(ctx, unknown)
		assert.ErrorIs(t, err, ErrCourseNotFound)

		assert.ErrorIs(t, f.repo.UpdateState(ctx, unknown, models.StateFailed, "x"), ErrCourseNotFound)
		assert.ErrorIs(t, f.repo.SetTotalSlides(ctx, unknown, 2), ErrCourseNotFound)
		assert.ErrorIs(t, f.repo.AppendSlide(ctx, &models.Slide{JobID: unknown, SlideNumber: 1, Content: "x"}), ErrCourseNotFound)

		_, _, err = f.repo.GetProgress(ctx, unknown)
		assert.ErrorIs(t, err, ErrCourseNotFound)
	})
}

func TestRepository_AppendSlideEnforcesOrder(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()
		course := newCourse("Phishing")
		require.NoError(t, f.repo.CreateCourse(ctx, course))

		err := f.repo.AppendSlide(ctx, &models.Slide{JobID: course.JobID, SlideNumber: 2, Content: "too early"})
		assert.ErrorIs(t, err, ErrSlideOutOfOrder)

		for i := 1; i <= 3; i++ {
			require.NoError(t, f.repo.AppendSlide(ctx, &models.Slide{
				JobID:       course.JobID,
				SlideNumber: i,
				Content:     "content",
				Images:      models.StringSlice{"https://img/" + string(rune('0'+i))},
				Audio:       "",
			}))
		}

		err = f.repo.AppendSlide(ctx, &models.Slide{JobID: course.JobID, SlideNumber: 3, Content: "duplicate"})
		assert.ErrorIs(t, err, ErrSlideOutOfOrder)

		_, count, err := f.repo.GetProgress(ctx, course.JobID)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		slide, err := f.repo.GetSlide(ctx, course.JobID, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, slide.SlideNumber)
		assert.Equal(t, []string{"https://img/2"}, []string(slide.Images))
		assert.Equal(t, "", slide.Audio)

		for _, n := range []int{0, -1, 4} {
			_, err := f.repo.GetSlide(ctx, course.JobID, n)
			assert.ErrorIs(t, err, ErrSlideNotFound, "slide %d", n)
		}
	})
}

func TestRepository_Lesson(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()
		course := newCourse("Xss")
		require.NoError(t, f.repo.CreateCourse(ctx, course))

		_, err := f.repo.GetLesson(ctx, course.JobID)
		assert.ErrorIs(t, err, ErrLessonNotFound)

		require.NoError(t, f.repo.SaveLesson(ctx, course.JobID, "first draft"))
		require.NoError(t, f.repo.SaveLesson(ctx, course.JobID, "final text"))

		lesson, err := f.repo.GetLesson(ctx, course.JobID)
		require.NoError(t, err)
		assert.Equal(t, "final text", lesson.Text)
	})
}

func TestRepository_UserCourses(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()

		_, err := f.repo.ListUserCourses(ctx, "alice")
		assert.ErrorIs(t, err, ErrUserCoursesNotFound)

		first, second := newCourse("First topic"), newCourse("Second topic")
		require.NoError(t, f.repo.CreateCourse(ctx, first))
		require.NoError(t, f.repo.CreateCourse(ctx, second))

		require.NoError(t, f.repo.AddUserCourse(ctx, "alice", first.JobID))
		require.NoError(t, f.repo.AddUserCourse(ctx, "alice", second.JobID))
		require.NoError(t, f.repo.AddUserCourse(ctx, "alice", first.JobID))
		require.NoError(t, f.repo.AddUserCourse(ctx, "bob", second.JobID))

		list, err := f.repo.ListUserCourses(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []models.CourseSummary{
			{JobID: first.JobID, Title: "First topic"},
			{JobID: second.JobID, Title: "Second topic"},
		}, list)

		list, err = f.repo.ListUserCourses(ctx, "bob")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestRepository_UserProfile(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()

		_, err := f.repo.GetUserProfile(ctx, "carol")
		assert.ErrorIs(t, err, ErrProfileNotFound)

		f.putProfile(models.UserProfile{Username: "carol", Name: "Carol", Age: 34, Language: "en", WorkingProfessional: true})

		profile, err := f.repo.GetUserProfile(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, 34, profile.Age)
		assert.True(t, profile.WorkingProfessional)
	})
}

func TestRepository_FailStaleCourses(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()

		running, done := newCourse("Running"), newCourse("Done")
		require.NoError(t, f.repo.CreateCourse(ctx, running))
		require.NoError(t, f.repo.CreateCourse(ctx, done))
		require.NoError(t, f.repo.UpdateState(ctx, running.JobID, models.StateEnriching, ""))
		require.NoError(t, f.repo.UpdateState(ctx, done.JobID, models.StateCompleted, ""))

		// Rien n'est plus vieux qu'une heure
		failed, err := f.repo.FailStaleCourses(ctx, time.Now().Add(-time.Hour), "stale job")
		require.NoError(t, err)
		assert.Equal(t, int64(0), failed)

		failed, err = f.repo.FailStaleCourses(ctx, time.Now().Add(time.Hour), "stale job")
		require.NoError(t, err)
		assert.Equal(t, int64(1), failed)

		got, err := f.repo.GetCourse(ctx, running.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.StateFailed, got.State)
		assert.Equal(t, "stale job", got.Error)

		got, err = f.repo.GetCourse(ctx, done.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.StateCompleted, got.State)
	})
}

func TestRepository_GetProgress(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()
		course := newCourse("Xss")
		other := newCourse("Csrf")
		require.NoError(t, f.repo.CreateCourse(ctx, course))
		require.NoError(t, f.repo.CreateCourse(ctx, other))
		require.NoError(t, f.repo.SetTotalSlides(ctx, course.JobID, 2))
		for i := 1; i <= 2; i++ {
			require.NoError(t, f.repo.AppendSlide(ctx, &models.Slide{JobID: course.JobID, SlideNumber: i, Content: "c"}))
		}
		require.NoError(t, f.repo.AppendSlide(ctx, &models.Slide{JobID: other.JobID, SlideNumber: 1, Content: "c"}))
		require.NoError(t, f.repo.UpdateState(ctx, course.JobID, models.StateCompleted, ""))

		got, count, err := f.repo.GetProgress(ctx, course.JobID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, course.JobID, got.JobID)
		assert.Equal(t, "Xss", got.Title)
		assert.Equal(t, 2, got.TotalSlides)
		assert.Equal(t, models.StateCompleted, got.State)
		assert.NotNil(t, got.CompletedAt)

		_, count, err = f.repo.GetProgress(ctx, other.JobID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestRepository_TerminalCourseRefusesWrites(t *testing.T) {
	forEachRepository(t, func(t *testing.T, f repoFixture) {
		ctx := context.Background()
		course := newCourse("Stale")
		require.NoError(t, f.repo.CreateCourse(ctx, course))
		require.NoError(t, f.repo.AppendSlide(ctx, &models.Slide{JobID: course.JobID, SlideNumber: 1, Content: "intro"}))

		failed, err := f.repo.FailStaleCourses(ctx, time.Now().Add(time.Hour), "stale job")
		require.NoError(t, err)
		require.Equal(t, int64(1), failed)

		assert.ErrorIs(t, f.repo.UpdateState(ctx, course.JobID, models.StateKnowledgeFetched, ""), ErrCourseTerminal)
		assert.ErrorIs(t, f.repo.UpdateState(ctx, course.JobID, models.StateCompleted, ""), ErrCourseTerminal)
		assert.ErrorIs(t, f.repo.RecordAttempt(ctx, course.JobID, 2), ErrCourseTerminal)
		assert.ErrorIs(t, f.repo.SetTotalSlides(ctx, course.JobID, 5), ErrCourseTerminal)
		assert.ErrorIs(t, f.repo.AppendSlide(ctx, &models.Slide{JobID: course.JobID, SlideNumber: 2, Content: "late"}), ErrCourseTerminal)

		got, err := f.repo.GetCourse(ctx, course.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.StateFailed, got.State)
		assert.Equal(t, "stale job", got.Error)
		assert.Equal(t, DefaultProvisionalSlides, got.TotalSlides)
		assert.Zero(t, got.Attempts)

		_, count, err := f.repo.GetProgress(ctx, course.JobID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestMemoryRepository_ReadersSeeGrowingPrefix(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	course := newCourse("Concurrency")
	course.TotalSlides = 50
	require.NoError(t, repo.CreateCourse(ctx, course))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, count, err := repo.GetProgress(ctx, course.JobID)
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, count, last)
				last = count
				if count > 0 {
					slide, err := repo.GetSlide(ctx, course.JobID, count)
					assert.NoError(t, err)
					assert.Equal(t, count, slide.SlideNumber)
					assert.NotEmpty(t, slide.Images)
				}
			}
		}()
	}

	for i := 1; i <= 50; i++ {
		require.NoError(t, repo.AppendSlide(ctx, &models.Slide{
			JobID:       course.JobID,
			SlideNumber: i,
			Content:     "slide",
			Images:      models.StringSlice{"https://img"},
		}))
	}
	close(stop)
	wg.Wait()

	_, count, err := repo.GetProgress(ctx, course.JobID)
	require.NoError(t, err)
	assert.Equal(t, 50, count)
}
