package courses

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

type userCourseEntry struct {
	username string
	jobID    string
}

// MemoryRepository est un store en mémoire (COURSE_STORE=memory, tests).
// Les slides d'un cours sont remplacées par une nouvelle tranche à chaque append:
// un lecteur travaille toujours sur un préfixe cohérent.
type MemoryRepository struct {
	mu          sync.RWMutex
	courses     map[string]*models.Course
	slides      map[string][]models.Slide
	lessons     map[string]*models.Lesson
	userCourses []userCourseEntry
	profiles    map[string]*models.UserProfile
	now         func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		courses:  make(map[string]*models.Course),
		slides:   make(map[string][]models.Slide),
		lessons:  make(map[string]*models.Lesson),
		profiles: make(map[string]*models.UserProfile),
		now:      time.Now,
	}
}

// PutUserProfile enregistre un profil (le service d'inscription est externe)
func (m *MemoryRepository) PutUserProfile(profile models.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := profile
	m.profiles[profile.Username] = &p
}

func (m *MemoryRepository) CreateCourse(ctx context.Context, course *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.courses[course.JobID]; exists {
		return fmt.Errorf("course %s already exists", course.JobID)
	}

	now := m.now()
	course.CreatedAt = now
	course.UpdatedAt = now
	if course.State == "" {
		course.State = models.StateCreated
	}

	c := *course
	m.courses[course.JobID] = &c
	return nil
}

func (m *MemoryRepository) GetCourse(ctx context.Context, jobID string) (*models.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	course, ok := m.courses[jobID]
	if !ok {
		return nil, ErrCourseNotFound
	}
	c := *course
	return &c, nil
}

func (m *MemoryRepository) mutate(jobID string, fn func(c *models.Course)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	course, ok := m.courses[jobID]
	if !ok {
		return ErrCourseNotFound
	}
	if course.State.IsTerminal() {
		return ErrCourseTerminal
	}
	fn(course)
	course.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) UpdateState(ctx context.Context, jobID string, state models.CourseState, errMsg string) error {
	return m.mutate(jobID, func(c *models.Course) {
		c.State = state
		if errMsg != "" {
			c.Error = errMsg
		}
		if state.IsTerminal() {
			now := m.now()
			c.CompletedAt = &now
		}
	})
}

func (m *MemoryRepository) RecordAttempt(ctx context.Context, jobID string, attempts int) error {
	return m.mutate(jobID, func(c *models.Course) {
		c.Attempts = attempts
		if c.StartedAt == nil {
			now := m.now()
			c.StartedAt = &now
		}
	})
}

func (m *MemoryRepository) SetTotalSlides(ctx context.Context, jobID string, total int) error {
	return m.mutate(jobID, func(c *models.Course) {
		c.TotalSlides = total
	})
}

func (m *MemoryRepository) AppendSlide(ctx context.Context, slide *models.Slide) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	course, ok := m.courses[slide.JobID]
	if !ok {
		return ErrCourseNotFound
	}
	if course.State.IsTerminal() {
		return ErrCourseTerminal
	}

	current := m.slides[slide.JobID]
	if slide.SlideNumber != len(current)+1 {
		return fmt.Errorf("%w: got %d, expected %d", ErrSlideOutOfOrder, slide.SlideNumber, len(current)+1)
	}

	s := *slide
	s.Images = slide.Images.Clone()
	if s.Images == nil {
		s.Images = models.StringSlice{}
	}
	s.CreatedAt = m.now()

	next := make([]models.Slide, len(current), len(current)+1)
	copy(next, current)
	m.slides[slide.JobID] = append(next, s)
	course.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) GetProgress(ctx context.Context, jobID string) (*models.Course, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	course, ok := m.courses[jobID]
	if !ok {
		return nil, 0, ErrCourseNotFound
	}
	c := *course
	return &c, len(m.slides[jobID]), nil
}

func (m *MemoryRepository) GetSlide(ctx context.Context, jobID string, slideNumber int) (*models.Slide, error) {
	m.mu.RLock()
	snapshot := m.slides[jobID]
	m.mu.RUnlock()

	if slideNumber < 1 || slideNumber > len(snapshot) {
		return nil, ErrSlideNotFound
	}
	s := snapshot[slideNumber-1]
	s.Images = s.Images.Clone()
	return &s, nil
}

func (m *MemoryRepository) SaveLesson(ctx context.Context, jobID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons[jobID] = &models.Lesson{JobID: jobID, Text: text, CreatedAt: m.now()}
	return nil
}

func (m *MemoryRepository) GetLesson(ctx context.Context, jobID string) (*models.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lesson, ok := m.lessons[jobID]
	if !ok {
		return nil, ErrLessonNotFound
	}
	l := *lesson
	return &l, nil
}

func (m *MemoryRepository) AddUserCourse(ctx context.Context, username, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.userCourses {
		if e.username == username && e.jobID == jobID {
			return nil
		}
	}
	m.userCourses = append(m.userCourses, userCourseEntry{username: username, jobID: jobID})
	return nil
}

func (m *MemoryRepository) ListUserCourses(ctx context.Context, username string) ([]models.CourseSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summaries []models.CourseSummary
	for _, e := range m.userCourses {
		if e.username != username {
			continue
		}
		summary := models.CourseSummary{JobID: e.jobID}
		if c, ok := m.courses[e.jobID]; ok {
			summary.Title = c.Title
		}
		summaries = append(summaries, summary)
	}
	if len(summaries) == 0 {
		return nil, ErrUserCoursesNotFound
	}
	return summaries, nil
}

func (m *MemoryRepository) GetUserProfile(ctx context.Context, username string) (*models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[username]
	if !ok {
		return nil, ErrProfileNotFound
	}
	profile := *p
	return &profile, nil
}

func (m *MemoryRepository) FailStaleCourses(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var failed int64
	for _, c := range m.courses {
		if c.State.IsTerminal() || !c.UpdatedAt.Before(olderThan) {
			continue
		}
		c.State = models.StateFailed
		c.Error = reason
		c.CompletedAt = &now
		c.UpdatedAt = now
		failed++
	}
	return failed, nil
}
