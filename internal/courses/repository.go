package courses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// Repository est le store des cours. Chaque cours n'a qu'un seul écrivain (son job),
// les lectures ne prennent aucun verrou exclusif. Un cours terminal (completed, failed)
// n'accepte plus d'écriture: les mises à jour retournent ErrCourseTerminal.
type Repository interface {
	CreateCourse(ctx context.Context, course *models.Course) error
	GetCourse(ctx context.Context, jobID string) (*models.Course, error)
	UpdateState(ctx context.Context, jobID string, state models.CourseState, errMsg string) error
	RecordAttempt(ctx context.Context, jobID string, attempts int) error
	SetTotalSlides(ctx context.Context, jobID string, total int) error

	// AppendSlide insère une slide complète, numérotée count+1, de façon atomique
	AppendSlide(ctx context.Context, slide *models.Slide) error
	// GetProgress lit le cours et son nombre de slides dans un même instantané
	GetProgress(ctx context.Context, jobID string) (*models.Course, int, error)
	GetSlide(ctx context.Context, jobID string, slideNumber int) (*models.Slide, error)

	SaveLesson(ctx context.Context, jobID, text string) error
	GetLesson(ctx context.Context, jobID string) (*models.Lesson, error)

	AddUserCourse(ctx context.Context, username, jobID string) error
	ListUserCourses(ctx context.Context, username string) ([]models.CourseSummary, error)

	GetUserProfile(ctx context.Context, username string) (*models.UserProfile, error)

	// FailStaleCourses passe en échec les cours non terminés sans progrès depuis olderThan
	FailStaleCourses(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

type courseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) Repository {
	return &courseRepository{db: db}
}

func (r *courseRepository) CreateCourse(ctx context.Context, course *models.Course) error {
	now := time.Now()
	course.CreatedAt = now
	course.UpdatedAt = now
	if course.State == "" {
		course.State = models.StateCreated
	}

	return r.db.WithContext(ctx).Create(course).Error
}

func (r *courseRepository) GetCourse(ctx context.Context, jobID string) (*models.Course, error) {
	var course models.Course
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&course).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	return &course, nil
}

func (r *courseRepository) updateCourse(ctx context.Context, jobID string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).Model(&models.Course{}).
		Where("job_id = ? AND state IN ?", jobID, models.NonTerminalStates()).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Aucune ligne: cours absent ou déjà terminal
		if _, err := r.GetCourse(ctx, jobID); err != nil {
			return err
		}
		return ErrCourseTerminal
	}
	return nil
}

func (r *courseRepository) UpdateState(ctx context.Context, jobID string, state models.CourseState, errMsg string) error {
	updates := map[string]interface{}{
		"state": state,
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if state.IsTerminal() {
		updates["completed_at"] = time.Now()
	}

	return r.updateCourse(ctx, jobID, updates)
}

func (r *courseRepository) RecordAttempt(ctx context.Context, jobID string, attempts int) error {
	return r.updateCourse(ctx, jobID, map[string]interface{}{
		"attempts":   attempts,
		"started_at": gorm.Expr("COALESCE(started_at, ?)", time.Now()),
	})
}

func (r *courseRepository) SetTotalSlides(ctx context.Context, jobID string, total int) error {
	return r.updateCourse(ctx, jobID, map[string]interface{}{
		"total_slides": total,
	})
}

func (r *courseRepository) AppendSlide(ctx context.Context, slide *models.Slide) error {
	if slide.Images == nil {
		slide.Images = models.StringSlice{}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var course models.Course
		if err := tx.Select("state").Where("job_id = ?", slide.JobID).First(&course).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCourseNotFound
			}
			return err
		}
		if course.State.IsTerminal() {
			return ErrCourseTerminal
		}

		var count int64
		if err := tx.Model(&models.Slide{}).Where("job_id = ?", slide.JobID).Count(&count).Error; err != nil {
			return err
		}
		if int64(slide.SlideNumber) != count+1 {
			return fmt.Errorf("%w: got %d, expected %d", ErrSlideOutOfOrder, slide.SlideNumber, count+1)
		}

		slide.CreatedAt = time.Now()
		if err := tx.Create(slide).Error; err != nil {
			return fmt.Errorf("failed to insert slide %d: %w", slide.SlideNumber, err)
		}

		return tx.Model(&models.Course{}).Where("job_id = ?", slide.JobID).Update("updated_at", time.Now()).Error
	})
}

// courseProgress porte le cours et le compte de ses slides lus par une seule requête
type courseProgress struct {
	models.Course
	SlidesGenerated int
}

func (r *courseRepository) GetProgress(ctx context.Context, jobID string) (*models.Course, int, error) {
	var progress courseProgress
	result := r.db.WithContext(ctx).
		Table("courses").
		Select("courses.*, (SELECT COUNT(*) FROM slides WHERE slides.job_id = courses.job_id) AS slides_generated").
		Where("courses.job_id = ?", jobID).
		Limit(1).
		Scan(&progress)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, 0, ErrCourseNotFound
	}
	return &progress.Course, progress.SlidesGenerated, nil
}

func (r *courseRepository) GetSlide(ctx context.Context, jobID string, slideNumber int) (*models.Slide, error) {
	if slideNumber < 1 {
		return nil, ErrSlideNotFound
	}

	var slide models.Slide
	err := r.db.WithContext(ctx).Where("job_id = ? AND slide_number = ?", jobID, slideNumber).First(&slide).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSlideNotFound
		}
		return nil, err
	}
	return &slide, nil
}

func (r *courseRepository) SaveLesson(ctx context.Context, jobID, text string) error {
	lesson := &models.Lesson{JobID: jobID, Text: text, CreatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"text"}),
	}).Create(lesson).Error
}

func (r *courseRepository) GetLesson(ctx context.Context, jobID string) (*models.Lesson, error) {
	var lesson models.Lesson
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&lesson).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLessonNotFound
		}
		return nil, err
	}
	return &lesson, nil
}

func (r *courseRepository) AddUserCourse(ctx context.Context, username, jobID string) error {
	link := &models.UserCourse{Username: username, JobID: jobID, CreatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(link).Error
}

func (r *courseRepository) ListUserCourses(ctx context.Context, username string) ([]models.CourseSummary, error) {
	var summaries []models.CourseSummary
	err := r.db.WithContext(ctx).
		Table("user_courses").
		Select("user_courses.job_id AS job_id, COALESCE(courses.title, '') AS title").
		Joins("LEFT JOIN courses ON courses.job_id = user_courses.job_id").
		Where("user_courses.username = ?", username).
		Order("user_courses.id ASC").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, ErrUserCoursesNotFound
	}
	return summaries, nil
}

func (r *courseRepository) GetUserProfile(ctx context.Context, username string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *courseRepository) FailStaleCourses(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Course{}).
		Where("state IN ? AND updated_at < ?", models.NonTerminalStates(), olderThan).
		Updates(map[string]interface{}{
			"state":        models.StateFailed,
			"error":        reason,
			"completed_at": now,
			"updated_at":   now,
		})

	return result.RowsAffected, result.Error
}
