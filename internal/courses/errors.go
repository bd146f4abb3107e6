package courses

import "errors"

var (
	ErrCourseNotFound      = errors.New("course not found")
	ErrSlideNotFound       = errors.New("slide not found")
	ErrLessonNotFound      = errors.New("lesson not found")
	ErrUserCoursesNotFound = errors.New("no courses found for user")
	ErrProfileNotFound     = errors.New("user profile not found")

	// ErrSlideOutOfOrder signale un append qui ne suit pas la dernière slide validée
	ErrSlideOutOfOrder = errors.New("slide appended out of order")

	// ErrCourseTerminal signale une écriture sur un cours déjà terminé ou en échec
	ErrCourseTerminal = errors.New("course already in a terminal state")

	// ErrJobRejected signale que le job n'a pas pu être mis en file
	ErrJobRejected = errors.New("course job rejected")
)
