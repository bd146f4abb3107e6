package models

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gorm.io/gorm"
)

// CourseState représente l'étape courante du job de génération d'un cours
type CourseState string

const (
	StateCreated          CourseState = "created"
	StateKnowledgeFetched CourseState = "knowledge_fetched"
	StateTextGenerated    CourseState = "text_generated"
	StateSegmented        CourseState = "segmented"
	StateEnriching        CourseState = "enriching"
	StateCompleted        CourseState = "completed"
	StateFailed           CourseState = "failed"
)

// Libellés de statut exposés aux clients qui pollent la progression
const (
	StatusLabelCompleted  = "Completed"
	StatusLabelInProgress = "In Progress"
	StatusLabelFailed     = "Failed"
)

// IsTerminal retourne true si l'état est final
func (s CourseState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// NonTerminalStates liste les états d'un job encore en cours
func NonTerminalStates() []CourseState {
	return []CourseState{StateCreated, StateKnowledgeFetched, StateTextGenerated, StateSegmented, StateEnriching}
}

// Course est le modèle principal pour la base de données
type Course struct {
	JobID       string      `json:"job_id" gorm:"type:varchar(36);primaryKey"`
	Title       string      `json:"title" gorm:"type:text;not null"`
	InputPrompt string      `json:"input_prompt" gorm:"type:text;not null"`
	Username    string      `json:"username" gorm:"type:varchar(255);not null;index"`
	TotalSlides int         `json:"total_slides" gorm:"not null;default:0"`
	State       CourseState `json:"state" gorm:"type:varchar(32);not null;default:'created';index"`
	Error       string      `json:"error,omitempty" gorm:"type:text"`
	Attempts    int         `json:"attempts" gorm:"not null;default:0"`
	CreatedAt   time.Time   `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time   `json:"updated_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// TableName spécifie le nom de la table
func (Course) TableName() string {
	return "courses"
}

// BeforeCreate hook GORM pour initialiser les timestamps
func (c *Course) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.State == "" {
		c.State = StateCreated
	}
	return nil
}

// Slide est une unité positionnée d'un cours. Une slide est insérée complète, jamais modifiée ensuite.
type Slide struct {
	ID          uint        `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID       string      `json:"-" gorm:"type:varchar(36);not null;uniqueIndex:idx_slides_job_number"`
	SlideNumber int         `json:"slide_number" gorm:"not null;uniqueIndex:idx_slides_job_number"`
	Content     string      `json:"content" gorm:"type:text;not null"`
	Images      StringSlice `json:"images" gorm:"type:jsonb;default:'[]'"`
	Audio       string      `json:"audio" gorm:"type:text"`
	CreatedAt   time.Time   `json:"-"`
}

// TableName spécifie le nom de la table
func (Slide) TableName() string {
	return "slides"
}

// UserCourse associe un utilisateur aux jobs qu'il a créés
type UserCourse struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Username  string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_user_courses_user_job"`
	JobID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_user_courses_user_job"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName spécifie le nom de la table
func (UserCourse) TableName() string {
	return "user_courses"
}

// Lesson conserve le texte brut de la leçon générée pour un job
type Lesson struct {
	JobID     string    `gorm:"type:varchar(36);primaryKey"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// TableName spécifie le nom de la table
func (Lesson) TableName() string {
	return "lessons"
}

// UserProfile est alimenté par le service d'inscription, on ne fait que le lire ici
type UserProfile struct {
	Username            string `json:"username" gorm:"type:varchar(255);primaryKey"`
	Name                string `json:"name" gorm:"type:text"`
	Age                 int    `json:"age"`
	Language            string `json:"language" gorm:"type:varchar(32)"`
	WorkingProfessional bool   `json:"working_professional"`
}

// TableName spécifie le nom de la table
func (UserProfile) TableName() string {
	return "users"
}

// CourseTask est l'unité de travail transmise au pool de workers
type CourseTask struct {
	JobID       string
	InputPrompt string
	Username    string
}

// CourseRequest représente une demande de création de cours
type CourseRequest struct {
	InputPrompt string `json:"input_prompt"`
	Username    string `json:"username"`
}

// CourseAcceptedResponse est renvoyée dès que le job est accepté
type CourseAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CourseStatus est la vue de progression dérivée de l'enregistrement courant
type CourseStatus struct {
	JobID           string      `json:"job_id"`
	SlidesGenerated int         `json:"slides_generated"`
	TotalSlides     int         `json:"total_slides"`
	Completed       bool        `json:"completed"`
	Status          string      `json:"status"`
	State           CourseState `json:"state"`
	Title           string      `json:"title"`
	Error           string      `json:"error,omitempty"`
}

// CourseSummary est une entrée de la liste des cours d'un utilisateur
type CourseSummary struct {
	JobID string `json:"job_id"`
	Title string `json:"title"`
}

// UserCoursesResponse liste les cours d'un utilisateur
type UserCoursesResponse struct {
	Username string          `json:"username"`
	Courses  []CourseSummary `json:"courses"`
}

// LessonResponse expose le texte brut d'une leçon
type LessonResponse struct {
	JobID  string `json:"job_id"`
	Lesson string `json:"lesson"`
}

// ProgressEvent est publié à chaque slide validée
type ProgressEvent struct {
	JobID       string      `json:"job_id"`
	State       CourseState `json:"state"`
	SlideNumber int         `json:"slide_number,omitempty"`
	TotalSlides int         `json:"total_slides"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// CapitalizeTitle dérive le titre du prompt: première lettre en majuscule, le reste en minuscules
func CapitalizeTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(prompt)
	return string(unicode.ToUpper(r)) + strings.ToLower(prompt[size:])
}
