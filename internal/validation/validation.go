// internal/validation/validation.go - Service de validation des entrées

package validation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidationConfig contient la configuration de validation
type ValidationConfig struct {
	MaxPromptLength   int            // Longueur max du sujet (runes)
	MinPromptLength   int            // Longueur min du sujet après trim (runes)
	MaxUsernameLength int            // Longueur max du nom d'utilisateur
	UsernamePattern   *regexp.Regexp // Caractères autorisés pour un nom d'utilisateur
}

var defaultUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._@-]+$`)

// DefaultValidationConfig retourne une configuration par défaut
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		MaxPromptLength:   500,
		MinPromptLength:   2,
		MaxUsernameLength: 64,
		UsernamePattern:   defaultUsernamePattern,
	}
}

// ValidationService gère la validation des entrées
type ValidationService struct {
	config *ValidationConfig
}

// NewValidationService crée un nouveau service de validation
func NewValidationService(config *ValidationConfig) *ValidationService {
	if config == nil {
		config = DefaultValidationConfig()
	}
	if config.UsernamePattern == nil {
		config.UsernamePattern = defaultUsernamePattern
	}

	return &ValidationService{
		config: config,
	}
}

// ValidationError représente une erreur de validation avec détails
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// ValidationResult contient le résultat de validation
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []*ValidationError `json:"errors,omitempty"`
}

// AddError ajoute une erreur de validation
func (vr *ValidationResult) AddError(field, value, message, code string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Code:    code,
	})
}

// Merge ajoute les erreurs d'un autre résultat
func (vr *ValidationResult) Merge(other *ValidationResult) {
	if other == nil || other.Valid {
		return
	}
	vr.Valid = false
	vr.Errors = append(vr.Errors, other.Errors...)
}

// ValidateJobID valide un ID de job
func (vs *ValidationService) ValidateJobID(jobID string) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if jobID == "" {
		result.AddError("job_id", "", "job ID is required", "REQUIRED")
		return result
	}

	// Vérifier que c'est un UUID valide
	if _, err := uuid.Parse(jobID); err != nil {
		result.AddError("job_id", jobID, "job ID must be a valid UUID", "INVALID_UUID")
	}

	return result
}

// ValidateInputPrompt valide le sujet du cours demandé
func (vs *ValidationService) ValidateInputPrompt(prompt string) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if strings.TrimSpace(prompt) == "" {
		result.AddError("input_prompt", "", "input prompt is required", "REQUIRED")
		return result
	}

	if !utf8.ValidString(prompt) {
		result.AddError("input_prompt", "", "input prompt must be valid UTF-8", "INVALID_ENCODING")
		return result
	}

	length := utf8.RuneCountInString(strings.TrimSpace(prompt))
	if length < vs.config.MinPromptLength {
		result.AddError("input_prompt", prompt,
			fmt.Sprintf("input prompt too short (min %d characters)", vs.config.MinPromptLength),
			"TOO_SHORT")
	}
	if length > vs.config.MaxPromptLength {
		result.AddError("input_prompt", truncate(prompt, 50),
			fmt.Sprintf("input prompt too long (max %d characters)", vs.config.MaxPromptLength),
			"TOO_LONG")
	}

	for _, r := range prompt {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			result.AddError("input_prompt", truncate(prompt, 50),
				"input prompt contains control characters", "CONTROL_CHARACTERS")
			break
		}
	}

	return result
}

// ValidateUsername valide un nom d'utilisateur (corps de requête ou URL)
func (vs *ValidationService) ValidateUsername(username string) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if username == "" {
		result.AddError("username", "", "username is required", "REQUIRED")
		return result
	}

	if utf8.RuneCountInString(username) > vs.config.MaxUsernameLength {
		result.AddError("username", truncate(username, 50),
			fmt.Sprintf("username too long (max %d characters)", vs.config.MaxUsernameLength),
			"TOO_LONG")
		return result
	}

	if !vs.config.UsernamePattern.MatchString(username) {
		result.AddError("username", username,
			"username contains forbidden characters", "INVALID_FORMAT")
	}

	return result
}

// ValidateSlideNumber valide un numéro de slide reçu sous forme texte
func (vs *ValidationService) ValidateSlideNumber(raw string) (int, *ValidationResult) {
	result := &ValidationResult{Valid: true}

	if raw == "" {
		result.AddError("slide_number", "", "slide number is required", "REQUIRED")
		return 0, result
	}

	n, err := strconv.Atoi(raw)
	if errors.Is(err, strconv.ErrRange) {
		// Entier hors de int: aucune slide ne peut exister à ce numéro
		if strings.HasPrefix(raw, "-") {
			return math.MinInt, result
		}
		return math.MaxInt, result
	}
	if err != nil {
		result.AddError("slide_number", raw, "slide number must be an integer", "INVALID_NUMBER")
		return 0, result
	}

	// Tout entier est valide, le handler répond 404 hors de [1, count]
	return n, result
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
