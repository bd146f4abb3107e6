// internal/validation/api_validation.go - Validation spécifique à l'API

package validation

import (
	"strings"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// APIValidator gère la validation des requêtes API
type APIValidator struct {
	validationService *ValidationService
}

// NewAPIValidator crée un nouveau validateur d'API
func NewAPIValidator(config *ValidationConfig) *APIValidator {
	return &APIValidator{
		validationService: NewValidationService(config),
	}
}

// ValidateCourseRequest valide une demande de création de cours
func (av *APIValidator) ValidateCourseRequest(req *models.CourseRequest) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if req == nil {
		result.AddError("body", "", "request body is required", "REQUIRED")
		return result
	}

	result.Merge(av.validationService.ValidateInputPrompt(req.InputPrompt))
	result.Merge(av.validationService.ValidateUsername(req.Username))

	return result
}

// SanitizeCourseRequest retire les espaces superflus autour des champs
func (av *APIValidator) SanitizeCourseRequest(req models.CourseRequest) models.CourseRequest {
	return models.CourseRequest{
		InputPrompt: strings.Join(strings.Fields(req.InputPrompt), " "),
		Username:    strings.TrimSpace(req.Username),
	}
}

// ValidateJobIDParam valide un paramètre job_id depuis l'URL
func (av *APIValidator) ValidateJobIDParam(jobID string) (string, *ValidationResult) {
	result := av.validationService.ValidateJobID(jobID)
	if !result.Valid {
		return "", result
	}
	return strings.ToLower(jobID), result
}

// ValidateSlideNumberParam valide un paramètre slide_number depuis l'URL
func (av *APIValidator) ValidateSlideNumberParam(raw string) (int, *ValidationResult) {
	return av.validationService.ValidateSlideNumber(raw)
}

// ValidateUsernameParam valide un paramètre username depuis l'URL
func (av *APIValidator) ValidateUsernameParam(username string) *ValidationResult {
	return av.validationService.ValidateUsername(username)
}
