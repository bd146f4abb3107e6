// internal/validation/middleware.go
package validation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// Clés du contexte gin renseignées par les validators
const (
	validatorKey           = "validator"
	parsedRequestKey       = "parsed_request"
	ValidatedRequestKey    = "validated_request"
	ValidatedJobIDKey      = "validated_job_id"
	ValidatedSlideKey      = "validated_slide_number"
	ValidatedUsernameKey   = "validated_username"
	errorValidationFailed  = "Validation failed"
	errorValidatorMissing  = "Validation service unavailable"
	errorInvalidJSONFormat = "Invalid JSON format"
)

// RequestValidator définit une fonction de validation pour une requête
type RequestValidator func(*gin.Context, *APIValidator) *ValidationResult

// Middleware injecte le validator dans le contexte de chaque requête
func Middleware(validator *APIValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(validatorKey, validator)
		c.Next()
	}
}

// ValidateRequest est le middleware principal qui exécute une liste de validators
func ValidateRequest(validators ...RequestValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		validator := GetValidator(c)
		if validator == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorValidatorMissing})
			return
		}

		// Exécuter toutes les validations dans l'ordre
		for _, validate := range validators {
			if result := validate(c, validator); !result.Valid {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":             errorValidationFailed,
					"validation_errors": result.Errors,
				})
				return
			}
		}

		c.Next()
	}
}

// GetValidator récupère le validator du contexte
func GetValidator(c *gin.Context) *APIValidator {
	if validator, exists := c.Get(validatorKey); exists {
		if apiValidator, ok := validator.(*APIValidator); ok {
			return apiValidator
		}
	}
	return nil
}

// ParseJSONRequest décode le corps JSON et le stocke pour les validators suivants
func ParseJSONRequest[T any]() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req T
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   errorInvalidJSONFormat,
				"details": err.Error(),
			})
			return
		}

		c.Set(parsedRequestKey, req)
		c.Next()
	}
}

// ParseCourseRequest est la version spécialisée pour CourseRequest
func ParseCourseRequest() gin.HandlerFunc {
	return ParseJSONRequest[models.CourseRequest]()
}

// ValidateCourseRequest valide la demande de cours déjà décodée
func ValidateCourseRequest(c *gin.Context, v *APIValidator) *ValidationResult {
	raw, exists := c.Get(parsedRequestKey)
	req, ok := raw.(models.CourseRequest)
	if !exists || !ok {
		result := &ValidationResult{Valid: true}
		result.AddError("body", "", "request body was not parsed", "JSON_PARSE_ERROR")
		return result
	}

	req = v.SanitizeCourseRequest(req)
	result := v.ValidateCourseRequest(&req)
	if result.Valid {
		c.Set(ValidatedRequestKey, req)
	}
	return result
}

// ValidateJobIDParam valide un job_id présent dans l'URL
func ValidateJobIDParam(paramName string) RequestValidator {
	return func(c *gin.Context, v *APIValidator) *ValidationResult {
		jobID, result := v.ValidateJobIDParam(c.Param(paramName))
		if result.Valid {
			c.Set(ValidatedJobIDKey, jobID)
		}
		return result
	}
}

// ValidateSlideNumberParam valide un numéro de slide présent dans l'URL
func ValidateSlideNumberParam(paramName string) RequestValidator {
	return func(c *gin.Context, v *APIValidator) *ValidationResult {
		n, result := v.ValidateSlideNumberParam(c.Param(paramName))
		if result.Valid {
			c.Set(ValidatedSlideKey, n)
		}
		return result
	}
}

// ValidateUsernameParam valide un nom d'utilisateur présent dans l'URL
func ValidateUsernameParam(paramName string) RequestValidator {
	return func(c *gin.Context, v *APIValidator) *ValidationResult {
		username := c.Param(paramName)
		result := v.ValidateUsernameParam(username)
		if result.Valid {
			c.Set(ValidatedUsernameKey, username)
		}
		return result
	}
}
