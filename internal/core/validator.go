package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"dryday/internal/types"
)

// maxCityNameLength bounds free-text city names sent upstream.
const maxCityNameLength = 100

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the service's custom tags and
// maps failures onto AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator that reports field names by their JSON
// tag and registers the city_name tag.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	// city_name: printable, at most maxCityNameLength runes once trimmed.
	// Blank values pass so that coordinates can be used instead.
	if err := v.RegisterValidation("city_name", validateCityName); err != nil {
		logger.Error("failed to register city_name validation", "error", err)
	}

	return &Validator{validate: v, logger: logger}
}

func validateCityName(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if len([]rune(s)) > maxCityNameLength {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// ValidateStruct validates s and returns a *types.AppError whose code is
// derived from the first failing rule. Every failure is listed under the
// "validation_errors" detail.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    string(codeForTag(fe.Tag())),
			Message: messageFor(fe),
		})
	}

	return types.NewAppErrorWithDetails(
		types.ErrorCode(out[0].Code),
		out[0].Message,
		err,
		map[string]any{"validation_errors": out},
	)
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_with", "required_without":
		return types.ErrCodeValidationMissingField
	case "latitude":
		return types.ErrCodeValidationInvalidLat
	case "longitude":
		return types.ErrCodeValidationInvalidLon
	case "min":
		return types.ErrCodeValidationInvalidQuery
	default:
		return types.ErrCodeValidationInvalidField
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return fmt.Sprintf("%s is required", fe.Field())
	case "latitude":
		return fmt.Sprintf("%s must be between %.0f and %.0f", fe.Field(), types.MinLat, types.MaxLat)
	case "longitude":
		return fmt.Sprintf("%s must be between %.0f and %.0f", fe.Field(), types.MinLon, types.MaxLon)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "city_name":
		return fmt.Sprintf("%s must be printable text of at most %d characters", fe.Field(), maxCityNameLength)
	default:
		return fmt.Sprintf("%s failed the %q rule", fe.Field(), fe.Tag())
	}
}
