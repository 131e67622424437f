package clapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Host is the caller supplied record for CreateHost
type Host struct {
	Hostname   string `json:"hostname" yaml:"hostname" validate:"required,excludes=;"`
	FQDN       string `json:"fqdn" yaml:"fqdn" validate:"required,excludes=;"`
	IP         string `json:"ip" yaml:"ip" validate:"required,ip"`
	Poller     string `json:"poller" yaml:"poller" validate:"required,excludes=;"`
	Hostgroups string `json:"hostgroups" yaml:"hostgroups" validate:"required,excludes=;"`
}

var validate = validator.New()

// ValidationError represents a field-level validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// Validate checks that every field is set, that IP parses and that no
// field would break the payload. CreateHost itself does not call it.
func (h Host) Validate() error {
	return ValidateStruct(h)
}

// ValidateStruct validates any struct carrying validate tags and returns
// *ValidationErrors on failure
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	validationErrs := &ValidationErrors{}
	for _, e := range fieldErrs {
		validationErrs.Errors = append(validationErrs.Errors, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatValidationMessage(e),
		})
	}
	return validationErrs
}

// ValidateField checks a single payload field: non-empty and free of the
// field separator
func ValidateField(name, value string) error {
	if err := validate.Var(value, "required,excludes=;"); err != nil {
		msg := fmt.Sprintf("%s is required", name)
		if value != "" {
			msg = fmt.Sprintf("%s must not contain %q", name, FieldSeparator)
		}
		return &ValidationErrors{Errors: []ValidationError{{Field: name, Message: msg}}}
	}
	return nil
}

// formatValidationMessage creates human-readable error messages
func formatValidationMessage(e validator.FieldError) string {
	field := toSnakeCase(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "excludes":
		return fmt.Sprintf("%s must not contain %q", field, e.Param())
	case "ip":
		return fmt.Sprintf("%s must be a valid IP address", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

// toSnakeCase converts PascalCase to snake_case, keeping acronyms together
func toSnakeCase(s string) string {
	var result strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			prevLower := i > 0 && runes[i-1] >= 'a' && runes[i-1] <= 'z'
			if prevLower {
				result.WriteByte('_')
			}
			result.WriteRune(r + 'a' - 'A')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
