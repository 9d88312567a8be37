package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a validation error
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// newValidationError flattens validator output into field -> failed tag
func newValidationError(err error) *ValidationError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Message: err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}

	parts := make([]string, 0, len(fields))
	for field, tag := range fields {
		parts = append(parts, field+" failed "+tag)
	}
	sort.Strings(parts)

	return &ValidationError{Message: strings.Join(parts, ", "), Fields: fields}
}
