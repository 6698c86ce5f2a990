package template

import "fmt"

// ValidationError reports malformed input the caller can correct.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StateNotFoundError is returned when a referenced state does not exist in
// the template.
type StateNotFoundError struct {
	StateID string
}

func (e *StateNotFoundError) Error() string {
	return fmt.Sprintf("state %q not found", e.StateID)
}

// StateInUseError blocks deleting a state that records currently occupy.
type StateInUseError struct {
	StateID   string
	StateName string
	Records   int64
}

func (e *StateInUseError) Error() string {
	return fmt.Sprintf("state %q has %d active records", e.StateName, e.Records)
}

// InUseError blocks soft-deleting a template that non-archived records still
// reference.
type InUseError struct {
	TemplateID string
	Code       string
	Records    int64
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("template %q has %d active records", e.Code, e.Records)
}
