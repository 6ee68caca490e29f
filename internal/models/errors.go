package models

import "errors"

// Error kinds surfaced by the core. Callers match them with errors.Is;
// the concrete error carries the detail.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConfig     = errors.New("threshold config error")
	ErrStorage    = errors.New("storage error")
	ErrConflict   = errors.New("concurrent modification")
)

// Field validation errors
var (
	ErrEmptyID           = errors.New("id cannot be empty")
	ErrEmptyAircraftID   = errors.New("aircraft id cannot be empty")
	ErrEmptyRegistration = errors.New("registration cannot be empty")
	ErrEmptyName         = errors.New("name cannot be empty")
	ErrNegativeUsage     = errors.New("usage cannot be negative")
	ErrNonFiniteUsage    = errors.New("usage must be a finite number")
)
