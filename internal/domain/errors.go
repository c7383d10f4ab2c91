package domain

import "errors"

var (
	// ErrActivityNotFound indicates the activity could not be found by the backend.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrUnauthorized is returned when the bearer credential is missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionClosed is returned when an operation reaches a torn-down session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotInProgress is returned when an attempt is not accepting input.
	ErrNotInProgress = errors.New("attempt not in progress")
	// ErrSubmitInFlight is returned when a submit is already running.
	ErrSubmitInFlight = errors.New("submission already in flight")
	// ErrAlreadySubmitted is returned once an attempt reached its terminal state.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrTimeExpired is returned when answers change after the countdown reached zero.
	ErrTimeExpired = errors.New("time limit reached")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrChoiceNotFound indicates a submitted choice ID is invalid.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrDuplicateRecord is returned when duplicate attendance records are rejected.
	ErrDuplicateRecord = errors.New("student already recorded in this session")
	// ErrNoSession is returned by the record queue before a session was loaded.
	ErrNoSession = errors.New("no attendance session loaded")
)

// LoadError means the activity could not be retrieved or is invalid. It is fatal to the attempt.
type LoadError struct {
	ActivityID string
	Err        error
}

func (e *LoadError) Error() string {
	return "load activity " + e.ActivityID + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// FieldError is used to indicate an error with a specific field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is a locally detected precondition failure. No I/O was attempted.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SubmitError wraps a failed remote submission. The caller may retry.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	return "submit: " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error { return e.Err }
