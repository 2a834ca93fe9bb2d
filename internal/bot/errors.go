package bot

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy rejects a start request while a session is starting or running
	ErrBusy = errors.New("automation session already in progress")
	// ErrQueueFull rejects a command when the worker's queue is full
	ErrQueueFull = errors.New("command queue is full")
	// ErrNoQuestions rejects a start request without any question to send
	ErrNoQuestions = errors.New("no questions to send")

	errSubmit = errors.New("could not submit question")
)

// Session stages, used in SessionError and logs
const (
	StageTemplates  = "templates"
	StageTarget     = "target"
	StageNavigation = "navigation"
	StageRound      = "round"
)

// SessionError is the only error that ends a session in the Error state.
// UserFacing errors are announced to the operator once per session.
type SessionError struct {
	Stage      string
	Err        error
	UserFacing bool
	Message    string // operator text, set for user-facing errors
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session failed at %s: %v", e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func userFacing(stage, message string, err error) *SessionError {
	return &SessionError{Stage: stage, Err: err, UserFacing: true, Message: message}
}

func fatal(stage string, err error) *SessionError {
	return &SessionError{Stage: stage, Err: err}
}

// LocateFailure reports a template that was not found after every attempt
type LocateFailure struct {
	Template string
	Attempts int
	Err      error // last attempt's error
}

func (e *LocateFailure) Error() string {
	return fmt.Sprintf("%s not located after %d attempts: %v", e.Template, e.Attempts, e.Err)
}

func (e *LocateFailure) Unwrap() error {
	return e.Err
}
