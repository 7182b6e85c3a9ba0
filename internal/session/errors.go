package session

import (
	"errors"
)

// Precondition errors. They stop a session from starting.
var (
	ErrNotYetOpen      = errors.New("exam window is not open yet")
	ErrWindowClosed    = errors.New("exam window has closed")
	ErrMissingDuration = errors.New("exam has no duration")
	ErrInvalidWindow   = errors.New("exam window is invalid")
	ErrIdentityMissing = errors.New("participant identity is missing")
)

// Document validation errors. They reject single files, never the session.
var (
	ErrTooManyFiles        = errors.New("too many files")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileIndex           = errors.New("file index out of range")
	ErrNotDocumentQuestion = errors.New("question does not accept documents")
)

// Submission errors.
var (
	ErrConfirmationRequired = errors.New("submission has not been requested")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrAlreadySubmitted     = errors.New("exam already submitted")
	// ErrIdentityLost is fatal: the runner must return to the entry point.
	ErrIdentityLost = errors.New("participant identity lost")
)

// ErrTimeUp refuses answer changes from the deadline on. Only the
// submission is still possible.
var ErrTimeUp = errors.New("exam time is up")

// ErrUnknownQuestion is returned for ids outside the arranged exam.
var ErrUnknownQuestion = errors.New("unknown question")

// PreconditionError wraps every failure of Bootstrap. It is shown full
// screen in place of the questions.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string {
	return "cannot start exam: " + e.Err.Error()
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// attemptClosed is implemented by backend errors that mean the attempt was
// already closed server-side, i.e. an earlier submit went through.
type attemptClosed interface {
	AttemptClosed() bool
}

func isAttemptClosed(err error) bool {
	var ac attemptClosed
	return errors.As(err, &ac) && ac.AttemptClosed()
}

// isRefused reports whether err means the answer store did not accept a
// change at all, as opposed to failing to persist it.
func isRefused(err error) bool {
	return errors.Is(err, ErrTimeUp) || errors.Is(err, ErrSubmissionInProgress) || errors.Is(err, ErrAlreadySubmitted)
}
