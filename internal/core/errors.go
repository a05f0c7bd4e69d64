package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEntity is returned when no entity is registered under a key.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrNoRecordStore is returned when an entity has no configured store.
	ErrNoRecordStore = errors.New("no record store configured")

	// ErrJobNotFound is returned when polling or cancelling an unknown job.
	ErrJobNotFound = errors.New("import job not found")

	// ErrRecordExists is wrapped by record stores when a create collides
	// with an existing unique key.
	ErrRecordExists = errors.New("duplicate key: record already exists")

	// ErrEmptyFile is the cause of a MalformedFile error for files without a header row.
	ErrEmptyFile = errors.New("empty file")

	// ErrUnsupportedTemplateFormat is returned for template formats that cannot be written.
	ErrUnsupportedTemplateFormat = errors.New("unsupported template format")
)

// DecodeErrorKind classifies decoder failures.
type DecodeErrorKind string

const (
	UnsupportedFormat DecodeErrorKind = "unsupported_format"
	MalformedFile     DecodeErrorKind = "malformed_file"
)

// DecodeError is returned by the tabular decoder.
type DecodeError struct {
	Kind      DecodeErrorKind
	Extension string
	Cause     error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case UnsupportedFormat:
		return fmt.Sprintf("unsupported file format %q", e.Extension)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("malformed file: %v", e.Cause)
		}
		return "malformed file"
	}
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// ValidationErrorKind classifies file-level validation failures.
type ValidationErrorKind string

const (
	ParseFailed ValidationErrorKind = "parse_failed"
)

// ValidationError is returned by Service.ValidateFile when no session
// could be created.
type ValidationError struct {
	Kind  ValidationErrorKind
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation %s: %v", e.Kind, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// ExecutionErrorKind classifies failures to start an import job.
type ExecutionErrorKind string

const (
	SessionNotFound ExecutionErrorKind = "session_not_found"
	SessionExpired  ExecutionErrorKind = "session_expired"
	SessionInUse    ExecutionErrorKind = "session_in_use"
)

// ExecutionError is returned by Service.ExecuteImport.
type ExecutionError struct {
	Kind      ExecutionErrorKind
	SessionID string
}

func (e *ExecutionError) Error() string {
	switch e.Kind {
	case SessionExpired:
		return fmt.Sprintf("import session expired: %s", e.SessionID)
	case SessionInUse:
		return fmt.Sprintf("import session already executing: %s", e.SessionID)
	default:
		return fmt.Sprintf("import session not found: %s", e.SessionID)
	}
}

// IsExecutionError reports whether err is an ExecutionError of the given kind.
func IsExecutionError(err error, kind ExecutionErrorKind) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Kind == kind
}

// IsDecodeError reports whether err wraps a DecodeError of the given kind.
func IsDecodeError(err error, kind DecodeErrorKind) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == kind
}

// ErrFileTooLarge is returned when an upload exceeds the configured size limit.
var ErrFileTooLarge = errors.New("file too large")
