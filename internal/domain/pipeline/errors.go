package pipeline

import (
	"errors"

	"github.com/Strob0t/AgentForge/internal/domain"
)

// Kind classifies pipeline failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindGeneration
	KindRepair
	KindTestFailure
	KindPublish
	KindRelease
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindValidation:  "validation",
	KindGeneration:  "generation",
	KindRepair:      "repair",
	KindTestFailure: "test_failure",
	KindPublish:     "publish",
	KindRelease:     "release",
	KindNotFound:    "not_found",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Fatal reports whether an error of this kind ends a run. Repair errors are
// logged and swallowed.
func (k Kind) Fatal() bool { return k != KindRepair }

// Error is a classified pipeline failure. Error() returns only the
// human-readable message; Detail carries structured context (for example raw
// tester output) for logs and is never shown to observers.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, and domain.ErrNotFound for KindNotFound.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return e.Kind == KindNotFound && target == domain.ErrNotFound
}

// Sentinels for errors.Is checks by kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrGeneration  = &Error{Kind: KindGeneration}
	ErrRepair      = &Error{Kind: KindRepair}
	ErrTestFailure = &Error{Kind: KindTestFailure}
	ErrPublish     = &Error{Kind: KindPublish}
	ErrRelease     = &Error{Kind: KindRelease}
	ErrNotFound    = &Error{Kind: KindNotFound}
)

// NewError builds a classified error wrapping cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithDetail attaches structured context and returns e.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// KindOf classifies err. Unclassified not-found errors map to KindNotFound.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, domain.ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, domain.ErrValidation) {
		return KindValidation
	}
	return KindUnknown
}

// Classify returns err as a *Error. Errors that are already classified are
// returned unchanged; anything else is wrapped with the fallback kind and its
// own message.
func Classify(err error, fallback Kind) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return NewError(fallback, err.Error(), err)
}

// Message returns the display message of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown deployment error"
}
