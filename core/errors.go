package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return "invalid input"
	}
	return err.Err.Error()
}

// ErrorKind classifies failures so callers can decide to surface, retry or ignore them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalid
	KindNotFound
	KindPersistence
	KindDelivery
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not found"
	case KindPersistence:
		return "persistence"
	case KindDelivery:
		return "delivery"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// KindError attaches an ErrorKind to an error.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *KindError) Cause() error  { return e.Err }
func (e *KindError) Unwrap() error { return e.Err }

func NewPersistenceError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: KindPersistence, Err: errors.Wrap(err, msg)}
}

func NewNotFoundError(err error) error {
	return &KindError{Kind: KindNotFound, Err: err}
}

func NewForbiddenError(err error) error {
	return &KindError{Kind: KindForbidden, Err: err}
}

// KindOf walks the error chain and reports its kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindInvalid
	}
	return KindInternal
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
