// Package apperrors implements the failure taxonomy as a single
// structured error type. Workers branch on Kind to decide
// ack/nack/dead-letter instead of on Go's dynamic type, keyed to queue
// retry policy rather than HTTP status.
package apperrors

import "fmt"

// Kind is one of the seven closed error kinds
type Kind string

const (
	KindTransientIO      Kind = "transient_io"
	KindInputCorrupt     Kind = "input_corrupt"
	KindInferenceOOM     Kind = "inference_oom"
	KindInferenceTimeout Kind = "inference_timeout"
	KindLogicViolation   Kind = "logic_violation"
	KindProfileRace      Kind = "profile_race"
	KindFatal            Kind = "fatal"
)

// retryable reports, per kind, whether an item of
// this Kind should be nacked for redelivery.
var retryable = map[Kind]bool{
	KindTransientIO:      true,
	KindInputCorrupt:     false,
	KindInferenceOOM:     true,
	KindInferenceTimeout: true,
	KindLogicViolation:   false, // acked silently, not retried
	KindProfileRace:      false, // handled inline by re-read-and-rescore
	KindFatal:            false,
}

// AppError is the structured error carried through the pipeline.
type AppError struct {
	Kind    Kind
	Message string
	Details string
	Cause   error
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Details != "" {
		s += fmt.Sprintf(" (%s)", e.Details)
	}
	return s
}

func (e *AppError) Unwrap() error { return e.Cause }

// Retryable reports whether a worker should nack this error for
// redelivery rather than treating it as terminal.
func (e *AppError) Retryable() bool { return retryable[e.Kind] }

// New creates an AppError of the given kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Newf creates an AppError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an AppError of the given kind wrapping an underlying
// cause.
func Wrap(cause error, kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// Wrapf creates an AppError of the given kind wrapping cause with a
// formatted message.
func Wrapf(cause error, kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetails attaches additional detail to an existing error, modifying
// it in place and returning it for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted detail to an existing error.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// IsKind reports whether err is an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Kind == kind
}

// GetKind returns the Kind of err if it is an *AppError, or KindFatal
// for any other error. The retry decision for such an error is made by
// ShouldRetry, which treats it as retryable.
func GetKind(err error) Kind {
	if ae, ok := err.(*AppError); ok {
		return ae.Kind
	}
	return KindFatal
}

// ShouldRetry reports whether err should be nacked for redelivery. A
// plain (non-AppError) error is treated as transient so an unexpected
// failure does not silently drop work.
func ShouldRetry(err error) bool {
	if ae, ok := err.(*AppError); ok {
		return ae.Retryable()
	}
	return true
}

// Convenience constructors for the most common sites.

func NewTransientIO(op string, cause error) *AppError {
	return Wrapf(cause, KindTransientIO, "transient I/O failure: %s", op)
}

func NewInputCorrupt(reason string) *AppError {
	return New(KindInputCorrupt, reason)
}

func NewInferenceOOM(device string) *AppError {
	return Newf(KindInferenceOOM, "inference device out of memory: %s", device)
}

func NewInferenceTimeout(op string) *AppError {
	return Newf(KindInferenceTimeout, "inference call exceeded deadline: %s", op)
}

func NewLogicViolation(reason string) *AppError {
	return New(KindLogicViolation, reason)
}

func NewProfileRace(profileID string) *AppError {
	return Newf(KindProfileRace, "lock contention on profile %s", profileID)
}

func NewFatal(reason string, cause error) *AppError {
	return Wrap(cause, KindFatal, reason)
}
