// Package shared holds the error taxonomy every layer reports failures in.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure crossing the transport boundary.
type Kind string

const (
	// KindTransient covers network failures and overloaded servers. Retryable.
	KindTransient Kind = "transient"
	// KindAlreadyExists means the server already holds a job for the owner key.
	KindAlreadyExists Kind = "already_exists"
	// KindPermissionDenied is never retried and is surfaced verbatim.
	KindPermissionDenied Kind = "permission_denied"
	// KindOther is terminal; only a user-initiated retry may follow.
	KindOther Kind = "other"
)

// Error is the classified error type returned by the orchestration layer.
// Raw transport errors are always converted into one of these before they
// reach a caller.
type Error struct {
	Kind    Kind
	Code    string // structured code reported by the server, if any
	Message string
	Status  int // HTTP status, 0 when the request never completed
	Err     error
}

// New creates a classified error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a classified error around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, and by Code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Retryable reports whether the retry controller may try again.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindTransient
}

// Sentinels for errors.Is matching by kind.
var (
	ErrTransient        = &Error{Kind: KindTransient}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrOther            = &Error{Kind: KindOther}
)

// Classify returns err as a classified error. Unclassified errors become
// KindOther, except context deadline errors which are transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTransient, err, "request timed out")
	}
	return Wrap(KindOther, err, "")
}

// KindOf returns the classification of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return err != nil && Classify(err).Retryable()
}
