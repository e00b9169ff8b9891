// Package relerr defines the error kinds that cross process boundaries.
//
// Every error returned to a client is classified into one Kind. Kinds are
// identified on the wire by a class tag; a closed registry maps tags back to
// constructors so that a worker's failure is rebuilt as the same kind, with
// its cause chain, on the manager and on the client.
package relerr

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/errbase"
)

// Kind is the class tag of an error.
type Kind string

const (
	KindValidation      Kind = "relalg.ValidationError"
	KindDeserialization Kind = "relalg.DeserializationError"
	KindComputation     Kind = "relalg.ComputationError"
	KindTransport       Kind = "relalg.TransportError"
	KindCancellation    Kind = "relalg.CancellationError"
	// KindRemote wraps errors whose class is not registered locally.
	KindRemote Kind = "relalg.RemoteError"
	// KindUnknown is returned by KindOf for errors outside this package.
	KindUnknown Kind = ""
)

// Error is a classified error. Message and cause are kept apart so they can
// be transferred separately.
type Error struct {
	kind  Kind
	msg   string
	cause error
	// class is the remote class name for KindRemote errors.
	class string
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.cause.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// Message returns the error's own message without its cause.
func (e *Error) Message() string { return e.msg }

// Class returns the wire class of the error.
func (e *Error) Class() string {
	if e.kind == KindRemote && e.class != "" {
		return e.class
	}
	return string(e.kind)
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

func Validationf(format string, args ...interface{}) error {
	return newError(KindValidation, fmt.Sprintf(format, args...), nil)
}

func Deserialization(cause error, format string, args ...interface{}) error {
	return newError(KindDeserialization, fmt.Sprintf(format, args...), cause)
}

// Computation wraps the failure of a task. A cause that is already a
// ComputationError is returned unchanged so that the original description
// travels up the task graph intact.
func Computation(cause error) error {
	if KindOf(cause) == KindComputation {
		return cause
	}
	return newError(KindComputation, "error during computation", cause)
}

func Transport(cause error, format string, args ...interface{}) error {
	return newError(KindTransport, fmt.Sprintf(format, args...), cause)
}

// Cancelled is the error stored in a cancelled future.
var Cancelled error = newError(KindCancellation, "computation was cancelled", nil)

// Remote builds the fallback error for a class that has no local constructor.
func Remote(class, msg string, cause error) error {
	e := newError(KindRemote, msg, cause)
	e.class = class
	return e
}

// KindOf classifies err by its outermost relerr.Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancellation
	}
	return KindUnknown
}

// Is reports whether err is of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsCancellation reports whether err means the computation was cancelled.
func IsCancellation(err error) bool {
	return Is(err, KindCancellation)
}

// Constructor rebuilds an error of a registered class from its parts.
// Either part may be empty.
type Constructor func(msg string, cause error) error

var registry = map[string]Constructor{
	string(KindValidation):      kindConstructor(KindValidation),
	string(KindDeserialization): kindConstructor(KindDeserialization),
	string(KindComputation):     kindConstructor(KindComputation),
	string(KindTransport):       kindConstructor(KindTransport),
	string(KindCancellation):    kindConstructor(KindCancellation),
	string(KindRemote):          kindConstructor(KindRemote),
}

func kindConstructor(k Kind) Constructor {
	return func(msg string, cause error) error {
		return newError(k, msg, cause)
	}
}

// Rebuild returns an error for the given wire class. Unknown classes yield a
// KindRemote error that remembers the class name.
func Rebuild(class, msg string, cause error) error {
	if c, ok := registry[class]; ok {
		return c(msg, cause)
	}
	return Remote(class, msg, cause)
}

// Parts splits err into its wire class, message and next cause.
// Errors from other packages that wrap no relerr.Error are flattened into a
// single message.
func Parts(err error) (class string, msg string, cause error) {
	var e *Error
	if errors.As(err, &e) && e == err {
		return e.Class(), e.msg, e.cause
	}
	if errors.As(err, &e) {
		// err wraps a relerr.Error: the wrappers' text becomes the message
		// and the classified error the cause.
		msg = err.Error()
		if outer, ok := strings.CutSuffix(msg, ": "+e.Error()); ok {
			msg = outer
		}
		return e.Class(), msg, e
	}
	return string(errbase.GetTypeKey(err)), err.Error(), nil
}
