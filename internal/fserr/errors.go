// Package fserr defines the error taxonomy shared by the pool, the
// identifier index, and the search engines.
//
// Every failure that crosses a package boundary is an *Error carrying a
// Code. Callers branch on the code with the IsXxx helpers, which use
// errors.As and therefore see through fmt.Errorf("%w") wrapping.
package fserr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodePoolExhausted indicates the pool's capacity and overflow policy
	// prohibited handing out a connection.
	CodePoolExhausted Code = "POOL_EXHAUSTED"

	// CodeConnectivity indicates a driver or network failure while
	// acquiring or using a connection.
	CodeConnectivity Code = "CONNECTIVITY"

	// CodeIntegrity indicates a canonical descriptor is present but
	// structurally invalid.
	CodeIntegrity Code = "INTEGRITY"

	// CodeStorage covers every other database failure (insert, delete,
	// commit, query).
	CodeStorage Code = "STORAGE"

	// CodeConfiguration indicates invalid configuration or module parameters.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeUnrecognizedField indicates a query referenced a field the
	// search engine does not know.
	CodeUnrecognizedField Code = "UNRECOGNIZED_FIELD"

	// CodeSessionNotFound indicates a resume token is unknown or expired.
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"

	// CodeObjectNotFound indicates the object store has no object with
	// the requested pid.
	CodeObjectNotFound Code = "OBJECT_NOT_FOUND"
)

// Error is a classified failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the failing operation (e.g. "resync", "acquire").
	Op string

	// ObjectID identifies the affected object, when there is one.
	ObjectID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	switch {
	case e.Op != "" && e.ObjectID != "":
		return fmt.Sprintf("%s: %s (op=%s, object=%s)", e.Code, msg, e.Op, e.ObjectID)
	case e.Op != "":
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, msg, e.Op)
	default:
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an underlying cause.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap classifies err under code. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// PoolExhausted creates a CodePoolExhausted error.
func PoolExhausted(op, message string) *Error {
	return &Error{Code: CodePoolExhausted, Op: op, Message: message}
}

// Connectivity wraps err as a CodeConnectivity error.
func Connectivity(op string, err error) *Error {
	return &Error{Code: CodeConnectivity, Op: op, Err: err}
}

// Integrity creates a CodeIntegrity error for objectID.
func Integrity(op, objectID, message string) *Error {
	return &Error{Code: CodeIntegrity, Op: op, ObjectID: objectID, Message: message}
}

// Storage wraps err as a CodeStorage error for objectID.
func Storage(op, objectID string, err error) *Error {
	return &Error{Code: CodeStorage, Op: op, ObjectID: objectID, Err: err}
}

// ObjectNotFound wraps err as a CodeObjectNotFound error for objectID.
func ObjectNotFound(op, objectID string, err error) *Error {
	return &Error{Code: CodeObjectNotFound, Op: op, ObjectID: objectID, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsPoolExhausted returns true if err is a pool exhaustion error.
func IsPoolExhausted(err error) bool { return Is(err, CodePoolExhausted) }

// IsConnectivity returns true if err is a connectivity error.
func IsConnectivity(err error) bool { return Is(err, CodeConnectivity) }

// IsIntegrity returns true if err is an integrity error.
func IsIntegrity(err error) bool { return Is(err, CodeIntegrity) }

// IsStorage returns true if err is a storage error.
func IsStorage(err error) bool { return Is(err, CodeStorage) }

// IsConfiguration returns true if err is a configuration error.
func IsConfiguration(err error) bool { return Is(err, CodeConfiguration) }

// IsObjectNotFound returns true if err reports a missing object.
func IsObjectNotFound(err error) bool { return Is(err, CodeObjectNotFound) }
