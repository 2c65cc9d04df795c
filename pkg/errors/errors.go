// Package errors provides structured error handling for the remos engine.
package errors

import (
	"fmt"
	"time"
)

// ErrorKind identifies the category of an error.
type ErrorKind int

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown ErrorKind = iota
	// KindValidation indicates a validator rejected a property value.
	KindValidation
	// KindHook indicates a lifecycle or change hook failed.
	KindHook
	// KindComposition indicates an ambiguous or conflicting model definition.
	KindComposition
	// KindSchema indicates a declarative definition file could not be loaded.
	KindSchema
	// KindSelector indicates a selector expression failed to compile or run.
	KindSelector
	// KindPanic indicates a recovered panic.
	KindPanic
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindHook:
		return "hook"
	case KindComposition:
		return "composition"
	case KindSchema:
		return "schema"
	case KindSelector:
		return "selector"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// ModelError represents a structured error in the remos engine.
type ModelError struct {
	// Op is the operation that failed (e.g., "model.New").
	Op string
	// Kind categorizes the error.
	Kind ErrorKind
	// Err is the underlying error.
	Err error
	// Property is the model property involved, if applicable.
	Property string
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *ModelError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("%s [%s] property=%s: %v", e.Op, e.Kind, e.Property, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// PanicError represents a recovered panic.
type PanicError struct {
	// Op is the operation that panicked (e.g., "model.Call").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// CompositionError describes a conflict discovered while flattening and
// instantiating a model definition. It is the only error class that
// propagates to the caller of model.New.
type CompositionError struct {
	// Property is the definition entry that conflicts.
	Property string
	// Reason describes the conflict.
	Reason string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("conflicting definition for %q: %s", e.Property, e.Reason)
}

// ErrorHandler receives errors reported by the remos engine.
type ErrorHandler interface {
	// HandleError is called when an error occurs.
	HandleError(err *ModelError)
	// HandlePanic is called when a panic is recovered.
	HandlePanic(err *PanicError)
}
