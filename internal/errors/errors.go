// Package errors provides enhanced errors with component, category and
// context metadata. It re-exports the standard helpers so callers only
// import this package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrorCategory classifies an error for logging, metrics and telemetry.
type ErrorCategory string

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNetwork       ErrorCategory = "network"
	CategoryStorage       ErrorCategory = "storage"
	CategoryCache         ErrorCategory = "cache"
	CategoryQueue         ErrorCategory = "queue"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryAuth          ErrorCategory = "auth"
)

// EnhancedError wraps an underlying error with metadata.
type EnhancedError struct {
	Err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.component == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.component, e.Err.Error())
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() ErrorCategory { return e.category }

// GetContext returns a copy of the error's context map.
func (e *EnhancedError) GetContext() map[string]any { return maps.Clone(e.context) }

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err *EnhancedError
}

// New starts building an enhanced error around err.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: &EnhancedError{Err: err, category: CategoryGeneric}}
}

// Newf starts building an enhanced error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.err.component = name
	return b
}

func (b *ErrorBuilder) Category(cat ErrorCategory) *ErrorBuilder {
	b.err.category = cat
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.err.context == nil {
		b.err.context = make(map[string]any)
	}
	b.err.context[key] = value
	return b
}

// Build finalizes the error and hands it to the telemetry reporter, if any.
func (b *ErrorBuilder) Build() *EnhancedError {
	report(b.err)
	return b.err
}

// CategoryOf returns the category of the first EnhancedError in err's chain,
// or CategoryGeneric.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// ContextString renders the context map as sorted key=value pairs.
func (e *EnhancedError) ContextString() string {
	keys := slices.Sorted(maps.Keys(e.context))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.context[k]))
	}
	return strings.Join(parts, " ")
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// NewStd creates a plain error, for sentinel values.
func NewStd(text string) error { return stderrors.New(text) }
