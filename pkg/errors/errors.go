// Package errors classifies failures raised while running an exposure audit.
package errors

import "errors"

type Category string

const (
	CategoryConfiguration     Category = "configuration"
	CategoryUpstreamTransient Category = "upstream_transient"
	CategoryUpstreamFatal     Category = "upstream_fatal"
	CategoryInputContract     Category = "input_contract"
	CategoryIOFailure         Category = "io_failure"
)

type classifiedError struct {
	category Category
	code     string
	hint     string
	cause    error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a category, a stable code and an optional operator hint to cause.
func Wrap(cause error, category Category, code, hint string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category: category,
		code:     code,
		hint:     hint,
		cause:    cause,
	}
}

func Configuration(code string, cause error) error {
	return Wrap(cause, CategoryConfiguration, code, "check the pricing and brand settings in your config file")
}

func Transient(code string, cause error) error {
	return Wrap(cause, CategoryUpstreamTransient, code, "")
}

func Fatal(code string, cause error) error {
	return Wrap(cause, CategoryUpstreamFatal, code, "check detector endpoint, model id and api key")
}

func IOFailure(code string, cause error) error {
	return Wrap(cause, CategoryIOFailure, code, "check that the output path exists and is writable")
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

// IsTransient reports whether err affects a single frame only.
func IsTransient(err error) bool {
	return CategoryOf(err) == CategoryUpstreamTransient
}
