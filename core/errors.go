package core

import (
	"errors"
	"fmt"
)

var (
	// ErrClassification is the sentinel wrapped by every ClassificationError
	ErrClassification = errors.New("event classification failed")

	// ErrUnknownEvent is returned when a RawEvent has no populated arm
	ErrUnknownEvent = errors.New("unknown event type")
)

// ClassificationError reports why an event could not be mapped to an operation.
// Value is empty when the field was missing.
type ClassificationError struct {
	Variant VariantType
	Field   string
	Value   string
}

func (e *ClassificationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s not found in %s", ErrClassification, e.Field, e.Variant)
	}
	return fmt.Sprintf("%s: unsupported %s %q in %s", ErrClassification, e.Field, e.Value, e.Variant)
}

// Unwrap allows errors.Is(err, ErrClassification)
func (e *ClassificationError) Unwrap() error {
	return ErrClassification
}

func classificationError(variant VariantType, field, value string) error {
	return &ClassificationError{Variant: variant, Field: field, Value: value}
}
