// Package core holds shared primitives used across scanngo packages.
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is the error kind for malformed input: dimension
	// mismatches, unknown distance measure names, empty datasets, malformed
	// key lengths, and invalid configuration values.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFailedPrecondition is the error kind for operations that require
	// prior state which is missing, such as projecting before fitting a
	// basis or querying a partitioner before training.
	ErrFailedPrecondition = errors.New("failed precondition")
)

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// FailedPreconditionf wraps ErrFailedPrecondition with a formatted message.
func FailedPreconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFailedPrecondition, fmt.Sprintf(format, args...))
}
