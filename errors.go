package scanngo

import (
	"github.com/hupe1980/scanngo/blobstore"
	"github.com/hupe1980/scanngo/core"
)

var (
	// ErrInvalidArgument marks errors caused by bad caller input.
	// Matched with errors.Is.
	ErrInvalidArgument = core.ErrInvalidArgument

	// ErrFailedPrecondition marks operations invoked before the state they
	// need exists, e.g. searching through an unfitted projection.
	ErrFailedPrecondition = core.ErrFailedPrecondition

	// ErrNotFound is returned when a blob store key does not exist.
	ErrNotFound = blobstore.ErrNotFound
)
