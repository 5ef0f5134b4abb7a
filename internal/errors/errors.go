// Package errors provides error handling for vector2pgsql-go.
//
// It re-exports github.com/cockroachdb/errors and defines the pipeline's
// error taxonomy. Stage failures are marked with one of the sentinel kinds
// so callers can classify them with errors.Is regardless of how much
// context has been wrapped around them:
//
//	err := errors.Mark(errors.Newf("no CRS on %s", path), errors.ErrProjection)
//	if errors.Is(err, errors.ErrProjection) { ... }
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New    = crdb.New
	Newf   = crdb.Newf
	Wrap   = crdb.Wrap
	Wrapf  = crdb.Wrapf
	Mark   = crdb.Mark
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
)

// User-facing hints
var (
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	FlattenHints = crdb.FlattenHints
)

// Error taxonomy. Each stage marks its failures with exactly one of these.
var (
	// ErrInput covers unreadable files, unsupported formats and a missing
	// CRS where one is required. Fail-fast at validation.
	ErrInput = New("input error")

	// ErrGeometryRepair marks a geometry that is still invalid after its
	// single repair attempt. Never fatal.
	ErrGeometryRepair = New("geometry repair warning")

	// ErrProjection marks reprojection without a usable source CRS or
	// between an unsupported CRS pair.
	ErrProjection = New("projection error")

	// ErrLoad marks any failure during the batched transactional write.
	ErrLoad = New("load error")

	// ErrSpatialIndex marks a failed spatial index build. It never rolls
	// back a committed load.
	ErrSpatialIndex = New("spatial index error")
)

// Kind names the taxonomy entry an error belongs to, or "" if none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrInput):
		return "InputError"
	case Is(err, ErrGeometryRepair):
		return "GeometryRepairWarning"
	case Is(err, ErrProjection):
		return "ProjectionError"
	case Is(err, ErrLoad):
		return "LoadError"
	case Is(err, ErrSpatialIndex):
		return "IndexError"
	default:
		return ""
	}
}

// Input wraps err as an InputError with a message.
func Input(err error, msg string) error {
	return Mark(Wrap(err, msg), ErrInput)
}

// Inputf creates a new InputError.
func Inputf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInput)
}

// Projectionf creates a new ProjectionError.
func Projectionf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrProjection)
}

// Load wraps err as a LoadError with a message.
func Load(err error, msg string) error {
	return Mark(Wrap(err, msg), ErrLoad)
}
