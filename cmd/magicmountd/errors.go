package main

import "golang.org/x/xerrors"

// Kind classifies a MountError so callers can tell the failure
// categories apart without string matching.
type Kind int

const (
	// KindIO covers mount(2)/mkdir(2)/open(2)/readlink(2) failures
	// inside an overlaid region.
	KindIO Kind = iota
	// KindMissingModulePath covers a non-directory leaf owned by a
	// module that has no ModulePath set.
	KindMissingModulePath
	// KindStructural covers a child that needs tmpfs divergence but
	// whose parent has no ModulePath to create one with.
	KindStructural
	// KindFatal covers everything else that aborts an overlaid
	// directory outright (e.g. a failed MS_MOVE).
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindMissingModulePath:
		return "missing-module-path"
	case KindStructural:
		return "structural"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MountError is the error type threaded up by apply and its helpers. It
// carries enough context for the driver to log a single useful line and
// for the module registry to attribute the failure to the right
// module.
type MountError struct {
	Kind   Kind
	Path   string
	Module string
	Err    error
}

func (e *MountError) Error() string {
	if e.Module != "" {
		return xerrors.Errorf("%s (module %s): %w", e.Path, e.Module, e.Err).Error()
	}
	return xerrors.Errorf("%s: %w", e.Path, e.Err).Error()
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *MountError) Unwrap() error { return e.Err }

func mountErr(kind Kind, path, module string, err error) *MountError {
	return &MountError{Kind: kind, Path: path, Module: module, Err: err}
}
