package hmr

import (
	"errors"
	"fmt"
)

// Runtime errors.
var (
	ErrDecode           = errors.New("hmr: malformed module descriptor")
	ErrModuleNotFound   = errors.New("hmr: module not found")
	ErrNoExport         = errors.New("hmr: no such export")
	ErrNotInitialized   = errors.New("hmr: binding accessed before initialization")
	ErrWouldSuspend     = errors.New("hmr: synchronous module cannot wait for an unloaded module")
	ErrStaleGeneration  = errors.New("hmr: stale or out-of-order update")
	ErrUpdateInProgress = errors.New("hmr: update already in progress")
	ErrClosed           = errors.New("hmr: registry closed")
)

// DecodeError reports a descriptor that violates the compiler contract.
type DecodeError struct {
	ID     ModuleID
	Reason string
}

func (e *DecodeError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("hmr: decode: %s", e.Reason)
	}
	return fmt.Sprintf("hmr: decode %q: %s", e.ID, e.Reason)
}

// Unwrap returns ErrDecode.
func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

func decodeErrorf(id ModuleID, format string, args ...any) *DecodeError {
	return &DecodeError{ID: id, Reason: fmt.Sprintf(format, args...)}
}

// LoadError is cached on a module whose body (or one of whose
// dependencies) failed.
type LoadError struct {
	ID  ModuleID
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("hmr: load %q: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// GenerationError is returned for update batches that do not follow the
// current generation.
type GenerationError struct {
	Current uint64
	Got     uint64
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("hmr: stale or out-of-order update: generation %d, current %d", e.Got, e.Current)
}

// Unwrap returns ErrStaleGeneration.
func (e *GenerationError) Unwrap() error {
	return ErrStaleGeneration
}

func notFound(id ModuleID) error {
	return fmt.Errorf("%w: %q", ErrModuleNotFound, id)
}
