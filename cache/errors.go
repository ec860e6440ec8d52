package cache

import "errors"

var (
	// ErrNotFound is returned when a key has no value: a loader reported it
	// absent or a bulk load left it out.
	ErrNotFound = errors.New("cache: not found")

	// ErrNoLoader is returned by Get and Refresh when neither the call nor
	// Options provide a way to compute the value.
	ErrNoLoader = errors.New("cache: no Loader provided")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache: closed")

	// ErrLoadPanic wraps a panic recovered from a loader.
	ErrLoadPanic = errors.New("cache: loader panicked")

	// ErrInvalidConfig is returned by New for contradictory Options.
	ErrInvalidConfig = errors.New("cache: invalid config")
)
