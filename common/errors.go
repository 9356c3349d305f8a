package common

import "errors"

// Sentinel errors shared across the engine. Call sites wrap these with
// fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrKeyNotFound is a logical miss: point lookup found no live entry.
	ErrKeyNotFound = errors.New("key not found")

	// ErrNoDatabaseOpen is a domain error: an operation was invoked with no
	// open database.
	ErrNoDatabaseOpen = errors.New("no database open")

	// ErrNegativeKey is a domain error: the key domain is non-negative only.
	ErrNegativeKey = errors.New("key must be non-negative")

	// ErrNegativeValue is a domain error: values must be non-negative, except
	// for the reserved TOMBSTONE sentinel.
	ErrNegativeValue = errors.New("value must be non-negative or the tombstone sentinel")

	// ErrClosed is returned by any operation on a closed engine.
	ErrClosed = errors.New("storage engine closed")

	// ErrInvalidCommand is reported at the interactive surface for malformed input.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrAlignment is an alignment failure (aligned buffer allocation, or an
	// I/O offset not page-aligned); handled as an I/O failure.
	ErrAlignment = errors.New("alignment failure")

	// ErrCorruptPage is raised when a page read back does not match the
	// fixed-size page contract (short read, bad length).
	ErrCorruptPage = errors.New("corrupt page")
)
