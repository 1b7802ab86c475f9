package mpegcore

import "errors"

var (
	// ErrOutOfMemory is returned when a scratch or picture allocation
	// exceeds the sanity bounds of the engine. Fatal to the stream.
	ErrOutOfMemory = errors.New("mpegcore: out of memory")

	// ErrNoFrameBuffer is returned when the picture pool has no unused
	// slot left. Indicates a configuration or reference-handling error,
	// never retryable.
	ErrNoFrameBuffer = errors.New("mpegcore: no frame buffer available")

	// ErrInvalidGeometry is returned for resolutions rejected by the
	// sanity bound.
	ErrInvalidGeometry = errors.New("mpegcore: invalid geometry")

	// ErrStrideMismatch is returned when a reallocated picture's row
	// stride differs from the stride established for the stream. Block
	// addressing assumes a fixed stride per stream, so this is fatal.
	ErrStrideMismatch = errors.New("mpegcore: stride changed")

	// ErrNoReference is returned when a predicted frame arrives and no
	// reference picture is available even after dummy substitution.
	ErrNoReference = errors.New("mpegcore: no reference picture available")
)
