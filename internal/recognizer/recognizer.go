// Package recognizer defines the abstract streaming speech-recognition
// engine contract that the external recognizer satisfies, per spec §4.6
// and the design note on treating recognizer-stream termination as
// normal control flow (not an exception).
package recognizer

import (
	"context"
	"errors"
	"time"
)

// ErrModelUnavailable is surfaced when the engine reports its model is not
// installed.
var ErrModelUnavailable = errors.New("recognizer: model unavailable")

// ErrLocaleUnsupported is surfaced when the requested locale is not in the
// engine's supported set.
var ErrLocaleUnsupported = errors.New("recognizer: locale unsupported")

// Run describes one recognized text fragment within a Result, carrying its
// own time range.
type Run struct {
	StartMs      int64
	DurationMs   int64
	TextFragment string
}

// Result is one recognizer output. A final Result supersedes all volatile
// results covering the same time range.
type Result struct {
	Text    string
	Runs    []Run
	IsFinal bool
}

// Format describes the audio format an engine requires as input.
type Format struct {
	SampleRate int
	Channels   int
}

// InputStream accepts audio frames in the engine's native format.
type InputStream interface {
	Push(samples []float32)
}

// Engine is the abstract shape of the external recognizer. Implementations
// wrap a real on-device streaming model; Fake (in this package) is used
// for tests and for local development without a model installed.
type Engine interface {
	// PreferredFormat returns the format Start's InputStream expects.
	PreferredFormat() Format

	// Start begins a recognition session and returns the stream to push
	// audio frames to, plus a channel of results. The results channel is
	// closed when the engine has no more output to produce — this is a
	// normal, expected condition, never surfaced as an error.
	Start(ctx context.Context, locale string) (InputStream, <-chan Result, error)

	// Finalize asks the engine to emit remaining finals and close,
	// waiting up to timeout.
	Finalize(ctx context.Context, timeout time.Duration) error

	// Cancel aborts the engine immediately.
	Cancel()
}
