// Package transcriber implements the Streaming Transcriber (C6): one
// instance per channel, converting 48kHz mono audio to the recognizer's
// native format, forwarding to the engine, consuming volatile/final
// results, and periodically flushing finals to a per-channel artifact.
package transcriber

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/recognizer"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/resample"
)

// DefaultFlushInterval is the per-channel transcript flush cadence.
const DefaultFlushInterval = 10 * time.Second

// DefaultFinalizeTimeout bounds the wait for the recognizer to drain on
// stop.
const DefaultFinalizeTimeout = 30 * time.Second

// Segment observer, fired for every new segment (volatile or final).
type OnSegment func(frame.TranscriptSegment)

// Transcriber owns one channel's recognizer session.
type Transcriber struct {
	speaker       frame.Speaker
	locale        string
	engine        recognizer.Engine
	sourceRate    int
	flushInterval time.Duration
	outputPath    string
	onSegment     OnSegment

	mu             sync.Mutex
	finalSegments  []frame.TranscriptSegment
	latestVolatile *frame.TranscriptSegment
	lastFlush      time.Time

	converter   resample.Converter
	inputStream recognizer.InputStream
	results     <-chan recognizer.Result

	feedCh   chan []float32
	done     chan struct{}
	cancel   context.CancelFunc
	canceled bool
}

// New constructs a Transcriber for one channel. speaker is the
// deterministic diarization tag (Me for mic, Them for system).
func New(speaker frame.Speaker, locale string, sourceRate int, engine recognizer.Engine, flushInterval time.Duration, onSegment OnSegment) *Transcriber {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Transcriber{
		speaker:       speaker,
		locale:        locale,
		engine:        engine,
		sourceRate:    sourceRate,
		flushInterval: flushInterval,
		onSegment:     onSegment,
	}
}

// feedQueueSeconds bounds the transcriber-input queue to roughly two
// seconds of engine-format audio, per spec §5.
const feedQueueSeconds = 2

// Start obtains the engine's preferred format, caches a converter from
// 48kHz mono float32 to that format, starts the engine, and launches the
// result-consumer worker. outputPath, if non-empty, is the per-channel
// fragment path that periodic flushes write to.
func (t *Transcriber) Start(ctx context.Context, outputPath string) error {
	t.outputPath = outputPath

	format := t.engine.PreferredFormat()
	t.converter = resample.New(resample.Signature{SourceRate: t.sourceRate, Channels: 1}, format.SampleRate)

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	stream, results, err := t.engine.Start(runCtx, t.locale)
	if err != nil {
		cancel()
		return err
	}
	t.inputStream = stream
	t.results = results

	approxFramesPerSecond := 50 // 20ms frames, typical for streaming engines
	t.feedCh = make(chan []float32, feedQueueSeconds*approxFramesPerSecond)
	t.done = make(chan struct{})

	go t.feedLoop(runCtx)
	go t.consumeLoop()

	return nil
}

func (t *Transcriber) feedLoop(ctx context.Context) {
	for {
		select {
		case samples, ok := <-t.feedCh:
			if !ok {
				return
			}
			t.inputStream.Push(samples)
		case <-ctx.Done():
			return
		}
	}
}

// FeedSamples converts and pushes 48kHz mono samples. Non-blocking: drops
// the frame if the input queue is full, or if the transcriber has been
// canceled or never started.
func (t *Transcriber) FeedSamples(samples []float32) {
	t.mu.Lock()
	canceled := t.canceled
	feedCh := t.feedCh
	t.mu.Unlock()

	if canceled || feedCh == nil {
		return
	}

	converted := t.converter.Convert(samples)
	// Convert reuses its internal buffer; copy before handing off since
	// the send is asynchronous relative to the next Convert call.
	cp := make([]float32, len(converted))
	copy(cp, converted)

	select {
	case feedCh <- cp:
	default:
	}
}

func (t *Transcriber) consumeLoop() {
	defer close(t.done)
	for result := range t.results {
		t.handleResult(result)
	}
}

func (t *Transcriber) handleResult(result recognizer.Result) {
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return
	}

	var startMs, endMs int64
	if len(result.Runs) > 0 {
		startMs = result.Runs[0].StartMs
		for _, r := range result.Runs {
			if r.StartMs < startMs {
				startMs = r.StartMs
			}
			end := r.StartMs + r.DurationMs
			if end > endMs {
				endMs = end
			}
		}
	}

	seg := frame.TranscriptSegment{
		StartMs: startMs,
		EndMs:   endMs,
		Speaker: t.speaker,
		Text:    text,
		IsFinal: result.IsFinal,
	}

	t.mu.Lock()
	if result.IsFinal {
		t.finalSegments = append(t.finalSegments, seg)
		t.latestVolatile = nil
		t.maybeFlushLocked()
	} else {
		t.latestVolatile = &seg
	}
	t.mu.Unlock()

	if t.onSegment != nil {
		t.onSegment(seg)
	}
}

// maybeFlushLocked must be called with t.mu held.
func (t *Transcriber) maybeFlushLocked() {
	if t.outputPath == "" {
		return
	}
	if !t.lastFlush.IsZero() && time.Since(t.lastFlush) < t.flushInterval {
		return
	}
	snapshot := append([]frame.TranscriptSegment(nil), t.finalSegments...)
	t.lastFlush = time.Now()
	go t.writeFragment(snapshot)
}

func (t *Transcriber) writeFragment(segments []frame.TranscriptSegment) {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(formatFragmentLine(s))
	}

	tmp := t.outputPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		// Fall back to a direct write if the atomic rename path can't be
		// prepared at all.
		_ = os.WriteFile(t.outputPath, []byte(b.String()), 0644)
		return
	}
	if err := os.Rename(tmp, t.outputPath); err != nil {
		_ = os.WriteFile(t.outputPath, []byte(b.String()), 0644)
	}
}

func formatFragmentLine(s frame.TranscriptSegment) string {
	return "[" + formatTimestamp(s.StartMs) + "] " + s.Text + "\n"
}

func formatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	ms %= 3_600_000
	minutes := ms / 60_000
	ms %= 60_000
	seconds := ms / 1000
	millis := ms % 1000
	return padTimestamp(hours, minutes, seconds, millis)
}

func padTimestamp(h, m, s, ms int64) string {
	digits := func(v int64, width int) string {
		out := ""
		for i := 0; i < width; i++ {
			out = string(rune('0'+v%10)) + out
			v /= 10
		}
		return out
	}
	return digits(h, 2) + ":" + digits(m, 2) + ":" + digits(s, 2) + "." + digits(ms, 3)
}

// Finalize asks the engine to emit remaining finals and close, waiting up
// to timeout, then returns the accumulated final segments.
func (t *Transcriber) Finalize(timeout time.Duration) []frame.TranscriptSegment {
	if timeout <= 0 {
		timeout = DefaultFinalizeTimeout
	}

	t.mu.Lock()
	canceled := t.canceled
	t.mu.Unlock()

	if !canceled {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = t.engine.Finalize(ctx, timeout)

		select {
		case <-t.done:
		case <-ctx.Done():
		}
	}

	if t.feedCh != nil {
		close(t.feedCh)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.latestVolatile = nil
	return append([]frame.TranscriptSegment(nil), t.finalSegments...)
}

// Cancel aborts the engine and result consumer immediately, fire-and-
// forget. Subsequent Finalize calls return whatever finals had already
// accumulated (typically none).
func (t *Transcriber) Cancel() {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		return
	}
	t.canceled = true
	t.mu.Unlock()

	t.engine.Cancel()
	if t.cancel != nil {
		t.cancel()
	}
}

