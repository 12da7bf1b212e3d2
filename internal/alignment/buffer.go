// Package alignment implements the per-channel alignment buffer (C2):
// it absorbs inter-arrival jitter and positions incoming sample blocks
// against the per-source expected sample index.
package alignment

import "math"

const defaultHostClockHz = 1_000_000_000 // host ticks are nanoseconds

// Buffer is a single-owner (Mixer-thread-only), append-only sample queue
// for one capture source. It tracks the source's expected_sample_index:
// the total number of samples ever appended, including silence gap-fill.
type Buffer struct {
	jitterTolerance int
	hostClockHz     int64

	samples []float32
	popped  int // read offset into samples; compacted periodically

	expectedSampleIndex uint64
	baseHostTick        int64
	baseSet             bool
	targetRate          int
}

// New creates an alignment buffer with the given jitter tolerance, in
// samples (default 128, per spec), for a timeline running at targetRate.
func New(jitterTolerance int, targetRate int) *Buffer {
	return &Buffer{
		jitterTolerance: jitterTolerance,
		hostClockHz:     defaultHostClockHz,
		targetRate:      targetRate,
	}
}

// ExpectedSampleIndex returns the source's running sample count, including
// silence gap-fill, per I2.
func (b *Buffer) ExpectedSampleIndex() uint64 { return b.expectedSampleIndex }

// Len returns the number of unpopped samples currently buffered.
func (b *Buffer) Len() int { return len(b.samples) - b.popped }

// SetBaseHostTick pins the session's reference host-tick-zero point. Must
// be called before the first Append that carries a host tick, or the
// first tick observed becomes the base automatically.
func (b *Buffer) SetBaseHostTick(tick int64) {
	b.baseHostTick = tick
	b.baseSet = true
}

// Append implements the six-step alignment algorithm from spec §4.2.
func (b *Buffer) Append(samples []float32, hasHostTick bool, hostTick int64) {
	if len(samples) == 0 {
		return
	}

	var startIdx int64
	if hasHostTick {
		if !b.baseSet {
			b.SetBaseHostTick(hostTick)
			startIdx = 0
		} else {
			elapsedTicks := hostTick - b.baseHostTick
			startIdx = int64(math.Round(float64(elapsedTicks) / float64(b.hostClockHz) * float64(b.targetRate)))
		}
	} else {
		startIdx = int64(b.expectedSampleIndex)
	}

	delta := startIdx - int64(b.expectedSampleIndex)

	if delta < 0 && delta >= -int64(b.jitterTolerance) {
		delta = 0
	}

	switch {
	case delta > 0:
		// Source fell behind: gap-fill with silence, then append the block.
		b.appendSilence(int(delta))
		b.appendRaw(samples)
		b.expectedSampleIndex += uint64(delta) + uint64(len(samples))
	case delta < -int64(b.jitterTolerance):
		// Source overlaps the existing timeline: drop the overlapping prefix.
		drop := int(-delta)
		if drop >= len(samples) {
			return
		}
		b.appendRaw(samples[drop:])
		b.expectedSampleIndex += uint64(len(samples) - drop)
	default:
		b.appendRaw(samples)
		b.expectedSampleIndex += uint64(len(samples))
	}
}

func (b *Buffer) appendSilence(n int) {
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		b.samples = append(b.samples, 0)
	}
}

func (b *Buffer) appendRaw(samples []float32) {
	b.samples = append(b.samples, samples...)
	b.compactIfWorthwhile()
}

func (b *Buffer) compactIfWorthwhile() {
	if b.popped > 0 && b.popped*2 > len(b.samples) {
		remaining := b.samples[b.popped:]
		buf := make([]float32, len(remaining))
		copy(buf, remaining)
		b.samples = buf
		b.popped = 0
	}
}

// Pop removes and returns up to n samples from the front of the buffer.
// If fewer than n samples are available, returns all available samples.
func (b *Buffer) Pop(n int) []float32 {
	available := b.Len()
	if n > available {
		n = available
	}
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	copy(out, b.samples[b.popped:b.popped+n])
	b.popped += n
	b.compactIfWorthwhile()
	return out
}
