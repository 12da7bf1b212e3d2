// Package mixer implements the Mixer Core (C3): it consumes aligned
// per-channel frames and emits pre-interleave taps, RMS level events, and
// soft-limited interleaved stereo frames with crossfade continuity.
//
// All state here is owned by a single goroutine (the "Mixer Thread" of the
// design). Callers push frames in via Append; the run loop drains both
// channel buffers, which are otherwise untouched by any other goroutine.
package mixer

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/alignment"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/limiter"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

// Params configures a Mixer. Field meanings and defaults mirror spec §6.
type Params struct {
	TargetSampleRate int
	BlockSize        int
	StartupThreshold int
	CrossfadeLen     int
	JitterTolerance  int
	LevelPeriod      time.Duration
	LimiterParams    limiter.Params
}

// Tap receives the raw mono pre-interleave pair for one output block,
// before limiting and interleaving. Used exclusively to feed streaming
// transcribers. A nil-channel tap is a no-op — sends are always
// non-blocking so a slow or absent consumer never stalls the mixer.
type Tap struct {
	Mic    chan<- []float32
	System chan<- []float32
}

// Mixer owns the two per-channel alignment buffers and produces stereo
// output blocks. All exported methods except Append* and the constructor
// are intended to run on the mixer's own goroutine via Run.
type Mixer struct {
	params Params
	logger *slog.Logger

	micBuf    *alignment.Buffer
	systemBuf *alignment.Buffer

	micLimiter    *limiter.Limiter
	systemLimiter *limiter.Limiter

	inputCh chan inputFrame

	outputSampleIndex uint64
	previousTail      []float32 // last CrossfadeLen*2 interleaved samples

	lastLevelEmit time.Time

	tap          Tap
	onOutput     func(frame.StereoFrame)
	onLevelEvent func(frame.LevelEvent)

	started atomic.Bool

	droppedInputFrames atomic.Int64
}

type inputFrame struct {
	source      frame.SourceTag
	samples     []float32
	hasHostTick bool
	hostTick    int64
}

// New constructs a Mixer. onOutput and onLevelEvent may be nil.
func New(params Params, logger *slog.Logger, onOutput func(frame.StereoFrame), onLevelEvent func(frame.LevelEvent)) *Mixer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mixer{
		params:        params,
		logger:        logger,
		micBuf:        alignment.New(params.JitterTolerance, params.TargetSampleRate),
		systemBuf:     alignment.New(params.JitterTolerance, params.TargetSampleRate),
		micLimiter:    limiter.New(params.LimiterParams),
		systemLimiter: limiter.New(params.LimiterParams),
		inputCh:       make(chan inputFrame, inputQueueCapacity(params)),
		onOutput:      onOutput,
		onLevelEvent:  onLevelEvent,
	}
}

// inputQueueCapacity sizes the mixer-input queue, counted in input frames:
// four seconds' worth of BlockSize-sized frames for each channel, at least
// 64. One queue serves both channels, and its span in seconds equals four
// only when input frames hold BlockSize samples; smaller frames cover less.
func inputQueueCapacity(p Params) int {
	const secondsOfBuffering = 4
	framesPerSecond := p.TargetSampleRate / max(1, p.BlockSize)
	capacity := framesPerSecond * secondsOfBuffering * 2 // both channels share one queue
	if capacity < 64 {
		capacity = 64
	}
	return capacity
}

// SetTap registers the pre-interleave tap destinations. Must be called
// before Run starts, or before any frames are appended, to avoid missing
// early tap events.
func (m *Mixer) SetTap(tap Tap) { m.tap = tap }

// SetBaseHostTick pins the session's reference host-tick-zero point for
// both channels, per spec §4.8 step 5.
func (m *Mixer) SetBaseHostTick(tick int64) {
	m.micBuf.SetBaseHostTick(tick)
	m.systemBuf.SetBaseHostTick(tick)
}

// AppendMic posts a mic-source frame into the mixer. Safe to call from any
// goroutine; this is the adapter callback path and must stay cheap — it
// only enqueues.
func (m *Mixer) AppendMic(samples []float32, hasHostTick bool, hostTick int64) {
	m.append(frame.Mic, samples, hasHostTick, hostTick)
}

// AppendSystem posts a system-source frame into the mixer.
func (m *Mixer) AppendSystem(samples []float32, hasHostTick bool, hostTick int64) {
	m.append(frame.System, samples, hasHostTick, hostTick)
}

func (m *Mixer) append(source frame.SourceTag, samples []float32, hasHostTick bool, hostTick int64) {
	select {
	case m.inputCh <- inputFrame{source: source, samples: samples, hasHostTick: hasHostTick, hostTick: hostTick}:
	default:
		m.droppedInputFrames.Add(1)
		m.logger.Warn("mixer input queue full, dropping frame", "source", source.String())
	}
}

// DroppedInputFrames returns the count of frames dropped due to queue
// overflow, for observability.
func (m *Mixer) DroppedInputFrames() int64 { return m.droppedInputFrames.Load() }

// Run drains the input queue and drives the main loop until the queue is
// closed (via Close). It must run on a single dedicated goroutine — no
// other goroutine may call the buffer-mutating methods while Run executes.
func (m *Mixer) Run() {
	for in := range m.inputCh {
		switch in.source {
		case frame.Mic:
			m.micBuf.Append(in.samples, in.hasHostTick, in.hostTick)
		case frame.System:
			m.systemBuf.Append(in.samples, in.hasHostTick, in.hostTick)
		}
		m.drainReady()
	}
}

// Close signals Run to return once the input queue drains.
func (m *Mixer) Close() { close(m.inputCh) }

func (m *Mixer) drainReady() {
	if !m.started.Load() {
		if m.micBuf.Len() < m.params.StartupThreshold || m.systemBuf.Len() < m.params.StartupThreshold {
			return
		}
		m.started.Store(true)
	}

	for m.micBuf.Len() >= m.params.BlockSize && m.systemBuf.Len() >= m.params.BlockSize {
		mic := m.micBuf.Pop(m.params.BlockSize)
		system := m.systemBuf.Pop(m.params.BlockSize)
		m.emitTap(mic, system)
		m.maybeEmitLevel(mic, system)
		m.emitBlock(mic, system)
	}
}

// Flush drains whatever remains once both buffers hold fewer than
// BlockSize samples: min(len(mic), len(system)) samples are emitted once,
// with no silence padding, per I3 and P2.
func (m *Mixer) Flush() {
	n := min(m.micBuf.Len(), m.systemBuf.Len())
	if n == 0 {
		return
	}
	mic := m.micBuf.Pop(n)
	system := m.systemBuf.Pop(n)
	m.emitTap(mic, system)
	m.maybeEmitLevel(mic, system)
	m.emitBlock(mic, system)
}

// emitTap sends a copy of each channel's pre-limit block to its tap. The
// limiter mutates mic/system in place after this call, so the tap must not
// share their backing array with a concurrent reader.
func (m *Mixer) emitTap(mic, system []float32) {
	if m.tap.Mic != nil {
		select {
		case m.tap.Mic <- append([]float32(nil), mic...):
		default:
		}
	}
	if m.tap.System != nil {
		select {
		case m.tap.System <- append([]float32(nil), system...):
		default:
		}
	}
}

func (m *Mixer) maybeEmitLevel(mic, system []float32) {
	now := time.Now()
	if !m.lastLevelEmit.IsZero() && now.Sub(m.lastLevelEmit) < m.params.LevelPeriod {
		return
	}
	m.lastLevelEmit = now

	if m.onLevelEvent == nil {
		return
	}
	m.onLevelEvent(frame.LevelEvent{
		MicRMSUnit:    rmsUnit(mic),
		SystemRMSUnit: rmsUnit(system),
	})
}

func rmsUnit(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	if rms < 1e-10 {
		rms = 1e-10
	}
	db := 20 * math.Log10(rms)
	unit := (db + 60) / 60
	return clamp(unit, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *Mixer) emitBlock(mic, system []float32) {
	n := len(mic)
	if len(system) < n {
		n = len(system)
	}
	mic = mic[:n]
	system = system[:n]

	m.micLimiter.ProcessBlock(mic)
	m.systemLimiter.ProcessBlock(system)

	interleaved := make([]float32, 2*n)
	for i := 0; i < n; i++ {
		interleaved[2*i] = mic[i]
		interleaved[2*i+1] = system[i]
	}

	m.applyCrossfade(interleaved)
	m.saveTail(interleaved)

	out := frame.StereoFrame{
		Interleaved:       interleaved,
		OutputSampleIndex: m.outputSampleIndex,
		FrameCount:        n,
		PresentationSec:   float64(m.outputSampleIndex) / float64(m.params.TargetSampleRate),
	}
	m.outputSampleIndex += uint64(n)

	if m.onOutput != nil {
		m.onOutput(out)
	}
}

func (m *Mixer) applyCrossfade(interleaved []float32) {
	if len(m.previousTail) == 0 {
		return
	}
	fadeFrames := m.params.CrossfadeLen
	if fadeFrames <= 0 {
		return
	}
	available := len(interleaved) / 2
	if fadeFrames > available {
		fadeFrames = available
	}
	tailFrames := len(m.previousTail) / 2
	if fadeFrames > tailFrames {
		fadeFrames = tailFrames
	}

	for k := 0; k < fadeFrames; k++ {
		t := float32(k) / float32(m.params.CrossfadeLen)
		for ch := 0; ch < 2; ch++ {
			idx := 2*k + ch
			interleaved[idx] = m.previousTail[idx]*(1-t) + interleaved[idx]*t
		}
	}
}

func (m *Mixer) saveTail(interleaved []float32) {
	tailLen := m.params.CrossfadeLen * 2
	if tailLen > len(interleaved) {
		tailLen = len(interleaved)
	}
	tail := interleaved[len(interleaved)-tailLen:]
	m.previousTail = append(m.previousTail[:0], tail...)
}
