// Package sourceadapter implements the Sample Source Adapter (C1): it
// normalizes opaque timestamped sample buffers from external capture
// sources to 48kHz mono float32, applying per-source gain.
package sourceadapter

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/resample"
)

// ErrAudioFormatUnsupported is the fatal error surfaced when a resampling
// converter cannot be constructed for an incoming format.
var ErrAudioFormatUnsupported = errors.New("sourceadapter: audio format unsupported")

// Sink receives a normalized 48kHz mono frame and the host tick if one was
// provided with the original frame.
type Sink func(samples []float32, hasHostTick bool, hostTick int64)

// Adapter normalizes one capture source's frames to the target rate,
// applying gain and caching a resampling converter keyed on the source's
// current format signature.
type Adapter struct {
	source     frame.SourceTag
	targetRate int
	gain       float32
	logger     *slog.Logger
	sink       Sink

	cachedSig       resample.Signature
	cachedConverter resample.Converter
	haveCached      bool

	fatalErr      error
	droppedFrames atomic.Int64
}

// New constructs an Adapter for the given source, forwarding normalized
// frames to sink. gain is the linear per-source gain (default 1.0).
func New(source frame.SourceTag, targetRate int, gain float32, logger *slog.Logger, sink Sink) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		source:     source,
		targetRate: targetRate,
		gain:       gain,
		logger:     logger,
		sink:       sink,
	}
}

// Err returns the fatal error, if OnFrame has surfaced one. Once set, the
// adapter stops processing frames; the session must terminate.
func (a *Adapter) Err() error { return a.fatalErr }

// DroppedFrames returns the count of silently dropped malformed frames.
func (a *Adapter) DroppedFrames() int64 { return a.droppedFrames.Load() }

// OnFrame implements the conversion policy from spec §4.1. It may be
// called from any goroutine (the capture source's producer thread); it
// must stay cheap, so conversion work here is bounded per-call buffer
// reuse, not allocation-heavy.
func (a *Adapter) OnFrame(sf frame.SampleFrame) {
	if a.fatalErr != nil {
		return
	}
	if len(sf.Samples) == 0 {
		a.droppedFrames.Add(1)
		return
	}
	if sf.Channels <= 0 || sf.SourceRate <= 0 {
		a.logger.Warn("dropping frame with unsupported format", "source", a.source.String())
		a.droppedFrames.Add(1)
		return
	}

	samples := a.convert(sf)
	if samples == nil {
		return // fatal error already recorded
	}

	if a.gain != 1.0 {
		for i, s := range samples {
			samples[i] = s * a.gain
		}
	}

	a.sink(samples, sf.HasHostTick, sf.HostTick)
}

func (a *Adapter) convert(sf frame.SampleFrame) []float32 {
	if sf.SourceRate == a.targetRate && sf.Channels == 1 && sf.Format == frame.FormatF32 {
		return sf.Samples
	}

	sig := resample.Signature{SourceRate: sf.SourceRate, Channels: sf.Channels}
	if !a.haveCached || sig != a.cachedSig {
		converter := a.buildConverter(sig)
		if converter == nil {
			return nil
		}
		a.cachedConverter = converter
		a.cachedSig = sig
		a.haveCached = true
	}

	return a.cachedConverter.Convert(sf.Samples)
}

func (a *Adapter) buildConverter(sig resample.Signature) resample.Converter {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("resampler construction panicked", "source", a.source.String(), "recover", r)
			a.fatalErr = ErrAudioFormatUnsupported
		}
	}()
	return resample.New(sig, a.targetRate)
}
