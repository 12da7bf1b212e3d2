// Package resample provides a pluggable sample-rate and channel-layout
// converter used by the Sample Source Adapter to normalize arbitrary
// capture formats down to 48kHz mono float32.
package resample

import (
	"github.com/oov/audio/resampler"
)

// To avoid reallocating per source frame, converters keep a scratch buffer
// sized for "enough" samples. 48kHz audio at a few hundred milliseconds of
// buffering comfortably fits in this.
const scratchSize = 16384

// Signature identifies a source audio format. Converters are cached keyed
// on Signature; a change invalidates the cache entry for that source.
type Signature struct {
	SourceRate int
	Channels   int
}

// Converter downmixes an arbitrary source format to mono float32 at the
// target rate it was built for.
type Converter interface {
	// Convert consumes interleaved source samples and returns mono
	// float32 samples at the target rate. The returned slice is only
	// valid until the next call to Convert.
	Convert(source []float32) []float32
}

// New builds a Converter from sig to mono at targetRate.
//
// Multichannel sources are downmixed to mono by averaging channels before
// any rate conversion.
func New(sig Signature, targetRate int) Converter {
	if sig.Channels <= 1 && sig.SourceRate == targetRate {
		return identityConverter{}
	}
	if sig.SourceRate == targetRate {
		return &monoDownmixConverter{channels: sig.Channels, buf: make([]float32, scratchSize)}
	}
	return newResampleConverter(sig, targetRate)
}

type identityConverter struct{}

func (identityConverter) Convert(source []float32) []float32 { return source }

// monoDownmixConverter averages N interleaved channels down to mono without
// changing sample rate.
type monoDownmixConverter struct {
	channels int
	buf      []float32
}

func (c *monoDownmixConverter) Convert(source []float32) []float32 {
	n := len(source) / c.channels
	if n > len(c.buf) {
		c.buf = make([]float32, n)
	}
	for i := 0; i < n; i++ {
		var sum float32
		for ch := 0; ch < c.channels; ch++ {
			sum += source[i*c.channels+ch]
		}
		c.buf[i] = sum / float32(c.channels)
	}
	return c.buf[:n]
}

// resampleConverter downmixes to mono (if needed) then runs the mono stream
// through a high-quality sample-rate converter, the same algorithm family
// the reference implementation's format-conversion stage uses.
type resampleConverter struct {
	channels int
	r        *resampler.Resampler
	monoBuf  []float32
	outBuf   []float32
}

func newResampleConverter(sig Signature, targetRate int) *resampleConverter {
	const quality = 10
	return &resampleConverter{
		channels: sig.Channels,
		r:        resampler.New(1, sig.SourceRate, targetRate, quality),
		monoBuf:  make([]float32, scratchSize),
		outBuf:   make([]float32, scratchSize),
	}
}

func (c *resampleConverter) Convert(source []float32) []float32 {
	mono := source
	if c.channels > 1 {
		n := len(source) / c.channels
		if n > len(c.monoBuf) {
			c.monoBuf = make([]float32, n)
		}
		for i := 0; i < n; i++ {
			var sum float32
			for ch := 0; ch < c.channels; ch++ {
				sum += source[i*c.channels+ch]
			}
			c.monoBuf[i] = sum / float32(c.channels)
		}
		mono = c.monoBuf[:n]
	}

	if len(mono) > len(c.outBuf) {
		c.outBuf = make([]float32, len(mono)*2)
	}
	_, written := c.r.ProcessFloat32(0, mono, c.outBuf)
	return c.outBuf[:written]
}
