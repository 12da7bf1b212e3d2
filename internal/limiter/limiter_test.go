package limiter_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/limiter"
)

func TestProcessPassesThroughBelowThreshold(t *testing.T) {
	l := limiter.New(limiter.DefaultParams())

	var out float32
	for i := 0; i < 50; i++ {
		out = l.Process(0.01)
	}
	assert.InDelta(t, 0.01, out, 1e-6)
}

func TestProcessBoundsOutputAboveThreshold(t *testing.T) {
	l := limiter.New(limiter.DefaultParams())

	block := make([]float32, 4000)
	for i := range block {
		block[i] = 1.0
	}
	l.ProcessBlock(block)

	for _, s := range block {
		require.LessOrEqual(t, math.Abs(float64(s)), 1.0)
	}
	// After the envelope has settled on a sustained full-scale input, gain
	// reduction should have kicked in well below unity.
	assert.Less(t, block[len(block)-1], float32(1.0))
}

func TestResetZeroesEnvelope(t *testing.T) {
	l := limiter.New(limiter.DefaultParams())
	for i := 0; i < 100; i++ {
		l.Process(1.0)
	}
	l.Reset()

	// Immediately after reset, a single small sample should pass close to
	// unchanged since the envelope has no memory of the prior loud signal.
	out := l.Process(0.01)
	assert.InDelta(t, 0.01, out, 1e-6)
}

func TestProcessBlockNeverIncreasesPeakAmplitude(t *testing.T) {
	l := limiter.New(limiter.DefaultParams())
	block := []float32{0.9, -0.95, 0.99, -1.0, 1.0}
	l.ProcessBlock(block)
	for _, s := range block {
		assert.LessOrEqual(t, math.Abs(float64(s)), 1.0)
	}
}
