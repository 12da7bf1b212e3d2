package mixer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/limiter"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/mixer"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

func testParams() mixer.Params {
	return mixer.Params{
		TargetSampleRate: 48000,
		BlockSize:        100,
		StartupThreshold: 100,
		CrossfadeLen:     10,
		JitterTolerance:  128,
		LevelPeriod:      time.Millisecond,
		LimiterParams:    limiter.DefaultParams(),
	}
}

type outputCollector struct {
	mu     sync.Mutex
	blocks []frame.StereoFrame
}

func (c *outputCollector) onOutput(f frame.StereoFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, f)
}

func (c *outputCollector) snapshot() []frame.StereoFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame.StereoFrame, len(c.blocks))
	copy(out, c.blocks)
	return out
}

func TestMixerEmitsMonotonicOutputSampleIndex(t *testing.T) {
	collector := &outputCollector{}
	m := mixer.New(testParams(), nil, collector.onOutput, nil)

	go m.Run()

	for i := 0; i < 5; i++ {
		m.AppendMic(make([]float32, 100), false, 0)
		m.AppendSystem(make([]float32, 100), false, 0)
	}
	m.Close()

	// Give the goroutine a moment to drain; Close() closing the channel is
	// enough to guarantee all already-queued frames are processed before
	// Run returns, but the goroutine itself needs a scheduling slice.
	time.Sleep(20 * time.Millisecond)

	blocks := collector.snapshot()
	require.NotEmpty(t, blocks)

	var last uint64
	for i, b := range blocks {
		if i > 0 {
			assert.Greater(t, b.OutputSampleIndex, last)
		}
		last = b.OutputSampleIndex
	}
}

func TestMixerOutputsExactFrameCountPerBlockSize(t *testing.T) {
	collector := &outputCollector{}
	params := testParams()
	m := mixer.New(params, nil, collector.onOutput, nil)

	go m.Run()
	m.AppendMic(make([]float32, 100), false, 0)
	m.AppendSystem(make([]float32, 100), false, 0)
	m.Close()
	time.Sleep(20 * time.Millisecond)

	blocks := collector.snapshot()
	require.Len(t, blocks, 1)
	assert.Equal(t, params.BlockSize, blocks[0].FrameCount)
	assert.Len(t, blocks[0].Interleaved, params.BlockSize*2)
}

func TestMixerFlushEmitsRemainderWithoutSilencePadding(t *testing.T) {
	collector := &outputCollector{}
	params := testParams()
	params.StartupThreshold = 10
	m := mixer.New(params, nil, collector.onOutput, nil)

	go m.Run()
	// Fewer samples than BlockSize on each side: nothing emitted by the
	// normal drain loop.
	m.AppendMic(make([]float32, 40), false, 0)
	m.AppendSystem(make([]float32, 30), false, 0)
	m.Close()
	time.Sleep(20 * time.Millisecond)

	require.Empty(t, collector.snapshot())

	// Flush must run after Run has returned (no other goroutine touches
	// the buffers), emitting exactly min(40,30)=30 frames with no padding.
	m.Flush()
	blocks := collector.snapshot()
	require.Len(t, blocks, 1)
	assert.Equal(t, 30, blocks[0].FrameCount)
}

func TestMixerDropsInputWhenQueueFull(t *testing.T) {
	params := testParams()
	m := mixer.New(params, nil, nil, nil)
	// Never call Run: the input queue fills and subsequent appends must be
	// dropped rather than block the caller.
	capacity := 48000/100*4*2
	if capacity < 64 {
		capacity = 64
	}
	for i := 0; i < capacity+10; i++ {
		m.AppendMic(make([]float32, 1), false, 0)
	}
	assert.Greater(t, m.DroppedInputFrames(), int64(0))
}

func TestMixerTapReceivesPreInterleaveChannels(t *testing.T) {
	micTap := make(chan []float32, 4)
	systemTap := make(chan []float32, 4)

	params := testParams()
	m := mixer.New(params, nil, nil, nil)
	m.SetTap(mixer.Tap{Mic: micTap, System: systemTap})

	go m.Run()
	m.AppendMic(make([]float32, 100), false, 0)
	m.AppendSystem(make([]float32, 100), false, 0)
	m.Close()

	select {
	case mic := <-micTap:
		assert.Len(t, mic, params.BlockSize)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mic tap")
	}
	select {
	case sys := <-systemTap:
		assert.Len(t, sys, params.BlockSize)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for system tap")
	}
}
