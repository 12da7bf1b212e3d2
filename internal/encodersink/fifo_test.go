package encodersink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFIFOPushThenPopRoundTrips(t *testing.T) {
	f := newSampleFIFO(16)
	f.Push([]float32{1, 2, 3, 4})
	assert.Equal(t, 4, f.Available())

	out := f.Pop(2)
	assert.Equal(t, []float32{1, 2}, out)
	assert.Equal(t, 2, f.Available())

	rest := f.Pop(10)
	assert.Equal(t, []float32{3, 4}, rest)
	assert.Equal(t, 0, f.Available())
}

func TestFIFOPopZeroOrNegativeReturnsNil(t *testing.T) {
	f := newSampleFIFO(4)
	f.Push([]float32{1, 2})
	assert.Nil(t, f.Pop(0))
	assert.Nil(t, f.Pop(-1))
}

func TestFIFOInterleavedPushPop(t *testing.T) {
	f := newSampleFIFO(4)
	f.Push([]float32{1, 2})
	assert.Equal(t, []float32{1}, f.Pop(1))
	f.Push([]float32{3, 4})
	assert.Equal(t, []float32{2, 3, 4}, f.Pop(10))
	assert.Equal(t, 0, f.Available())
}
