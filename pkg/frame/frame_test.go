package frame_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

func TestSourceTagStringAndSpeaker(t *testing.T) {
	assert.Equal(t, "mic", frame.Mic.String())
	assert.Equal(t, frame.SpeakerMe, frame.Mic.Speaker())

	assert.Equal(t, "system", frame.System.String())
	assert.Equal(t, frame.SpeakerThem, frame.System.Speaker())
}

func TestSourceTagStringUnknown(t *testing.T) {
	var unknown frame.SourceTag = 99
	assert.Equal(t, "unknown", unknown.String())
}
