package transcript_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/transcript"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

func TestMergeEmptyProducesNoSpeechNotice(t *testing.T) {
	out := transcript.Merge(nil, nil, transcript.DefaultOptions())
	assert.Contains(t, out, "# Transcript")
	assert.Contains(t, out, "*No speech detected*")
}

func TestMergeEmptyWithoutNoticeOmitsIt(t *testing.T) {
	out := transcript.Merge(nil, nil, transcript.Options{NoSpeechNoticeOnEmpty: false})
	assert.NotContains(t, out, "No speech detected")
}

func TestMergeOrdersAcrossChannelsByStartTime(t *testing.T) {
	mic := []frame.TranscriptSegment{
		{StartMs: 2000, EndMs: 2500, Speaker: frame.SpeakerMe, Text: "second from me"},
	}
	system := []frame.TranscriptSegment{
		{StartMs: 0, EndMs: 500, Speaker: frame.SpeakerThem, Text: "first from them"},
	}

	out := transcript.Merge(mic, system, transcript.DefaultOptions())

	themIdx := strings.Index(out, "first from them")
	meIdx := strings.Index(out, "second from me")
	require.NotEqual(t, -1, themIdx)
	require.NotEqual(t, -1, meIdx)
	assert.Less(t, themIdx, meIdx)
}

func TestMergeEmitsNewSpeakerHeaderOnChange(t *testing.T) {
	mic := []frame.TranscriptSegment{
		{StartMs: 0, EndMs: 1000, Speaker: frame.SpeakerMe, Text: "hello"},
	}
	system := []frame.TranscriptSegment{
		{StartMs: 1000, EndMs: 2000, Speaker: frame.SpeakerThem, Text: "hi back"},
	}

	out := transcript.Merge(mic, system, transcript.DefaultOptions())
	assert.Contains(t, out, "**Me:**")
	assert.Contains(t, out, "**Them:**")
}

func TestMergeEmitsNewHeaderOnLongGapSameSpeaker(t *testing.T) {
	mic := []frame.TranscriptSegment{
		{StartMs: 0, EndMs: 500, Speaker: frame.SpeakerMe, Text: "first"},
		{StartMs: 5000, EndMs: 5500, Speaker: frame.SpeakerMe, Text: "much later"},
	}

	out := transcript.Merge(mic, nil, transcript.Options{SpeakerGap: 1500_000_000, NoSpeechNoticeOnEmpty: true})
	headerCount := strings.Count(out, "**Me:**")
	assert.Equal(t, 2, headerCount)
}

func TestMergeKeepsSingleHeaderForConsecutiveShortGapSegments(t *testing.T) {
	mic := []frame.TranscriptSegment{
		{StartMs: 0, EndMs: 500, Speaker: frame.SpeakerMe, Text: "first"},
		{StartMs: 700, EndMs: 1200, Speaker: frame.SpeakerMe, Text: "continuing"},
	}

	out := transcript.Merge(mic, nil, transcript.DefaultOptions())
	assert.Equal(t, 1, strings.Count(out, "**Me:**"))
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "continuing")
}

func TestMergeIncludesParticipantsLine(t *testing.T) {
	out := transcript.Merge(nil, nil, transcript.Options{
		Participants:          []string{"Alice", "Bob"},
		NoSpeechNoticeOnEmpty: true,
	})
	assert.Contains(t, out, "**Participants:** Alice, Bob")
}

func TestMergeRendersTimestampFormat(t *testing.T) {
	mic := []frame.TranscriptSegment{
		{StartMs: 3_725_040, EndMs: 3_726_000, Speaker: frame.SpeakerMe, Text: "timed"},
	}
	out := transcript.Merge(mic, nil, transcript.DefaultOptions())
	assert.Contains(t, out, "[01:02:05.040] timed")
}
