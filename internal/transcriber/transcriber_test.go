package transcriber_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/recognizer"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/transcriber"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

func TestTranscriberFinalizeReturnsScriptedFinals(t *testing.T) {
	engine := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	engine.Script([]recognizer.Result{
		{
			Text:    "hello there",
			IsFinal: true,
			Runs:    []recognizer.Run{{StartMs: 100, DurationMs: 400, TextFragment: "hello there"}},
		},
	})

	var observed []frame.TranscriptSegment
	tr := transcriber.New(frame.SpeakerMe, "en-US", 16000, engine, time.Hour, func(seg frame.TranscriptSegment) {
		observed = append(observed, seg)
	})

	require.NoError(t, tr.Start(context.Background(), ""))
	tr.FeedSamples(make([]float32, 160))

	finals := tr.Finalize(time.Second)
	require.Len(t, finals, 1)
	assert.Equal(t, "hello there", finals[0].Text)
	assert.Equal(t, int64(100), finals[0].StartMs)
	assert.Equal(t, int64(500), finals[0].EndMs)
	assert.Equal(t, frame.SpeakerMe, finals[0].Speaker)

	require.Len(t, observed, 1)
	assert.True(t, observed[0].IsFinal)
}

func TestTranscriberCancelThenFinalizeReturnsAccumulatedFinals(t *testing.T) {
	engine := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	engine.Script([]recognizer.Result{
		{Text: "never flushed", IsFinal: true},
	})

	tr := transcriber.New(frame.SpeakerThem, "en-US", 16000, engine, time.Hour, nil)
	require.NoError(t, tr.Start(context.Background(), ""))

	tr.Cancel()

	finals := tr.Finalize(time.Second)
	assert.Empty(t, finals)
}

func TestTranscriberFlushWritesFragmentAtomically(t *testing.T) {
	engine := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	engine.Script([]recognizer.Result{
		{Text: "fragment text", IsFinal: true, Runs: []recognizer.Run{{StartMs: 0, DurationMs: 200}}},
	})

	dir := t.TempDir()
	fragPath := filepath.Join(dir, "mic.fragment.txt")

	tr := transcriber.New(frame.SpeakerMe, "en-US", 16000, engine, 0, nil)
	require.NoError(t, tr.Start(context.Background(), fragPath))
	tr.FeedSamples(make([]float32, 160))

	tr.Finalize(time.Second)

	// The fragment flush runs on its own goroutine; give it a moment to
	// land before asserting on the file.
	var data []byte
	require.Eventually(t, func() bool {
		var err error
		data, err = os.ReadFile(fragPath)
		return err == nil && len(data) > 0
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, string(data), "fragment text")
}

func TestTranscriberDropsEmptyText(t *testing.T) {
	engine := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	engine.Script([]recognizer.Result{
		{Text: "   ", IsFinal: true},
	})

	var observed []frame.TranscriptSegment
	tr := transcriber.New(frame.SpeakerMe, "en-US", 16000, engine, time.Hour, func(seg frame.TranscriptSegment) {
		observed = append(observed, seg)
	})
	require.NoError(t, tr.Start(context.Background(), ""))
	tr.FeedSamples(make([]float32, 160))

	finals := tr.Finalize(time.Second)
	assert.Empty(t, finals)
	assert.Empty(t, observed)
}
