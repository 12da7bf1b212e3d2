package recognizer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/recognizer"
)

func TestFakeStartFailsWhenFlagged(t *testing.T) {
	f := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	f.FailModel = true

	_, _, err := f.Start(context.Background(), "en-US")
	assert.ErrorIs(t, err, recognizer.ErrModelUnavailable)
}

func TestFakeStartRejectsUnsupportedLocale(t *testing.T) {
	f := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	f.SupportedLocales = []string{"en-US"}

	_, _, err := f.Start(context.Background(), "fr-FR")
	assert.ErrorIs(t, err, recognizer.ErrLocaleUnsupported)
}

func TestFakeEmitsScriptedResultsOnPush(t *testing.T) {
	f := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	f.Script([]recognizer.Result{
		{Text: "hello", IsFinal: true, Runs: []recognizer.Run{{StartMs: 0, DurationMs: 500, TextFragment: "hello"}}},
	})

	stream, results, err := f.Start(context.Background(), "en-US")
	require.NoError(t, err)

	stream.Push([]float32{0, 0})

	select {
	case r := <-results:
		assert.Equal(t, "hello", r.Text)
		assert.True(t, r.IsFinal)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scripted result")
	}
}

func TestFakeFinalizeFlushesRemainingScriptAndCloses(t *testing.T) {
	f := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	f.Script([]recognizer.Result{
		{Text: "one", IsFinal: true},
		{Text: "two", IsFinal: true},
	})

	_, results, err := f.Start(context.Background(), "en-US")
	require.NoError(t, err)

	require.NoError(t, f.Finalize(context.Background(), time.Second))

	var texts []string
	for r := range results {
		texts = append(texts, r.Text)
	}
	assert.Equal(t, []string{"one", "two"}, texts)
}

func TestFakeCancelClosesResultsChannel(t *testing.T) {
	f := recognizer.NewFake(recognizer.Format{SampleRate: 16000, Channels: 1})
	_, results, err := f.Start(context.Background(), "en-US")
	require.NoError(t, err)

	f.Cancel()

	select {
	case _, ok := <-results:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
