// Package session implements the Session Coordinator (C8): the exclusive
// owner of one recording session's components, lifecycle, and cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/config"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/encodersink"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/limiter"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/mixer"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/recognizer"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/sourceadapter"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/summarizer"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/transcriber"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/transcript"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

// ErrAlreadyRunning is returned by Start if a session is already active on
// this Coordinator. A process may hold at most one session at a time.
var ErrAlreadyRunning = errors.New("session: already running")

// CaptureSource is the external collaborator providing timestamped sample
// buffers. The Coordinator only knows how to Start/Stop it and register a
// frame callback; platform acquisition is entirely out of scope (spec §1).
type CaptureSource interface {
	Start(ctx context.Context, onFrame func(frame.SampleFrame)) error
	Stop()
}

// Options configures a session.
type Options struct {
	Config config.Config

	MicSource    CaptureSource
	SystemSource CaptureSource

	Engine       func() recognizer.Engine // factory, one call per channel
	Locale       string
	Participants []string

	OutputDir string // holds audio.m4a, transcript.md, (optional) summary.md

	Summarizer *summarizer.Summarizer // optional

	Logger *slog.Logger
}

// Result is returned by Stop.
type Result struct {
	SessionID      uuid.UUID
	AudioPath      string
	TranscriptPath string
	SummaryPath    string // empty if no summarizer was configured
	Transcript     string
}

// Coordinator owns one session's components. Start and Stop are serialized
// by an internal mutex (typically there is exactly one Coordinator per
// process).
type Coordinator struct {
	logger *slog.Logger

	mu         sync.Mutex
	running    bool
	stopped    bool
	lastResult Result

	sessionID uuid.UUID
	opts      Options

	mixer             *mixer.Mixer
	encoder           *encodersink.Sink
	micTranscriber    *transcriber.Transcriber
	systemTranscriber *transcriber.Transcriber

	micTapCh    chan []float32
	systemTapCh chan []float32

	mixerDone     chan struct{}
	micTapDone    chan struct{}
	systemTapDone chan struct{}
}

// New constructs an idle Coordinator.
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{logger: logger}
}

// Start brings up the session's components in dependency order: encoder,
// transcribers, mixer (with taps and output handlers wired), adapters,
// then the capture sources, per spec §4.8.
func (c *Coordinator) Start(ctx context.Context, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}

	sessionID := uuid.New()
	logger := c.logger.With("session_id", sessionID)

	cfg := opts.Config
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("session: create output dir: %w", err)
	}

	audioPath := filepath.Join(opts.OutputDir, "audio.m4a")

	// 1. Stereo Encoder Sink.
	encoder, err := encodersink.New(audioPath, logger)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	logger.Info("session starting", "output_dir", opts.OutputDir)

	// 2. Streaming Transcribers.
	micFragmentPath := filepath.Join(opts.OutputDir, "mic.fragment.txt")
	systemFragmentPath := filepath.Join(opts.OutputDir, "system.fragment.txt")

	micTranscriber := transcriber.New(frame.SpeakerMe, opts.Locale, cfg.TargetSampleRate, opts.Engine(), cfg.FlushInterval, nil)
	systemTranscriber := transcriber.New(frame.SpeakerThem, opts.Locale, cfg.TargetSampleRate, opts.Engine(), cfg.FlushInterval, nil)

	if err := micTranscriber.Start(ctx, micFragmentPath); err != nil {
		encoder.Finish()
		return fmt.Errorf("session: mic transcriber start: %w", err)
	}
	if err := systemTranscriber.Start(ctx, systemFragmentPath); err != nil {
		micTranscriber.Cancel()
		encoder.Finish()
		return fmt.Errorf("session: system transcriber start: %w", err)
	}

	// 3. Mixer Core, with output/level/tap handlers registered.
	micTapCh := make(chan []float32, feedQueueCapacity(cfg))
	systemTapCh := make(chan []float32, feedQueueCapacity(cfg))

	m := mixer.New(mixer.Params{
		TargetSampleRate: cfg.TargetSampleRate,
		BlockSize:        cfg.BlockSize,
		StartupThreshold: cfg.StartupThreshold,
		CrossfadeLen:     cfg.CrossfadeLen,
		JitterTolerance:  cfg.JitterTolerance,
		LevelPeriod:      cfg.LevelPeriod,
		LimiterParams: limiter.Params{
			Threshold:   cfg.LimiterThreshold,
			Knee:        0.2,
			Ratio:       cfg.LimiterRatio,
			AttackCoef:  0.01,
			ReleaseCoef: 0.0004,
		},
	}, logger, encoder.Append, nil)
	m.SetTap(mixer.Tap{Mic: micTapCh, System: systemTapCh})

	micTapDone := make(chan struct{})
	systemTapDone := make(chan struct{})
	go forwardTap(micTapCh, micTranscriber, micTapDone)
	go forwardTap(systemTapCh, systemTranscriber, systemTapDone)

	mixerDone := make(chan struct{})
	go func() {
		m.Run()
		close(mixerDone)
	}()

	// 4. Sample Source Adapters, wired to the Mixer's per-channel append.
	micAdapter := sourceadapter.New(frame.Mic, cfg.TargetSampleRate, float32(cfg.MicGain), logger, m.AppendMic)
	systemAdapter := sourceadapter.New(frame.System, cfg.TargetSampleRate, float32(cfg.SystemGain), logger, m.AppendSystem)

	// 5. Pin the session's reference host-tick-zero point.
	m.SetBaseHostTick(time.Now().UnixNano())

	// 6. Start the external capture sources.
	if err := opts.MicSource.Start(ctx, micAdapter.OnFrame); err != nil {
		m.Close()
		<-mixerDone
		close(micTapCh)
		close(systemTapCh)
		<-micTapDone
		<-systemTapDone
		micTranscriber.Cancel()
		systemTranscriber.Cancel()
		encoder.Finish()
		return fmt.Errorf("session: mic source start: %w", err)
	}
	if err := opts.SystemSource.Start(ctx, systemAdapter.OnFrame); err != nil {
		opts.MicSource.Stop()
		m.Close()
		<-mixerDone
		close(micTapCh)
		close(systemTapCh)
		<-micTapDone
		<-systemTapDone
		micTranscriber.Cancel()
		systemTranscriber.Cancel()
		encoder.Finish()
		return fmt.Errorf("session: system source start: %w", err)
	}

	c.sessionID = sessionID
	c.opts = opts
	c.mixer = m
	c.encoder = encoder
	c.micTranscriber = micTranscriber
	c.systemTranscriber = systemTranscriber
	c.micTapCh = micTapCh
	c.systemTapCh = systemTapCh
	c.mixerDone = mixerDone
	c.micTapDone = micTapDone
	c.systemTapDone = systemTapDone
	c.running = true
	c.stopped = false

	return nil
}

func feedQueueCapacity(cfg config.Config) int {
	const seconds = 4
	framesPerSecond := cfg.TargetSampleRate / max(1, cfg.BlockSize)
	capacity := framesPerSecond * seconds
	if capacity < 16 {
		capacity = 16
	}
	return capacity
}

// forwardTap drains ch and feeds each block to t until ch is closed. done
// is closed on return, so callers can join this goroutine before closing
// t's own input channel (t.Finalize does that close, and FeedSamples would
// panic if it raced a send against it).
func forwardTap(ch <-chan []float32, t *transcriber.Transcriber, done chan<- struct{}) {
	defer close(done)
	for samples := range ch {
		t.FeedSamples(samples)
	}
}

// Stop halts capture, flushes the mixer, finalizes the encoder and both
// transcribers (in parallel), merges the transcript, optionally summarizes
// it, and releases all components. Idempotent: a second call is a no-op
// returning the prior Result.
func (c *Coordinator) Stop(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.stopped {
		return c.lastResult, nil
	}
	c.stopped = true

	// 1. Stop the external capture sources.
	c.opts.MicSource.Stop()
	c.opts.SystemSource.Stop()

	// 2. Let the mixer goroutine drain its queue and return, then flush
	// the remainder once no other goroutine touches its buffers.
	c.mixer.Close()
	<-c.mixerDone
	c.mixer.Flush()

	close(c.micTapCh)
	close(c.systemTapCh)
	<-c.micTapDone
	<-c.systemTapDone

	// 3. Finish the Stereo Encoder Sink.
	audioPath := filepath.Join(c.opts.OutputDir, "audio.m4a")
	if err := c.encoder.Finish(); err != nil {
		c.logger.Error("error finishing encoder", "err", err)
	}

	// 4. Finalize both Transcribers in parallel.
	finalizeTimeout := c.opts.Config.FinalizeTimeout
	var micFinals, systemFinals []frame.TranscriptSegment
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		micFinals = c.micTranscriber.Finalize(finalizeTimeout)
		return nil
	})
	g.Go(func() error {
		systemFinals = c.systemTranscriber.Finalize(finalizeTimeout)
		return nil
	})
	_ = g.Wait()

	// 5. Merge final segments.
	merged := transcript.Merge(micFinals, systemFinals, transcript.Options{
		SpeakerGap:            c.opts.Config.SpeakerGap,
		Participants:          c.opts.Participants,
		NoSpeechNoticeOnEmpty: true,
	})

	transcriptPath := filepath.Join(c.opts.OutputDir, "transcript.md")
	if err := os.WriteFile(transcriptPath, []byte(merged), 0644); err != nil {
		c.logger.Error("error writing merged transcript", "err", err)
	}

	result := Result{
		SessionID:      c.sessionID,
		AudioPath:      audioPath,
		TranscriptPath: transcriptPath,
		Transcript:     merged,
	}

	if c.opts.Summarizer != nil {
		summary, err := c.opts.Summarizer.Summarize(ctx, merged)
		if err != nil {
			c.logger.Warn("summarizer failed, no summary produced", "err", err)
		} else {
			summaryPath := filepath.Join(c.opts.OutputDir, "summary.md")
			if err := os.WriteFile(summaryPath, []byte(summary), 0644); err != nil {
				c.logger.Error("error writing summary", "err", err)
			} else {
				result.SummaryPath = summaryPath
			}
		}
	}

	// 6. Drop all components.
	c.running = false
	c.lastResult = result
	return result, nil
}
