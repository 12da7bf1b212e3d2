// Command meetingrec drives one end-to-end recording session from two
// WAV files (standing in for live mic/system capture) to a stereo audio
// artifact and a merged transcript.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/config"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/obslog"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/recognizer"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/sourceadapter"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/internal/summarizer"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/session"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		micWav     = flag.String("mic-wav", "", "WAV file to stream as the mic source")
		systemWav  = flag.String("system-wav", "", "WAV file to stream as the system-audio source")
		outputDir  = flag.String("output-dir", "./recording", "directory to write audio.m4a, transcript.md, summary.md")
		locale     = flag.String("locale", "en-US", "locale hint passed to the recognizer")
		summaryCmd = flag.String("summary-cmd", "", "optional external summarizer command")
		recordSecs = flag.Int("record-seconds", 10, "how long to record before stopping")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logFile, err := obslog.Configure(cfg.LogLevel, cfg.LogFile, slog.HandlerOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if *micWav == "" || *systemWav == "" {
		slog.Error("--mic-wav and --system-wav are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	micSource := sourceadapter.NewFileCaptureSource(*micWav, frame.Mic, 20*time.Millisecond, nil)
	systemSource := sourceadapter.NewFileCaptureSource(*systemWav, frame.System, 20*time.Millisecond, nil)

	var summ *summarizer.Summarizer
	if *summaryCmd != "" {
		summ = summarizer.New(*summaryCmd, nil, nil)
	}

	coord := session.New(nil)
	opts := session.Options{
		Config:       cfg,
		MicSource:    micSource,
		SystemSource: systemSource,
		Engine: func() recognizer.Engine {
			return recognizer.NewFake(recognizer.Format{SampleRate: cfg.TargetSampleRate, Channels: 1})
		},
		Locale:     *locale,
		OutputDir:  *outputDir,
		Summarizer: summ,
	}

	if err := coord.Start(ctx, opts); err != nil {
		slog.Error("session start failed", "err", err)
		os.Exit(1)
	}
	slog.Info("recording started", "output_dir", *outputDir)

	select {
	case <-time.After(time.Duration(*recordSecs) * time.Second):
	case <-ctx.Done():
	}

	result, err := coord.Stop(context.Background())
	if err != nil {
		slog.Error("session stop failed", "err", err)
		os.Exit(1)
	}

	slog.Info("recording finished",
		"session_id", result.SessionID,
		"audio", result.AudioPath,
		"transcript", result.TranscriptPath,
		"summary", result.SummaryPath,
	)
}
