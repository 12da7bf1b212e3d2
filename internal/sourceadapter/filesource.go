package sourceadapter

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

// FileCaptureSource plays a WAV file back as a timestamped capture
// source, for local development and tests without real microphone or
// system-audio capture. Modeled on the reference client's file-backed
// input device: decode once, stream frames on a ticker.
type FileCaptureSource struct {
	path          string
	source        frame.SourceTag
	frameDuration time.Duration
	logger        *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileCaptureSource builds a source that streams audioFilePath (a .wav
// file) in frameDuration-sized chunks.
func NewFileCaptureSource(audioFilePath string, source frame.SourceTag, frameDuration time.Duration, logger *slog.Logger) *FileCaptureSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileCaptureSource{path: audioFilePath, source: source, frameDuration: frameDuration, logger: logger}
}

// Start decodes the file and begins streaming frames to onFrame on a
// ticker paced by frameDuration, tagging each frame with the current host
// tick (wall-clock Unix nanoseconds, the clock the session pins its base
// host tick to).
func (f *FileCaptureSource) Start(ctx context.Context, onFrame func(frame.SampleFrame)) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return decoder.Err()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		file.Close()
		return err
	}

	samplesPerFrame := int(float64(decoder.NumChans) * float64(decoder.SampleRate) * f.frameDuration.Seconds())
	if samplesPerFrame <= 0 {
		file.Close()
		return ErrAudioFormatUnsupported
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		defer file.Close()

		const maxInt16 = float32(1 << 15)
		ticker := time.NewTicker(f.frameDuration)
		defer ticker.Stop()

		samples := make([]float32, samplesPerFrame)

		for offset := 0; offset < len(buf.Data); offset += samplesPerFrame {
			end := min(offset+samplesPerFrame, len(buf.Data))
			for i := 0; i < end-offset; i++ {
				samples[i] = float32(buf.Data[offset+i]) / maxInt16
			}

			select {
			case <-ticker.C:
				onFrame(frame.SampleFrame{
					Samples:     append([]float32(nil), samples[:end-offset]...),
					SourceRate:  int(decoder.SampleRate),
					Channels:    int(decoder.NumChans),
					Format:      frame.FormatF32,
					Source:      f.source,
					HostTick:    time.Now().UnixNano(),
					HasHostTick: true,
				})
			case <-runCtx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop cancels playback and waits for the streaming goroutine to exit.
func (f *FileCaptureSource) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	if f.done != nil {
		<-f.done
	}
}
