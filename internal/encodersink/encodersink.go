// Package encodersink implements the Stereo Encoder Sink (C5): it accepts
// interleaved stereo float32 blocks with sample-accurate timestamps and
// writes them into a compressed AAC-in-MP4 container via a direct libav
// binding.
package encodersink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	ffmpeg "github.com/csnewman/ffmpeg-go"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

// ErrEncoderInit is surfaced when the container cannot be opened or the
// codec is unavailable.
var ErrEncoderInit = errors.New("encodersink: encoder init failed")

const (
	bitrateBps       = 128_000
	sampleRate       = 48000
	numChannels      = 2
	stereoChanLayout = 3 // AV_CH_LAYOUT_STEREO
)

// fifoCapacity sizes the internal sample FIFO to smooth over the mismatch
// between the mixer's block size and the codec's native frame size.
const fifoCapacity = 1 << 16

// Sink owns the muxer and its file handle. Append encodes and writes on the
// calling goroutine (in a session, the mixer goroutine); there is no
// separate encoder goroutine or queue. Append does not wait on I/O
// failures — those are logged and the block dropped.
type Sink struct {
	logger *slog.Logger

	mu        sync.Mutex
	formatCtx *ffmpeg.AVFormatContext
	stream    *ffmpeg.AVStream
	codecCtx  *ffmpeg.AVCodecContext
	encFrame  *ffmpeg.AVFrame
	frameSize int

	fifo *sampleFIFO

	nextPts       int64
	closed        bool
	droppedBlocks int64
}

// New opens outputPath and prepares an AAC-LC 48kHz stereo MP4 container.
func New(outputPath string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pathCStr := ffmpeg.ToCStr(outputPath)
	defer pathCStr.Free()

	var formatCtx *ffmpeg.AVFormatContext
	ret, err := ffmpeg.AVFormatAllocOutputContext2(&formatCtx, nil, nil, pathCStr)
	if err != nil {
		return nil, fmt.Errorf("%w: alloc output context: %v", ErrEncoderInit, err)
	}
	if ret < 0 {
		return nil, fmt.Errorf("%w: alloc output context: %d", ErrEncoderInit, ret)
	}

	codec := ffmpeg.AVCodecFindEncoder(ffmpeg.AVCodecIdAac)
	if codec == nil {
		return nil, fmt.Errorf("%w: aac encoder not found", ErrEncoderInit)
	}

	stream := ffmpeg.AVFormatNewStream(formatCtx, nil)
	if stream == nil {
		return nil, fmt.Errorf("%w: new audio stream", ErrEncoderInit)
	}
	stream.SetId(0)

	codecCtx := ffmpeg.AVCodecAllocContext3(codec)
	if codecCtx == nil {
		return nil, fmt.Errorf("%w: alloc codec context", ErrEncoderInit)
	}
	codecCtx.SetSampleFmt(ffmpeg.AVSampleFmtFltp)
	codecCtx.SetSampleRate(sampleRate)
	codecCtx.SetChannelLayout(stereoChanLayout)
	codecCtx.SetChannels(numChannels)
	codecCtx.SetBitRate(bitrateBps)
	stream.SetTimeBase(ffmpeg.AVMakeQ(1, codecCtx.SampleRate()))

	ret, err = ffmpeg.AVCodecOpen2(codecCtx, codec, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open codec: %v", ErrEncoderInit, err)
	}
	if ret < 0 {
		return nil, fmt.Errorf("%w: open codec: %d", ErrEncoderInit, ret)
	}

	ret, err = ffmpeg.AVCodecParametersFromContext(stream.Codecpar(), codecCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: copy codec parameters: %v", ErrEncoderInit, err)
	}
	if ret < 0 {
		return nil, fmt.Errorf("%w: copy codec parameters: %d", ErrEncoderInit, ret)
	}

	var pb *ffmpeg.AVIOContext
	ret, err = ffmpeg.AVIOOpen(&pb, pathCStr, ffmpeg.AVIOFlagWrite)
	if err != nil {
		return nil, fmt.Errorf("%w: open output %q: %v", ErrEncoderInit, outputPath, err)
	}
	if ret < 0 {
		return nil, fmt.Errorf("%w: open output %q: %d", ErrEncoderInit, outputPath, ret)
	}
	formatCtx.SetPb(pb)

	ret, err = ffmpeg.AVFormatWriteHeader(formatCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: write header: %v", ErrEncoderInit, err)
	}
	if ret < 0 {
		return nil, fmt.Errorf("%w: write header: %d", ErrEncoderInit, ret)
	}

	frameSize := codecCtx.FrameSize()
	encFrame := ffmpeg.AVFrameAlloc()
	if encFrame == nil {
		return nil, fmt.Errorf("%w: alloc encoder frame", ErrEncoderInit)
	}
	encFrame.SetNbSamples(frameSize)
	encFrame.SetFormat(int(ffmpeg.AVSampleFmtFltp))
	encFrame.SetChannelLayout(stereoChanLayout)
	encFrame.SetChannels(numChannels)
	encFrame.SetSampleRate(codecCtx.SampleRate())

	if ret, err = ffmpeg.AVFrameGetBuffer(encFrame, 0); err != nil {
		return nil, fmt.Errorf("%w: alloc encoder frame buffer: %v", ErrEncoderInit, err)
	} else if ret < 0 {
		return nil, fmt.Errorf("%w: alloc encoder frame buffer: %d", ErrEncoderInit, ret)
	}

	return &Sink{
		logger:    logger,
		formatCtx: formatCtx,
		stream:    stream,
		codecCtx:  codecCtx,
		encFrame:  encFrame,
		frameSize: frameSize,
		fifo:      newSampleFIFO(fifoCapacity),
	}, nil
}

// Append writes a stereo block. Presentation time is derived from the
// encoder's running sample count, per spec §4.5. Append-time failures are
// logged and the block dropped. Encoding runs synchronously on the caller's
// goroutine.
func (s *Sink) Append(out frame.StereoFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.fifo.Push(out.Interleaved)

	for s.fifo.Available() >= s.frameSize*numChannels {
		chunk := s.fifo.Pop(s.frameSize * numChannels)
		if err := s.encodeAndWrite(chunk); err != nil {
			s.droppedBlocks++
			s.logger.Error("dropping stereo block after encode failure", "err", err)
		}
	}
}

// encodeAndWrite feeds one frameSize-worth of interleaved stereo samples
// through the encoder and writes every packet it produces.
func (s *Sink) encodeAndWrite(interleaved []float32) error {
	ffmpeg.AVFrameMakeWritable(s.encFrame)
	if err := writeStereoFloats(s.encFrame, interleaved); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	s.encFrame.SetPts(s.nextPts)
	s.nextPts += int64(len(interleaved) / numChannels)

	ret, err := ffmpeg.AVCodecSendFrame(s.codecCtx, s.encFrame)
	if err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	if ret < 0 {
		return fmt.Errorf("send frame: %d", ret)
	}
	return s.drainPackets()
}

// drainPackets pulls every packet currently available from the encoder and
// writes it to the muxer, stopping at EAGAIN/EOF.
func (s *Sink) drainPackets() error {
	for {
		pkt := ffmpeg.AVPacketAlloc()
		ret, err := ffmpeg.AVCodecReceivePacket(s.codecCtx, pkt)
		if err != nil || errors.Is(err, ffmpeg.EAgain) || errors.Is(err, ffmpeg.AVErrorEOF) {
			ffmpeg.AVPacketFree(&pkt)
			if err != nil && !errors.Is(err, ffmpeg.EAgain) && !errors.Is(err, ffmpeg.AVErrorEOF) {
				return fmt.Errorf("receive packet: %w", err)
			}
			return nil
		}
		if ret < 0 {
			ffmpeg.AVPacketFree(&pkt)
			return fmt.Errorf("receive packet: %d", ret)
		}

		pkt.SetStreamIndex(s.stream.Index())
		ffmpeg.AVPacketRescaleTs(pkt, s.codecCtx.TimeBase(), s.stream.TimeBase())

		ret, err = ffmpeg.AVInterleavedWriteFrame(s.formatCtx, pkt)
		ffmpeg.AVPacketFree(&pkt)
		if err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
		if ret < 0 {
			return fmt.Errorf("write packet: %d", ret)
		}
	}
}

// writeStereoFloats copies interleaved stereo float32 samples into a
// planar (AV_SAMPLE_FMT_FLTP) encoder frame's two channel buffers.
func writeStereoFloats(f *ffmpeg.AVFrame, samples []float32) error {
	nbSamples := len(samples) / numChannels

	leftPtr := f.Data().Get(0)
	rightPtr := f.Data().Get(1)
	if leftPtr == nil || rightPtr == nil {
		return errors.New("frame data pointers not allocated")
	}

	leftData := (*[1 << 30]byte)(unsafe.Pointer(leftPtr))[: nbSamples*4 : nbSamples*4]
	rightData := (*[1 << 30]byte)(unsafe.Pointer(rightPtr))[: nbSamples*4 : nbSamples*4]

	for i := 0; i < nbSamples; i++ {
		leftFloat := samples[i*2]
		copy(leftData[i*4:(i+1)*4], (*[4]byte)(unsafe.Pointer(&leftFloat))[:])

		rightFloat := samples[i*2+1]
		copy(rightData[i*4:(i+1)*4], (*[4]byte)(unsafe.Pointer(&rightFloat))[:])
	}

	return nil
}

// DroppedBlocks returns the count of blocks dropped due to append-time
// encode/write failures.
func (s *Sink) DroppedBlocks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedBlocks
}

// Finish pads and flushes any buffered samples, drains the encoder, writes
// the trailer, and closes the file handle. Idempotent.
func (s *Sink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if remaining := s.fifo.Available(); remaining > 0 {
		partial := s.fifo.Pop(remaining)
		padded := make([]float32, s.frameSize*numChannels)
		copy(padded, partial)
		if err := s.encodeAndWrite(padded); err != nil {
			s.logger.Error("error flushing final partial block", "err", err)
		}
	}

	// Flush the encoder: send a nil frame, drain remaining packets.
	if _, err := ffmpeg.AVCodecSendFrame(s.codecCtx, nil); err != nil {
		s.logger.Error("error sending flush frame", "err", err)
	}
	if err := s.drainPackets(); err != nil {
		s.logger.Error("error draining encoder on flush", "err", err)
	}

	ffmpeg.AVWriteTrailer(s.formatCtx)

	if pb := s.formatCtx.Pb(); pb != nil {
		ffmpeg.AVIOClose(pb)
	}

	ffmpeg.AVCodecFreeContext(&s.codecCtx)
	ffmpeg.AVFrameFree(&s.encFrame)
	ffmpeg.AVFormatFreeContext(s.formatCtx)
	s.formatCtx = nil

	return nil
}
