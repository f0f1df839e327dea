// Package record writes received VP8/Opus streams into a WebM file.
package record

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/media"
)

const (
	videoTrackNumber = 1
	audioTrackNumber = 2

	maxLate = 128
)

var ErrClosed = errors.New("recorder closed")

// WebMSink muxes the first video and audio track it is given. The file is
// opened on the first video keyframe, since WebM needs the frame size up
// front; audio before that is dropped.
type WebMSink struct {
	create func() (io.WriteCloser, error)
	log    *zap.Logger

	mu           sync.Mutex
	closed       bool
	video, audio webm.BlockWriteCloser
	closers      []io.Closer
	videoTS      time.Duration
	audioTS      time.Duration
	hasVideo     bool
	hasAudio     bool
}

// NewWebMFile creates a sink writing to path.
func NewWebMFile(path string, log *zap.Logger) *WebMSink {
	return NewWebMSink(func() (io.WriteCloser, error) {
		return os.Create(path)
	}, log)
}

// NewWebMSink creates a sink that opens its output through create.
func NewWebMSink(create func() (io.WriteCloser, error), log *zap.Logger) *WebMSink {
	if log == nil {
		log = zap.L().Named("record")
	}
	return &WebMSink{create: create, log: log}
}

// RecordsAudio reports that the sink muxes an Opus track next to the video.
func (s *WebMSink) RecordsAudio() bool { return true }

// Attach starts consuming stream. Only one track of each kind is recorded.
func (s *WebMSink) Attach(stream *media.RemoteStream) error {
	if stream == nil || stream.Track == nil {
		return errors.New("nil remote stream")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	switch stream.Track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		if s.hasVideo {
			return fmt.Errorf("already recording a video track")
		}
		s.hasVideo = true
		go s.consume(stream.Track, samplebuilder.New(maxLate, &codecs.VP8Packet{}, stream.Track.Codec().ClockRate), s.WriteVideo)
	case webrtc.RTPCodecTypeAudio:
		if s.hasAudio {
			return fmt.Errorf("already recording an audio track")
		}
		s.hasAudio = true
		go s.consume(stream.Track, samplebuilder.New(maxLate, &codecs.OpusPacket{}, stream.Track.Codec().ClockRate), s.WriteAudio)
	default:
		return fmt.Errorf("unsupported track kind %s", stream.Track.Kind())
	}
	s.log.Info("recording track", zap.String("stream", stream.ID), zap.String("kind", stream.Track.Kind().String()))
	return nil
}

func (s *WebMSink) consume(track *webrtc.TrackRemote, sb *samplebuilder.SampleBuilder, write func(*pmedia.Sample) error) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("track read stopped", zap.String("track", track.ID()), zap.Error(err))
			}
			return
		}
		sb.Push(pkt)
		for sample := sb.Pop(); sample != nil; sample = sb.Pop() {
			if err := write(sample); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				s.log.Warn("failed to write sample", zap.Error(err))
			}
		}
	}
}

// WriteVideo appends one VP8 frame.
func (s *WebMSink) WriteVideo(sample *pmedia.Sample) error {
	if len(sample.Data) == 0 {
		return nil
	}
	keyframe := sample.Data[0]&0x1 == 0

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.video == nil {
		if !keyframe {
			return nil
		}
		width, height, err := VP8FrameSize(sample.Data)
		if err != nil {
			return err
		}
		if err := s.open(width, height); err != nil {
			return err
		}
	}

	s.videoTS += sample.Duration
	if _, err := s.video.Write(keyframe, s.videoTS.Milliseconds(), sample.Data); err != nil {
		return fmt.Errorf("failed to write video block: %w", err)
	}
	return nil
}

// WriteAudio appends one Opus frame.
func (s *WebMSink) WriteAudio(sample *pmedia.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.audio == nil {
		return nil
	}

	s.audioTS += sample.Duration
	if _, err := s.audio.Write(true, s.audioTS.Milliseconds(), sample.Data); err != nil {
		return fmt.Errorf("failed to write audio block: %w", err)
	}
	return nil
}

func (s *WebMSink) open(width, height int) error {
	out, err := s.create()
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	ws, err := webm.NewSimpleBlockWriter(out, []webm.TrackEntry{
		{
			Name:        "Video",
			TrackNumber: videoTrackNumber,
			TrackUID:    12345,
			CodecID:     "V_VP8",
			TrackType:   1,
			Video: &webm.Video{
				PixelWidth:  uint64(width),
				PixelHeight: uint64(height),
			},
		},
		{
			Name:        "Audio",
			TrackNumber: audioTrackNumber,
			TrackUID:    67890,
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		},
	})
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to create WebM writer: %w", err)
	}

	s.video, s.audio = ws[0], ws[1]
	s.closers = []io.Closer{ws[0], ws[1]}
	s.log.Info("recording started", zap.Int("width", width), zap.Int("height", height))
	return nil
}

// Close finalizes the file. Safe to call more than once.
func (s *WebMSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.video, s.audio, s.closers = nil, nil, nil
	return errors.Join(errs...)
}

// VP8FrameSize reads the dimensions from a VP8 keyframe header.
func VP8FrameSize(frame []byte) (width, height int, err error) {
	if len(frame) < 10 {
		return 0, 0, fmt.Errorf("vp8 keyframe too short: %d bytes", len(frame))
	}
	if frame[3] != 0x9d || frame[4] != 0x01 || frame[5] != 0x2a {
		return 0, 0, errors.New("vp8 keyframe start code missing")
	}
	raw := uint(frame[6]) | uint(frame[7])<<8 | uint(frame[8])<<16 | uint(frame[9])<<24
	return int(raw & 0x3FFF), int((raw >> 16) & 0x3FFF), nil
}

var _ media.Sink = (*WebMSink)(nil)
