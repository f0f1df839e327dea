package media

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// RemoteStream is a track received from the peer, grouped under the stream
// id the sender announced (or a synthesized one).
type RemoteStream struct {
	ID       string
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// Kind returns the kind of the carried track.
func (r *RemoteStream) Kind() webrtc.RTPCodecType {
	if r == nil || r.Track == nil {
		return webrtc.RTPCodecType(0)
	}
	return r.Track.Kind()
}

// Sink consumes remote streams.
type Sink interface {
	Attach(stream *RemoteStream) error
	Close() error
}

// AudioRecorder is a video sink that also takes the remote audio, so both end
// up in one recording.
type AudioRecorder interface {
	Sink
	RecordsAudio() bool
}

// DrainSink reads and discards remote RTP so the receive buffers never back
// up. It is the default hidden audio sink.
type DrainSink struct {
	log *zap.Logger

	mu      sync.Mutex
	closed  bool
	streams map[string]*RemoteStream
}

// NewDrainSink creates a drain sink. log may be nil.
func NewDrainSink(log *zap.Logger) *DrainSink {
	if log == nil {
		log = zap.L().Named("media.drain")
	}
	return &DrainSink{log: log, streams: make(map[string]*RemoteStream)}
}

// Attach starts draining the stream's track.
func (d *DrainSink) Attach(stream *RemoteStream) error {
	if stream == nil || stream.Track == nil {
		return errors.New("nil remote stream")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("sink closed")
	}
	d.streams[stream.ID+"/"+stream.Track.ID()] = stream

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := stream.Track.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					d.log.Debug("remote track read stopped", zap.String("track", stream.Track.ID()), zap.Error(err))
				}
				return
			}
		}
	}()
	return nil
}

// Streams returns the number of attached streams.
func (d *DrainSink) Streams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Close forgets the attached streams. Readers end when their peer
// connection closes.
func (d *DrainSink) Close() error {
	d.mu.Lock()
	d.closed = true
	d.streams = make(map[string]*RemoteStream)
	d.mu.Unlock()
	return nil
}
