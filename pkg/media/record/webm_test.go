package record

import (
	"bytes"
	"io"
	"testing"
	"time"

	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tomaslejdung/peeplink/pkg/media"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

// keyframe builds a minimal VP8 keyframe header for w x h.
func keyframe(w, h int) []byte {
	f := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0, 0, 0, 0, 0xAA, 0xBB}
	f[6], f[7] = byte(w), byte(w>>8)
	f[8], f[9] = byte(h), byte(h>>8)
	return f
}

func TestVP8FrameSize(t *testing.T) {
	w, h, err := VP8FrameSize(keyframe(1280, 720))
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	_, _, err = VP8FrameSize([]byte{1, 2, 3})
	assert.Error(t, err)

	bad := keyframe(10, 10)
	bad[3] = 0
	_, _, err = VP8FrameSize(bad)
	assert.Error(t, err)
}

func TestWebMSinkWaitsForKeyframe(t *testing.T) {
	out := &bufferCloser{}
	opened := 0
	sink := NewWebMSink(func() (io.WriteCloser, error) {
		opened++
		return out, nil
	}, zaptest.NewLogger(t))

	// interframe (bit 0 set) and audio before the first keyframe are dropped
	require.NoError(t, sink.WriteVideo(&pmedia.Sample{Data: []byte{0x01, 0, 0}, Duration: 33 * time.Millisecond}))
	require.NoError(t, sink.WriteAudio(&pmedia.Sample{Data: []byte{0xFC}, Duration: 20 * time.Millisecond}))
	assert.Equal(t, 0, opened)

	require.NoError(t, sink.WriteVideo(&pmedia.Sample{Data: keyframe(640, 480), Duration: 33 * time.Millisecond}))
	require.NoError(t, sink.WriteAudio(&pmedia.Sample{Data: []byte{0xFC}, Duration: 20 * time.Millisecond}))
	require.NoError(t, sink.WriteVideo(&pmedia.Sample{Data: []byte{0x01, 0, 0}, Duration: 33 * time.Millisecond}))
	assert.Equal(t, 1, opened)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.True(t, out.closed)
	// EBML magic
	assert.True(t, bytes.HasPrefix(out.Bytes(), []byte{0x1A, 0x45, 0xDF, 0xA3}))

	assert.ErrorIs(t, sink.WriteVideo(&pmedia.Sample{Data: keyframe(640, 480)}), ErrClosed)
}

func TestWebMSinkRejectsNil(t *testing.T) {
	sink := NewWebMSink(nil, zaptest.NewLogger(t))
	assert.Error(t, sink.Attach(nil))
}

func TestWebMSinkRecordsAudio(t *testing.T) {
	out := &bufferCloser{}
	sink := NewWebMSink(func() (io.WriteCloser, error) { return out, nil }, zaptest.NewLogger(t))

	var s media.Sink = sink
	rec, ok := s.(media.AudioRecorder)
	require.True(t, ok)
	assert.True(t, rec.RecordsAudio())

	require.NoError(t, sink.WriteVideo(&pmedia.Sample{Data: keyframe(320, 240), Duration: 33 * time.Millisecond}))
	require.NoError(t, sink.WriteAudio(&pmedia.Sample{Data: []byte{0xFC, 0xAB, 0xCD}, Duration: 20 * time.Millisecond}))
	require.NoError(t, sink.Close())

	assert.Contains(t, out.String(), "A_OPUS")
	assert.True(t, bytes.Contains(out.Bytes(), []byte{0xFC, 0xAB, 0xCD}), "opus frame muxed")
}
