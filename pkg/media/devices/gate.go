package devices

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/wave"
)

func silenceWhenDisabled(gate *atomic.Bool) audio.TransformFunc {
	return func(r audio.Reader) audio.Reader {
		return audio.ReaderFunc(func() (wave.Audio, func(), error) {
			chunk, release, err := r.Read()
			if err != nil || gate.Load() {
				return chunk, release, err
			}
			info := chunk.ChunkInfo()
			if release != nil {
				release()
			}
			return wave.NewInt16Interleaved(info), func() {}, nil
		})
	}
}

func blackWhenDisabled(gate *atomic.Bool) video.TransformFunc {
	var (
		mu    sync.Mutex
		black *image.YCbCr
	)
	return func(r video.Reader) video.Reader {
		return video.ReaderFunc(func() (image.Image, func(), error) {
			img, release, err := r.Read()
			if err != nil || gate.Load() {
				return img, release, err
			}
			bounds := img.Bounds()
			if release != nil {
				release()
			}

			mu.Lock()
			defer mu.Unlock()
			if black == nil || black.Rect != bounds {
				black = blackFrame(bounds)
			}
			return black, func() {}, nil
		})
	}
}

// blackFrame is limited-range black: Y=16, Cb=Cr=128.
func blackFrame(bounds image.Rectangle) *image.YCbCr {
	f := image.NewYCbCr(bounds, image.YCbCrSubsampleRatio420)
	for i := range f.Y {
		f.Y[i] = 16
	}
	for i := range f.Cb {
		f.Cb[i] = 128
	}
	for i := range f.Cr {
		f.Cr[i] = 128
	}
	return f
}
