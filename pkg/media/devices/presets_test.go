package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityByName(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 1500},
		{"low", 500},
		{"LO", 500},
		{"med", 1500},
		{"High", 3000},
		{"hi", 3000},
		{" max ", 10000},
	}
	for _, tt := range tests {
		p, err := QualityByName(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, p.Bitrate, tt.in)
	}

	_, err := QualityByName("insane")
	assert.Error(t, err)
}

func TestParseFPS(t *testing.T) {
	fps, err := ParseFPS("24")
	require.NoError(t, err)
	assert.Equal(t, 24.0, fps)

	for _, bad := range []string{"", "0", "-5", "fast"} {
		_, err := ParseFPS(bad)
		assert.Error(t, err, bad)
	}
}

func TestDefaultConfigUsesMediumQuality(t *testing.T) {
	assert.Equal(t, 1_500_000, DefaultConfig().BitRate)
	assert.Equal(t, 30.0, DefaultConfig().FrameRate)
}
