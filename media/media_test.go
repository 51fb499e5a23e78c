package media

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmplitude(t *testing.T) {
	assert.Zero(t, Amplitude(nil, AmplitudeScale))
	assert.Zero(t, Amplitude([]byte{0, 0, 0}, AmplitudeScale))
	assert.Equal(t, 1.0, Amplitude([]byte{255, 255}, AmplitudeScale))
	assert.InDelta(t, 0.5, Amplitude([]byte{255, 255}, 0.5), 1e-9)

	// rms of {0, 102} is sqrt(5202) ~ 72.12
	assert.InDelta(t, 72.125/255*1.5, Amplitude([]byte{0, 102}, 1.5), 1e-3)
}

func TestCrossed(t *testing.T) {
	assert.True(t, Crossed(0, 0.5, Threshold))
	assert.True(t, Crossed(0.5, 0.1, Threshold))
	assert.False(t, Crossed(0.3, 0.5, Threshold))
	assert.False(t, Crossed(0.05, Threshold, Threshold))
	assert.True(t, Crossed(0.3, 0.5, 0.4))
}

func TestSpectrumAnalyserDefaultsScale(t *testing.T) {
	a := SpectrumAnalyser{Spectrum: func() []byte { return []byte{34, 34} }}
	assert.InDelta(t, 34.0/255*AmplitudeScale, a.Amplitude(), 1e-9)
}

func TestPlaceholder(t *testing.T) {
	silence, err := NewPlaceholder(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)
	black, err := NewPlaceholder(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)

	assert.False(t, silence.Enabled())
	assert.NotEqual(t, silence.ID(), black.ID())
	assert.Equal(t, silence.ID(), silence.Local().ID())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, silence.Local().Kind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, black.Kind())
}

func TestPlaceholderDevices(t *testing.T) {
	track, err := PlaceholderDevices{}.Acquire(context.Background(), Presentation, FacingUser)
	require.NoError(t, err)
	assert.True(t, track.Enabled())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, track.Kind())

	track.Stop()
	assert.False(t, track.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = PlaceholderDevices{}.Acquire(ctx, Audio, FacingUser)
	assert.ErrorIs(t, err, context.Canceled)
}
