package silence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitranslate/subtitler/internal/pcm"
)

func loudSamples(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.8
		} else {
			out[i] = -0.8
		}
	}
	return out
}

func silentSamples(n int) []float32 {
	return make([]float32, n)
}

func TestRMSDetectorFindsMiddleSilence(t *testing.T) {
	sampleRate := 16000
	var samples []float32
	samples = append(samples, loudSamples(sampleRate)...)  // 1s loud
	samples = append(samples, silentSamples(sampleRate)...) // 1s silent
	samples = append(samples, loudSamples(sampleRate)...)  // 1s loud

	buf := pcm.Buffer{Samples: samples, SampleRate: sampleRate}
	det := NewRMSDetector(Options{})

	points, err := det.Detect(buf)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.InDelta(t, sampleRate, points[0].StartSample, float64(det.Options.WindowSamples))
	require.InDelta(t, sampleRate*2, points[0].EndSample, float64(det.Options.WindowSamples))
}

func TestRMSDetectorIgnoresShortSilence(t *testing.T) {
	sampleRate := 16000
	var samples []float32
	samples = append(samples, loudSamples(sampleRate)...)
	samples = append(samples, silentSamples(sampleRate/100)...) // 10ms, below default 0.3s min
	samples = append(samples, loudSamples(sampleRate)...)

	buf := pcm.Buffer{Samples: samples, SampleRate: sampleRate}
	det := NewRMSDetector(Options{})

	points, err := det.Detect(buf)
	require.NoError(t, err)
	require.Empty(t, points)
}

func TestRMSDetectorEmptyBuffer(t *testing.T) {
	det := NewRMSDetector(Options{})
	points, err := det.Detect(pcm.Buffer{})
	require.NoError(t, err)
	require.Empty(t, points)
}

func TestRMSDetectorTrailingSilence(t *testing.T) {
	sampleRate := 16000
	var samples []float32
	samples = append(samples, loudSamples(sampleRate)...)
	samples = append(samples, silentSamples(sampleRate)...)

	buf := pcm.Buffer{Samples: samples, SampleRate: sampleRate}
	det := NewRMSDetector(Options{})

	points, err := det.Detect(buf)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.InDelta(t, sampleRate, points[0].StartSample, float64(det.Options.WindowSamples))
	require.Equal(t, len(samples), points[0].EndSample)
}
