package silence

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/aitranslate/subtitler/internal/pcm"
)

// ONNXDetectorConfig configures the silero-vad-go-backed detector.
type ONNXDetectorConfig struct {
	ModelPath   string
	WindowSize  int
	Threshold   float32
	SpeechPadMs int

	// MinSilenceDurationMs mirrors the window's MinDuration but expressed
	// the way the underlying detector expects it.
	MinSilenceDurationMs int
}

func (c *ONNXDetectorConfig) setDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 1536
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.SpeechPadMs <= 0 {
		c.SpeechPadMs = 100
	}
	if c.MinSilenceDurationMs <= 0 {
		c.MinSilenceDurationMs = 300
	}
}

// ONNXDetector detects silence by inverting the speech segments reported by
// a silero VAD model: the gaps between detected speech segments are the
// silence points this package's contract expects.
type ONNXDetector struct {
	cfg ONNXDetectorConfig
}

// NewONNXDetector constructs a model-backed detector. The model file must
// be present on disk at cfg.ModelPath.
func NewONNXDetector(cfg ONNXDetectorConfig) *ONNXDetector {
	cfg.setDefaults()
	return &ONNXDetector{cfg: cfg}
}

// Detect implements Detector using a silero VAD session, created and
// destroyed for the lifetime of a single call so no session leaks across
// runs.
func (d *ONNXDetector) Detect(buf pcm.Buffer) ([]Point, error) {
	if len(buf.Samples) == 0 {
		return nil, nil
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            d.cfg.ModelPath,
		SampleRate:           buf.SampleRate,
		WindowSize:           d.cfg.WindowSize,
		Threshold:            d.cfg.Threshold,
		SpeechPadMs:          d.cfg.SpeechPadMs,
		MinSilenceDurationMs: d.cfg.MinSilenceDurationMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech detector: %w", err)
	}
	defer func() {
		_ = sd.Destroy()
	}()

	segments, err := sd.Detect(buf.Samples)
	if err != nil {
		return nil, fmt.Errorf("failed to detect speech: %w", err)
	}

	var points []Point
	cursor := 0
	for _, seg := range segments {
		startSample := int(seg.SpeechStartAt * float64(buf.SampleRate))
		if startSample > cursor {
			points = append(points, Point{StartSample: cursor, EndSample: startSample})
		}
		endSample := int(seg.SpeechEndAt * float64(buf.SampleRate))
		if endSample > cursor {
			cursor = endSample
		}
	}
	if cursor < len(buf.Samples) {
		points = append(points, Point{StartSample: cursor, EndSample: len(buf.Samples)})
	}

	return points, nil
}
