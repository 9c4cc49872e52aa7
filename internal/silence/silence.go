// Package silence implements the silence detector (C2): a pure function
// over a PCM buffer that returns candidate cut points for the chunk
// planner.
//
// The default detector is a dependency-free window-by-window scan of mean
// absolute amplitude. An
// alternate, model-backed detector using silero-vad-go is provided in
// onnx.go for callers who have the ONNX runtime available.
package silence

import (
	"math"

	"github.com/aitranslate/subtitler/internal/pcm"
)

// Point is a half-open sample range judged to be silence.
type Point struct {
	StartSample int
	EndSample   int
}

// Options parameterizes the detector. Zero values are replaced by the
// package defaults from SetDefaults.
type Options struct {
	// Threshold is the mean-absolute-amplitude level below which a window
	// counts as silent. Default 0.01.
	Threshold float64

	// MinDuration is the minimum contiguous silent duration, in seconds,
	// for an interval to be reported. Default 0.3s.
	MinDuration float64

	// WindowSamples is the analysis window size. Default 160 samples (10ms
	// at 16kHz).
	WindowSamples int
}

// SetDefaults fills in zero fields with sane defaults.
func (o *Options) SetDefaults() {
	if o.Threshold <= 0 {
		o.Threshold = 0.01
	}
	if o.MinDuration <= 0 {
		o.MinDuration = 0.3
	}
	if o.WindowSamples <= 0 {
		o.WindowSamples = 160
	}
}

// Detector scans a PCM buffer for silence intervals.
type Detector interface {
	Detect(buf pcm.Buffer) ([]Point, error)
}

// RMSDetector is the default, dependency-free silence detector: a
// sliding-window mean-absolute-energy scan merged into intervals that meet
// the minimum duration requirement.
type RMSDetector struct {
	Options Options
}

// NewRMSDetector builds a detector with defaults applied.
func NewRMSDetector(opts Options) *RMSDetector {
	opts.SetDefaults()
	return &RMSDetector{Options: opts}
}

// Detect returns non-overlapping silence intervals sorted by start sample.
func (d *RMSDetector) Detect(buf pcm.Buffer) ([]Point, error) {
	opts := d.Options
	opts.SetDefaults()

	if len(buf.Samples) == 0 {
		return nil, nil
	}

	minSamples := int(opts.MinDuration * float64(buf.SampleRate))
	window := opts.WindowSamples
	if window > len(buf.Samples) {
		window = len(buf.Samples)
	}
	if window <= 0 {
		window = 1
	}

	var points []Point
	var runStart = -1

	flush := func(end int) {
		if runStart < 0 {
			return
		}
		if end-runStart >= minSamples {
			points = append(points, Point{StartSample: runStart, EndSample: end})
		}
		runStart = -1
	}

	for start := 0; start < len(buf.Samples); start += window {
		end := start + window
		if end > len(buf.Samples) {
			end = len(buf.Samples)
		}

		energy := meanAbsAmplitude(buf.Samples[start:end])
		if energy < opts.Threshold {
			if runStart < 0 {
				runStart = start
			}
		} else {
			flush(start)
		}
	}
	flush(len(buf.Samples))

	return points, nil
}

func meanAbsAmplitude(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}
