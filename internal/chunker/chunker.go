// Package chunker implements the chunk planner (C3): it turns silence
// points into a non-overlapping, duration-bounded chunk plan covering the
// whole PCM buffer, walking forward and cutting at the last safe silence
// inside a tail window, or force-cutting at a hard maximum duration when
// no safe silence is found in time.
package chunker

import (
	"fmt"

	"github.com/aitranslate/subtitler/internal/silence"
)

// Chunk is a half-open sample range, contiguous with its neighbors.
type Chunk struct {
	StartSample int
	EndSample   int
	SampleRate  int
}

// DurationSeconds returns the chunk's length in seconds.
func (c Chunk) DurationSeconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.EndSample-c.StartSample) / float64(c.SampleRate)
}

// Options parameterizes chunk planning.
type Options struct {
	// MaxChunkSeconds bounds every chunk's duration. Default 30s.
	MaxChunkSeconds float64

	// TailFraction is the fraction of the window, counted from its end,
	// inside which a silence interval triggers an early cut. Default 0.25.
	TailFraction float64
}

// SetDefaults fills in zero fields with spec defaults.
func (o *Options) SetDefaults() {
	if o.MaxChunkSeconds <= 0 {
		o.MaxChunkSeconds = 30
	}
	if o.TailFraction <= 0 {
		o.TailFraction = 0.25
	}
}

// Plan walks forward from sample 0, producing AudioChunks that together
// cover [0, totalSamples) exactly. When a silence interval overlaps the
// tail of the current window, the chunk is cut at the interval's midpoint;
// otherwise it is force-cut at the window boundary.
func Plan(totalSamples int, sampleRate int, silencePoints []silence.Point, opts Options) ([]Chunk, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if totalSamples <= 0 {
		return nil, nil
	}

	opts.SetDefaults()
	maxChunkSamples := int(opts.MaxChunkSeconds * float64(sampleRate))
	if maxChunkSamples <= 0 {
		return nil, fmt.Errorf("invalid max chunk seconds: %v", opts.MaxChunkSeconds)
	}

	if totalSamples <= maxChunkSamples {
		return []Chunk{{StartSample: 0, EndSample: totalSamples, SampleRate: sampleRate}}, nil
	}

	var chunks []Chunk
	cursor := 0

	for cursor < totalSamples {
		windowEnd := cursor + maxChunkSamples
		if windowEnd > totalSamples {
			windowEnd = totalSamples
		}

		cut := windowEnd
		if windowEnd < totalSamples {
			tailStart := windowEnd - int(float64(windowEnd-cursor)*opts.TailFraction)
			if pt, ok := lastSilenceInRange(silencePoints, tailStart, windowEnd); ok {
				mid := (pt.StartSample + pt.EndSample) / 2
				if mid > cursor && mid <= windowEnd {
					cut = mid
				}
			}
		}

		if cut <= cursor {
			cut = windowEnd
		}

		chunks = append(chunks, Chunk{StartSample: cursor, EndSample: cut, SampleRate: sampleRate})
		cursor = cut
	}

	return chunks, nil
}

// lastSilenceInRange returns the last silence point whose span overlaps
// [from, to), preferring the one closest to the window's end so the cut
// keeps as much speech in the current chunk as possible.
func lastSilenceInRange(points []silence.Point, from, to int) (silence.Point, bool) {
	var best silence.Point
	found := false
	for _, p := range points {
		if p.EndSample <= from || p.StartSample >= to {
			continue
		}
		if !found || p.StartSample > best.StartSample {
			best = p
			found = true
		}
	}
	return best, found
}
