// Package decode implements the audio decoder (C1): it turns container
// bytes of arbitrary format into a canonical mono PCM buffer at a fixed
// target sample rate, reporting the resulting duration.
//
// Grounded on mmp-vice's autowhisper/wav.go for the downmix/resample
// algorithm, generalized to byte-sniffed input and a ffmpeg fallback for
// containers neither native decoder understands (the same shell-out
// pattern used by alnah-go-transcript and naozine-zbor).
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"

	"github.com/go-audio/wav"
	"github.com/tosone/minimp3"

	"github.com/aitranslate/subtitler/internal/pcm"
)

// DecodeError wraps any failure to turn input bytes into PCM.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s audio: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Options configures the decode.
type Options struct {
	// TargetSampleRate is the output sample rate. Defaults to
	// pcm.TargetSampleRate (16kHz) when zero.
	TargetSampleRate int

	// FFmpegPath overrides the ffmpeg binary used for the generic
	// container fallback. Defaults to "ffmpeg" on PATH.
	FFmpegPath string
}

func (o Options) sampleRate() int {
	if o.TargetSampleRate > 0 {
		return o.TargetSampleRate
	}
	return pcm.TargetSampleRate
}

func (o Options) ffmpegPath() string {
	if o.FFmpegPath != "" {
		return o.FFmpegPath
	}
	return "ffmpeg"
}

// Decode turns fileBytes into a canonical PCM buffer. It first tries the
// native WAV and MP3 decoders (sniffed from the header), then falls back to
// invoking ffmpeg for any other container the stock decoders can't handle.
func Decode(fileBytes []byte, opts Options) (pcm.Buffer, error) {
	if len(fileBytes) == 0 {
		return pcm.Buffer{}, &DecodeError{Format: "unknown", Err: errors.New("empty input")}
	}

	rate := opts.sampleRate()

	switch sniff(fileBytes) {
	case formatWAV:
		buf, err := decodeWAV(fileBytes, rate)
		if err != nil {
			return pcm.Buffer{}, &DecodeError{Format: "wav", Err: err}
		}
		return buf, nil
	case formatMP3:
		buf, err := decodeMP3(fileBytes, rate)
		if err != nil {
			return pcm.Buffer{}, &DecodeError{Format: "mp3", Err: err}
		}
		return buf, nil
	default:
		buf, err := decodeWithFFmpeg(fileBytes, rate, opts.ffmpegPath())
		if err != nil {
			return pcm.Buffer{}, &DecodeError{Format: "container", Err: err}
		}
		return buf, nil
	}
}

type containerFormat int

const (
	formatUnknown containerFormat = iota
	formatWAV
	formatMP3
)

func sniff(b []byte) containerFormat {
	if len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE" {
		return formatWAV
	}
	if len(b) >= 3 && b[0] == 'I' && b[1] == 'D' && b[2] == '3' {
		return formatMP3
	}
	// A bare MPEG frame sync (11 set bits) is a reasonable MP3 signal for
	// files without an ID3 header.
	if len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0 {
		return formatMP3
	}
	return formatUnknown
}

// decodeWAV decodes a RIFF/WAVE container, downmixing to mono and
// resampling to targetRate via linear interpolation.
func decodeWAV(fileBytes []byte, targetRate int) (pcm.Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(fileBytes))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm.Buffer{}, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	if buf == nil || buf.Data == nil {
		return pcm.Buffer{}, errors.New("empty or invalid wav data")
	}

	inRate := int(dec.SampleRate)
	chans := int(dec.NumChans)
	if inRate <= 0 {
		return pcm.Buffer{}, errors.New("invalid sample rate")
	}
	if chans < 1 {
		return pcm.Buffer{}, errors.New("invalid channel count")
	}

	bitDepth := int(dec.BitDepthInBits())
	maxVal := float64(int(1) << (bitDepth - 1))
	if maxVal <= 0 {
		maxVal = 1 << 15
	}

	mono := downmix(buf.Data, chans, maxVal)
	resampled := resample(mono, inRate, targetRate)

	return pcm.Buffer{Samples: toFloat32(resampled), SampleRate: targetRate}, nil
}

// decodeMP3 decodes an MP3 stream via minimp3, downmixing and resampling as
// needed.
func decodeMP3(fileBytes []byte, targetRate int) (pcm.Buffer, error) {
	dec, pcmCh, err := minimp3.DecodeFull(fileBytes)
	if err != nil {
		return pcm.Buffer{}, fmt.Errorf("failed to start mp3 decoder: %w", err)
	}
	defer dec.Close()

	var raw []byte
	for chunk := range pcmCh {
		raw = append(raw, chunk...)
	}

	inRate := dec.SampleRate
	chans := dec.Channels
	if inRate <= 0 {
		inRate = targetRate
	}
	if chans < 1 {
		chans = 1
	}

	samples := make([]int, len(raw)/2)
	for i := range samples {
		lo := int(raw[2*i])
		hi := int(int8(raw[2*i+1]))
		samples[i] = hi<<8 | lo
	}

	mono := downmix(samples, chans, 1<<15)
	resampled := resample(mono, inRate, targetRate)

	return pcm.Buffer{Samples: toFloat32(resampled), SampleRate: targetRate}, nil
}

// decodeWithFFmpeg shells out to ffmpeg to decode any container format the
// native decoders don't understand, requesting raw signed 32-bit float mono
// PCM directly at the target rate so no further resampling is needed.
func decodeWithFFmpeg(fileBytes []byte, targetRate int, ffmpegPath string) (pcm.Buffer, error) {
	cmd := exec.Command(ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "f32le",
		"-ar", fmt.Sprintf("%d", targetRate),
		"-ac", "1",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(fileBytes)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return pcm.Buffer{}, fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}

	samples := make([]float32, len(out)/4)
	if err := readFloat32LE(out, samples); err != nil {
		return pcm.Buffer{}, fmt.Errorf("failed to parse ffmpeg output: %w", err)
	}

	return pcm.Buffer{Samples: samples, SampleRate: targetRate}, nil
}

func readFloat32LE(raw []byte, out []float32) error {
	if len(raw) < len(out)*4 {
		return io.ErrUnexpectedEOF
	}
	for i := range out {
		bits := uint32(raw[4*i]) | uint32(raw[4*i+1])<<8 | uint32(raw[4*i+2])<<16 | uint32(raw[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return nil
}

// downmix averages interleaved multi-channel integer samples into mono
// float64 samples normalized to [-1, 1].
func downmix(interleaved []int, chans int, maxVal float64) []float64 {
	if chans <= 1 {
		out := make([]float64, len(interleaved))
		for i, v := range interleaved {
			out[i] = clamp(float64(v) / maxVal)
		}
		return out
	}

	frames := len(interleaved) / chans
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < chans; c++ {
			sum += float64(interleaved[i*chans+c]) / maxVal
		}
		out[i] = clamp(sum / float64(chans))
	}
	return out
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// resample performs linear interpolation resampling, adequate for speech
// audio destined for an ASR model rather than for high fidelity playback.
func resample(in []float64, inRate, outRate int) []float64 {
	if inRate == outRate || len(in) == 0 {
		return in
	}

	ratio := float64(outRate) / float64(inRate)
	outLen := int(float64(len(in)) * ratio)
	out := make([]float64, outLen)

	for i := range out {
		srcPos := float64(i) / ratio
		j := int(srcPos)
		t := srcPos - float64(j)
		if j+1 < len(in) {
			out[i] = (1-t)*in[j] + t*in[j+1]
		} else {
			out[i] = in[j]
		}
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
