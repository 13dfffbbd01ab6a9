package analysis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM audio the
// pipeline accepts.
const bitsPerSample = 16

// ErrNotWAV is returned when a payload does not start with a RIFF/WAVE
// container header.
var ErrNotWAV = errors.New("analysis: not a RIFF/WAVE container")

// Waveform is a decoded mono-mixable PCM clip.
type Waveform struct {
	// Samples holds 16-bit signed samples, interleaved when Channels > 1.
	Samples []int16

	SampleRate int
	Channels   int
}

// Duration returns the clip length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 || w.Channels <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate*w.Channels)
}

// ValidateWAV performs the cheap container check applied before any pipeline
// stage runs: the first twelve bytes must spell a RIFF chunk with a WAVE
// form type.
func ValidateWAV(data []byte) error {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return ErrNotWAV
	}
	return nil
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit PCM audio. Chunks
// other than "fmt " and "data" are skipped. The declared sample rate inside
// the container wins over any caller-declared rate.
func DecodeWAV(data []byte) (Waveform, error) {
	if err := ValidateWAV(data); err != nil {
		return Waveform{}, err
	}

	var (
		w       Waveform
		gotFmt  bool
		gotData bool
	)

	// Walk the chunk list after the 12-byte RIFF header.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return Waveform{}, fmt.Errorf("analysis: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Waveform{}, errors.New("analysis: fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return Waveform{}, fmt.Errorf("analysis: unsupported audio format %d (want PCM)", format)
			}
			w.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if bps := binary.LittleEndian.Uint16(data[body+14 : body+16]); bps != bitsPerSample {
				return Waveform{}, fmt.Errorf("analysis: unsupported bit depth %d (want %d)", bps, bitsPerSample)
			}
			gotFmt = true

		case "data":
			n := size / 2
			w.Samples = make([]int16, n)
			for i := 0; i < n; i++ {
				w.Samples[i] = int16(binary.LittleEndian.Uint16(data[body+i*2 : body+i*2+2]))
			}
			gotData = true
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !gotFmt || !gotData {
		return Waveform{}, errors.New("analysis: missing fmt or data chunk")
	}
	if w.SampleRate <= 0 || w.Channels <= 0 {
		return Waveform{}, errors.New("analysis: invalid fmt chunk values")
	}
	return w, nil
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. Used by providers that upload audio and by tests that
// construct fixtures.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ComputeFeatures derives the acoustic feature set from a decoded waveform.
// All amplitude figures are normalized to [0, 1] against full-scale 16-bit
// PCM. The center frequency is a zero-crossing estimate, not a spectral one;
// it is cheap and good enough for the ranking heuristics that consume it.
func ComputeFeatures(w Waveform) SignalFeatures {
	n := len(w.Samples)
	if n == 0 {
		return SignalFeatures{}
	}

	var (
		sumSquares float64
		peak       float64
		crossings  int
	)
	prevNegative := w.Samples[0] < 0
	for _, s := range w.Samples {
		v := float64(s)
		sumSquares += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
		negative := s < 0
		if negative != prevNegative {
			crossings++
			prevNegative = negative
		}
	}

	const fullScale = 32768.0
	rms := math.Sqrt(sumSquares/float64(n)) / fullScale
	peak /= fullScale
	zcr := float64(crossings) / float64(n)

	feats := SignalFeatures{
		RMS:  &rms,
		Peak: &peak,
		ZCR:  &zcr,
	}
	if w.SampleRate > 0 {
		// Each full signal period produces two zero crossings.
		cf := zcr * float64(w.SampleRate) / 2
		feats.CenterFrequency = &cf
	}
	return feats
}

// MergeFeatureHints overlays client-supplied feature hints onto computed
// features. A hinted value always wins; computed values only fill gaps.
func MergeFeatureHints(computed, hints SignalFeatures) SignalFeatures {
	out := computed
	if hints.RMS != nil {
		out.RMS = hints.RMS
	}
	if hints.Peak != nil {
		out.Peak = hints.Peak
	}
	if hints.CenterFrequency != nil {
		out.CenterFrequency = hints.CenterFrequency
	}
	if hints.ZCR != nil {
		out.ZCR = hints.ZCR
	}
	return out
}
