package analysis

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// makeTonePCM renders a sine tone as little-endian PCM16.
func makeTonePCM(freq float64, sampleRate, samples int, amplitude float64) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return buf
}

func TestValidateWAV(t *testing.T) {
	t.Parallel()

	valid := EncodeWAV(makeTonePCM(440, 16000, 1600, 0.5), 16000, 1)
	if err := ValidateWAV(valid); err != nil {
		t.Errorf("ValidateWAV(valid) = %v", err)
	}

	for _, tt := range []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"short", []byte("RIFF")},
		{"wrong magic", []byte("OGGS012345678901")},
		{"riff but not wave", append([]byte("RIFF1234data"), make([]byte, 8)...)},
	} {
		if err := ValidateWAV(tt.data); err == nil {
			t.Errorf("ValidateWAV(%s) = nil, want error", tt.name)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := makeTonePCM(440, 16000, 1600, 0.5)
	wav := EncodeWAV(pcm, 16000, 1)

	w, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if w.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", w.SampleRate)
	}
	if w.Channels != 1 {
		t.Errorf("Channels = %d, want 1", w.Channels)
	}
	if len(w.Samples) != 1600 {
		t.Errorf("len(Samples) = %d, want 1600", len(w.Samples))
	}

	// Duration covers 100 ms of audio.
	if d := w.Duration(); math.Abs(d-0.1) > 1e-9 {
		t.Errorf("Duration = %v, want 0.1", d)
	}

	back := make([]byte, len(w.Samples)*2)
	for i, s := range w.Samples {
		binary.LittleEndian.PutUint16(back[i*2:], uint16(s))
	}
	if !bytes.Equal(back, pcm) {
		t.Error("decoded samples differ from encoded PCM")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := DecodeWAV([]byte("not audio at all, sorry")); err == nil {
		t.Error("DecodeWAV(garbage) = nil, want error")
	}

	// A valid container whose fmt chunk is missing must fail decode.
	hdr := append([]byte("RIFF"), 4, 0, 0, 0)
	hdr = append(hdr, []byte("WAVE")...)
	if _, err := DecodeWAV(hdr); err == nil {
		t.Error("DecodeWAV(headerless container) = nil, want error")
	}
}

func TestComputeFeatures(t *testing.T) {
	t.Parallel()

	pcm := makeTonePCM(440, 16000, 16000, 0.5)
	w, err := DecodeWAV(EncodeWAV(pcm, 16000, 1))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}

	feats := ComputeFeatures(w)
	if feats.RMS == nil || feats.Peak == nil || feats.ZCR == nil || feats.CenterFrequency == nil {
		t.Fatalf("features missing: %+v", feats)
	}

	// Half-scale sine: RMS ≈ 0.5/√2, peak ≈ 0.5.
	if math.Abs(*feats.RMS-0.5/math.Sqrt2) > 0.01 {
		t.Errorf("RMS = %v, want ≈ %v", *feats.RMS, 0.5/math.Sqrt2)
	}
	if math.Abs(*feats.Peak-0.5) > 0.01 {
		t.Errorf("Peak = %v, want ≈ 0.5", *feats.Peak)
	}

	// A 440 Hz tone crosses zero ~880 times per second.
	if math.Abs(*feats.CenterFrequency-440) > 10 {
		t.Errorf("CenterFrequency = %v, want ≈ 440", *feats.CenterFrequency)
	}
}

func TestComputeFeaturesSilence(t *testing.T) {
	t.Parallel()

	w := Waveform{Samples: make([]int16, 1000), SampleRate: 16000, Channels: 1}
	feats := ComputeFeatures(w)
	if *feats.RMS != 0 || *feats.Peak != 0 || *feats.ZCR != 0 {
		t.Errorf("silence features = %+v, want zeros", feats)
	}
}

func TestComputeFeaturesEmpty(t *testing.T) {
	t.Parallel()

	feats := ComputeFeatures(Waveform{})
	if feats.RMS != nil || feats.Peak != nil {
		t.Errorf("empty waveform features = %+v, want all nil", feats)
	}
}

func TestMergeFeatureHints(t *testing.T) {
	t.Parallel()

	computedRMS, computedPeak := 0.1, 0.2
	hintPeak := 0.9

	merged := MergeFeatureHints(
		SignalFeatures{RMS: &computedRMS, Peak: &computedPeak},
		SignalFeatures{Peak: &hintPeak},
	)
	if *merged.RMS != computedRMS {
		t.Errorf("RMS = %v, want computed %v", *merged.RMS, computedRMS)
	}
	if *merged.Peak != hintPeak {
		t.Errorf("Peak = %v, want hint %v", *merged.Peak, hintPeak)
	}
	if merged.ZCR != nil || merged.CenterFrequency != nil {
		t.Errorf("unhinted absent fields should stay nil: %+v", merged)
	}
}
