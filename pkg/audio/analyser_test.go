package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/mindscope/pkg/audio"
)

func sine(n, bin, fftSize int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(fftSize)))
	}
	return out
}

func TestNewAnalyser_RejectsBadSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fftSize    int
		sampleRate int
	}{
		{"not power of two", 1000, 44100},
		{"too small", 16, 44100},
		{"too large", 65536, 44100},
		{"zero sample rate", 2048, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.NewAnalyser(tt.fftSize, tt.sampleRate); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestAnalyser_SilenceFrame(t *testing.T) {
	t.Parallel()

	a, err := audio.NewAnalyser(2048, 44100)
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	a.Write(make([]float32, 4096))

	f := a.Frame()
	if f.Len() != 1024 || len(f.Frequency) != 1024 {
		t.Fatalf("frame lengths: time=%d freq=%d, want 1024", f.Len(), len(f.Frequency))
	}
	for i, v := range f.TimeDomain {
		if v != 128 {
			t.Fatalf("TimeDomain[%d] = %d, want 128", i, v)
		}
	}
	for i, v := range f.Frequency {
		if v != 0 {
			t.Fatalf("Frequency[%d] = %d, want 0", i, v)
		}
	}
	if f.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", f.SampleRate)
	}
}

func TestAnalyser_SinePeaksAtItsBin(t *testing.T) {
	t.Parallel()

	const fftSize, bin = 2048, 40
	a, err := audio.NewAnalyser(fftSize, 44100)
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	a.Write(sine(fftSize, bin, fftSize, 0.5))

	f := a.Frame()
	peak := 0
	for k := range f.Frequency {
		if f.Frequency[k] > f.Frequency[peak] {
			peak = k
		}
	}
	if peak != bin {
		t.Errorf("spectral peak at bin %d, want %d", peak, bin)
	}
	if f.Frequency[bin] == 0 {
		t.Error("peak bin magnitude is zero")
	}
}

func TestAnalyser_TimeDomainScaling(t *testing.T) {
	t.Parallel()

	a, err := audio.NewAnalyser(64, 8000)
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	samples := make([]float32, 64)
	for i := range samples {
		switch i % 3 {
		case 0:
			samples[i] = 1
		case 1:
			samples[i] = -1
		default:
			samples[i] = 0.5
		}
	}
	a.Write(samples)
	f := a.Frame()

	// The frame holds the most recent 32 samples (indices 32..63).
	for j, v := range f.TimeDomain {
		var want byte
		switch (32 + j) % 3 {
		case 0:
			want = 255
		case 1:
			want = 0
		default:
			want = 192
		}
		if v != want {
			t.Errorf("TimeDomain[%d] = %d, want %d", j, v, want)
		}
	}
}

func TestAnalyser_Timestamp(t *testing.T) {
	t.Parallel()

	a, err := audio.NewAnalyser(2048, 44100)
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	a.Write(make([]float32, 44100))
	if got := a.Frame().Timestamp; got != time.Second {
		t.Errorf("Timestamp = %v, want 1s", got)
	}

	a.Reset()
	if got := a.Frame().Timestamp; got != 0 {
		t.Errorf("Timestamp after Reset = %v, want 0", got)
	}
}

func TestConstraints_Validate(t *testing.T) {
	t.Parallel()

	if err := audio.DefaultConstraints().Validate(); err != nil {
		t.Errorf("default constraints invalid: %v", err)
	}
	c := audio.DefaultConstraints()
	if c.BinCount() != 1024 {
		t.Errorf("BinCount() = %d, want 1024", c.BinCount())
	}
	if c.Channels != 1 || c.AutoGainControl || !c.EchoCancellation || !c.NoiseSuppression {
		t.Errorf("unexpected defaults: %+v", c)
	}

	bad := audio.Constraints{SampleRate: 0, Channels: 0, FFTSize: 100}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for invalid constraints")
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	got := audio.Downmix([]float32{1, 0, -1, -1, 0.5, 0.5}, 2)
	want := []float32{0.5, -1, 0.5}
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}

	mono := []float32{0.1, 0.2}
	if out := audio.Downmix(mono, 1); &out[0] != &mono[0] {
		t.Error("mono input should be returned unchanged")
	}
}
