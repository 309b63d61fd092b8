// Package features turns a single [audio.AudioFrame] into the acoustic
// [types.Features] consumed by the emotion classifier.
//
// Every function in this package is pure and deterministic: the same frame
// always yields the same features, and no state survives between calls.
package features

import (
	"math"

	"github.com/MrWong99/mindscope/pkg/audio"
	"github.com/MrWong99/mindscope/pkg/types"
)

const (
	// MinPitch and MaxPitch bound the reported pitch in Hz.
	MinPitch = 80.0
	MaxPitch = 400.0

	// silenceMidpoint is the time-domain value of a zero sample.
	silenceMidpoint = 128.0

	// silenceBand is the distance from the midpoint below which a sample
	// counts as silent.
	silenceBand = 5.0

	// Breathing classification thresholds, checked in order.
	rapidPauseThreshold         = 0.8
	shallowVolumeThreshold      = 0.1
	irregularVariationThreshold = 0.7
)

// Extract computes all features of f. Empty frames yield the minimum pitch,
// zero for every other scalar and shallow breathing.
func Extract(f audio.AudioFrame) types.Features {
	variation := AmplitudeVariation(f.TimeDomain)
	volume := Volume(f.TimeDomain)
	pauses := PauseFrequency(f.TimeDomain)

	return types.Features{
		Pitch:            Pitch(f.Frequency, f.SampleRate),
		Volume:           volume,
		SpeechRate:       SpeechRate(f.TimeDomain),
		VoiceStress:      VoiceStress(f.Frequency, variation),
		PauseFrequency:   pauses,
		TonalVariability: TonalVariability(f.Frequency),
		Breathing:        Breathing(pauses, volume, variation),
	}
}

// Pitch estimates the dominant frequency from the lowest quarter of the
// spectrum, skipping the DC bin, and clamps it to [MinPitch, MaxPitch].
//
// The bin index is mapped to Hz as bin*sampleRate/(2*len(freq)), the centre
// frequency of the bin for a spectrum of len(freq) values.
func Pitch(freq []byte, sampleRate int) float64 {
	n := len(freq)
	if n == 0 {
		return MinPitch
	}
	maxIndex := 0
	var maxValue byte
	for i := 1; i < n/4; i++ {
		if freq[i] > maxValue {
			maxValue = freq[i]
			maxIndex = i
		}
	}
	hz := float64(maxIndex) * float64(sampleRate) / float64(2*n)
	return clamp(hz, MinPitch, MaxPitch)
}

// Volume is the RMS amplitude of the waveform centred on the silence
// midpoint, in [0, 1].
func Volume(td []byte) float64 {
	if len(td) == 0 {
		return 0
	}
	var sum float64
	for _, v := range td {
		s := (float64(v) - silenceMidpoint) / silenceMidpoint
		sum += s * s
	}
	return math.Min(1, math.Sqrt(sum/float64(len(td))))
}

// SpeechRate is the fraction of adjacent sample pairs whose centred values
// change sign. A sample exactly on the midpoint breaks no sign.
func SpeechRate(td []byte) float64 {
	if len(td) == 0 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(td); i++ {
		if (float64(td[i])-silenceMidpoint)*(float64(td[i-1])-silenceMidpoint) < 0 {
			crossings++
		}
	}
	return float64(crossings) / float64(len(td))
}

// AmplitudeVariation is the population standard deviation of the raw
// waveform bytes, normalised by the silence midpoint.
func AmplitudeVariation(td []byte) float64 {
	if len(td) == 0 {
		return 0
	}
	var mean float64
	for _, v := range td {
		mean += float64(v)
	}
	mean /= float64(len(td))

	var variance float64
	for _, v := range td {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(td))
	return math.Sqrt(variance) / silenceMidpoint
}

// HighFrequencyRatio is the share of spectral energy in the upper half of
// the spectrum. An empty or all-zero spectrum has ratio 0.
func HighFrequencyRatio(freq []byte) float64 {
	var total, high float64
	half := len(freq) / 2
	for i, v := range freq {
		total += float64(v)
		if i >= half {
			high += float64(v)
		}
	}
	if total == 0 {
		return 0
	}
	return high / total
}

// VoiceStress combines the high-frequency ratio and the amplitude variation
// of a frame into a stress indicator in [0, 1].
func VoiceStress(freq []byte, amplitudeVariation float64) float64 {
	return math.Min(1, (HighFrequencyRatio(freq)*2+amplitudeVariation)/2)
}

// PauseFrequency counts transitions from sound into silence and scales the
// count to a rate per 1000 samples.
func PauseFrequency(td []byte) float64 {
	if len(td) == 0 {
		return 0
	}
	pauses := 0
	inPause := false
	for _, v := range td {
		silent := math.Abs(float64(v)-silenceMidpoint) < silenceBand
		if silent && !inPause {
			pauses++
		}
		inPause = silent
	}
	return float64(pauses) / (float64(len(td)) / 1000)
}

// TonalVariability is the mean absolute difference between adjacent
// frequency bins normalised to [0, 1]. Fewer than two bins yield 0.
func TonalVariability(freq []byte) float64 {
	if len(freq) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(freq); i++ {
		sum += math.Abs(float64(freq[i]) - float64(freq[i-1]))
	}
	return sum / float64(len(freq)-1) / 255
}

// Breathing maps pause frequency, volume and amplitude variation onto a
// breathing pattern. The first matching condition wins.
func Breathing(pauseFrequency, volume, amplitudeVariation float64) types.BreathingPattern {
	switch {
	case pauseFrequency > rapidPauseThreshold:
		return types.BreathingRapid
	case volume < shallowVolumeThreshold:
		return types.BreathingShallow
	case amplitudeVariation > irregularVariationThreshold:
		return types.BreathingIrregular
	default:
		return types.BreathingNormal
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
