// Package types defines the shared types used across all MindScope packages.
//
// These types form the lingua franca between the feature extractor, the
// classifier, the history buffer and every observer of the notification bus.
// They are intentionally minimal: each package defines its own domain types,
// but cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Emotion is one of the closed set of emotional states the classifier can
// emit. The zero value is not a valid emotion.
type Emotion string

const (
	Anxiety     Emotion = "anxiety"
	Depression  Emotion = "depression"
	Anger       Emotion = "anger"
	Grief       Emotion = "grief"
	Stress      Emotion = "stress"
	Joy         Emotion = "joy"
	Calm        Emotion = "calm"
	Excitement  Emotion = "excitement"
	Fear        Emotion = "fear"
	Frustration Emotion = "frustration"
	Sadness     Emotion = "sadness"
	Neutral     Emotion = "neutral"
)

// Emotions returns every valid [Emotion] in declaration order.
func Emotions() []Emotion {
	return []Emotion{
		Anxiety, Depression, Anger, Grief, Stress, Joy,
		Calm, Excitement, Fear, Frustration, Sadness, Neutral,
	}
}

// IsValid reports whether e is a recognised emotion.
func (e Emotion) IsValid() bool {
	switch e {
	case Anxiety, Depression, Anger, Grief, Stress, Joy,
		Calm, Excitement, Fear, Frustration, Sadness, Neutral:
		return true
	}
	return false
}

// Valence places e on the pleasant/unpleasant axis in [-1, 1].
// Emotions without an established placement report 0.
func (e Emotion) Valence() float64 {
	switch e {
	case Joy:
		return 0.8
	case Excitement:
		return 0.6
	case Calm:
		return 0.3
	case Anxiety:
		return -0.4
	case Anger:
		return -0.5
	case Sadness:
		return -0.6
	case Fear:
		return -0.7
	case Depression:
		return -0.8
	default:
		return 0
	}
}

// Arousal places e on the activation axis in [0, 1].
// Emotions without an established placement report 0.4, the neutral level.
func (e Emotion) Arousal() float64 {
	switch e {
	case Excitement:
		return 0.9
	case Anger:
		return 0.8
	case Anxiety:
		return 0.7
	case Joy, Fear:
		return 0.6
	case Sadness:
		return 0.3
	case Depression:
		return 0.2
	case Calm:
		return 0.1
	default:
		return 0.4
	}
}

// BreathingPattern is a coarse categorisation of the breathing texture
// inferred from a single audio frame.
type BreathingPattern string

const (
	BreathingNormal    BreathingPattern = "normal"
	BreathingRapid     BreathingPattern = "rapid"
	BreathingShallow   BreathingPattern = "shallow"
	BreathingIrregular BreathingPattern = "irregular"
)

// IsValid reports whether b is a recognised breathing pattern.
func (b BreathingPattern) IsValid() bool {
	switch b {
	case BreathingNormal, BreathingRapid, BreathingShallow, BreathingIrregular:
		return true
	}
	return false
}

// Features is the acoustic summary of one audio frame.
type Features struct {
	// Pitch is the dominant frequency in Hz, clamped to [80, 400].
	Pitch float64 `json:"pitch"`

	// Volume is the RMS amplitude of the centred waveform in [0, 1].
	Volume float64 `json:"volume"`

	// SpeechRate is the zero-crossing density of the waveform in [0, 1].
	SpeechRate float64 `json:"speechRate"`

	// VoiceStress combines high-frequency energy and amplitude variation, in [0, 1].
	VoiceStress float64 `json:"voiceStress"`

	// PauseFrequency counts entries into near-silence per 1000 samples.
	// It is non-negative and unbounded above.
	PauseFrequency float64 `json:"pauseFrequency"`

	// TonalVariability is the mean absolute step between adjacent
	// frequency bins, normalised to [0, 1].
	TonalVariability float64 `json:"tonalVariability"`

	// Breathing is the inferred breathing pattern.
	Breathing BreathingPattern `json:"breathingPattern"`
}

// Sample is one classified observation produced by a single analysis tick.
// Samples are immutable once created; observers receive them by value.
type Sample struct {
	// Timestamp is the wall-clock time the tick completed.
	Timestamp time.Time `json:"timestamp"`

	// Emotion is the classified emotional state.
	Emotion Emotion `json:"emotion"`

	// Confidence is the classification confidence in [0.3, 1].
	Confidence float64 `json:"confidence"`

	Features
}
