package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/mindscope/pkg/types"
)

func TestEmotions_AllValid(t *testing.T) {
	t.Parallel()

	all := types.Emotions()
	if len(all) != 12 {
		t.Fatalf("Emotions(): got %d values, want 12", len(all))
	}
	seen := make(map[types.Emotion]bool, len(all))
	for _, e := range all {
		if !e.IsValid() {
			t.Errorf("%q.IsValid() = false", e)
		}
		if seen[e] {
			t.Errorf("duplicate emotion %q", e)
		}
		seen[e] = true
	}
	if types.Emotion("boredom").IsValid() {
		t.Error(`"boredom" must not be a valid emotion`)
	}
	if types.Emotion("").IsValid() {
		t.Error("zero value must not be a valid emotion")
	}
}

func TestEmotion_ValenceArousal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		emotion types.Emotion
		valence float64
		arousal float64
	}{
		{types.Joy, 0.8, 0.6},
		{types.Excitement, 0.6, 0.9},
		{types.Calm, 0.3, 0.1},
		{types.Neutral, 0, 0.4},
		{types.Anxiety, -0.4, 0.7},
		{types.Anger, -0.5, 0.8},
		{types.Sadness, -0.6, 0.3},
		{types.Fear, -0.7, 0.6},
		{types.Depression, -0.8, 0.2},
		{types.Grief, 0, 0.4},
		{types.Stress, 0, 0.4},
		{types.Frustration, 0, 0.4},
	}

	for _, tt := range tests {
		t.Run(string(tt.emotion), func(t *testing.T) {
			t.Parallel()
			if got := tt.emotion.Valence(); got != tt.valence {
				t.Errorf("Valence() = %v, want %v", got, tt.valence)
			}
			if got := tt.emotion.Arousal(); got != tt.arousal {
				t.Errorf("Arousal() = %v, want %v", got, tt.arousal)
			}
		})
	}
}

func TestBreathingPattern_IsValid(t *testing.T) {
	t.Parallel()

	for _, b := range []types.BreathingPattern{
		types.BreathingNormal, types.BreathingRapid, types.BreathingShallow, types.BreathingIrregular,
	} {
		if !b.IsValid() {
			t.Errorf("%q.IsValid() = false", b)
		}
	}
	if types.BreathingPattern("gasping").IsValid() {
		t.Error(`"gasping" must not be valid`)
	}
}

func TestSample_JSONFieldNames(t *testing.T) {
	t.Parallel()

	s := types.Sample{
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Emotion:    types.Calm,
		Confidence: 0.75,
		Features: types.Features{
			Pitch:     120,
			Breathing: types.BreathingNormal,
		},
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{
		"timestamp", "emotion", "confidence", "pitch", "volume", "speechRate",
		"voiceStress", "pauseFrequency", "tonalVariability", "breathingPattern",
	} {
		if _, ok := fields[key]; !ok {
			t.Errorf("JSON is missing field %q: %s", key, data)
		}
	}
	if fields["breathingPattern"] != "normal" {
		t.Errorf("breathingPattern: got %v, want normal", fields["breathingPattern"])
	}
}
