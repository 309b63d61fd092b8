// Package classify maps acoustic [types.Features] onto an [types.Emotion]
// using an ordered table of threshold rules, and scores how strongly the
// features deviate from a neutral baseline.
//
// The rules are evaluated top to bottom and the first match wins, so the
// order of [Rules] is part of the classifier's contract. When no rule
// matches, the classifier answers [types.Neutral].
package classify

import (
	"math"

	"github.com/MrWong99/mindscope/pkg/types"
)

const (
	// MinConfidence and MaxConfidence bound every confidence score.
	MinConfidence = 0.3
	MaxConfidence = 1.0

	// baselinePitch is the pitch in Hz treated as emotionally neutral.
	baselinePitch = 150.0
)

// Rule is one row of the classification table. Match reports whether the
// rule applies; Label picks the emotion once it does. Splitting the two lets
// a single acoustic profile branch into sibling emotions.
type Rule struct {
	// Name identifies the rule in logs and tests.
	Name string

	// Match reports whether the rule applies to f.
	Match func(f types.Features) bool

	// Label returns the emotion for features the rule matched.
	Label func(f types.Features) types.Emotion
}

// Result is the outcome of [Classify].
type Result struct {
	Emotion    types.Emotion
	Confidence float64

	// Rule is the name of the rule that matched, or "default" when none did.
	Rule string
}

// DefaultRule is the rule name reported when nothing in the table matches.
const DefaultRule = "default"

var rules = []Rule{
	{
		Name: "agitation",
		Match: func(f types.Features) bool {
			return f.VoiceStress > 0.7 && f.Pitch > 200 && f.SpeechRate > 0.6
		},
		Label: func(f types.Features) types.Emotion {
			if f.PauseFrequency > 0.5 {
				return types.Anxiety
			}
			return types.Anger
		},
	},
	{
		Name: "withdrawal",
		Match: func(f types.Features) bool {
			return f.Volume < 0.2 && f.Pitch < 120 && f.SpeechRate < 0.3
		},
		Label: func(f types.Features) types.Emotion {
			if f.PauseFrequency > 0.4 {
				return types.Depression
			}
			return types.Sadness
		},
	},
	{
		Name: "tension",
		Match: func(f types.Features) bool {
			return f.VoiceStress > 0.6 && f.TonalVariability > 0.6
		},
		Label: func(f types.Features) types.Emotion {
			if f.Breathing == types.BreathingRapid {
				return types.Stress
			}
			return types.Frustration
		},
	},
	{
		Name: "elation",
		Match: func(f types.Features) bool {
			return f.Pitch > 250 && f.Volume > 0.6 && f.SpeechRate > 0.5
		},
		Label: constant(types.Excitement),
	},
	{
		Name: "alarm",
		Match: func(f types.Features) bool {
			return f.VoiceStress > 0.5 && f.Breathing == types.BreathingIrregular
		},
		Label: constant(types.Fear),
	},
	{
		Name: "warmth",
		Match: func(f types.Features) bool {
			return f.Volume > 0.5 && f.TonalVariability > 0.4 && f.VoiceStress < 0.3
		},
		Label: constant(types.Joy),
	},
	{
		Name: "ease",
		Match: func(f types.Features) bool {
			return f.VoiceStress < 0.3 && f.PauseFrequency < 0.3 && f.Breathing == types.BreathingNormal
		},
		Label: constant(types.Calm),
	},
}

func constant(e types.Emotion) func(types.Features) types.Emotion {
	return func(types.Features) types.Emotion { return e }
}

// Rules returns a copy of the classification table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Emotion applies the rule table to f and returns the first matching label,
// together with the name of the rule that produced it.
func Emotion(f types.Features) (types.Emotion, string) {
	for _, r := range rules {
		if r.Match(f) {
			return r.Label(f), r.Name
		}
	}
	return types.Neutral, DefaultRule
}

// Confidence is the mean of five indicators (the normalised pitch deviation
// from the baseline, volume, speech rate, voice stress and tonal
// variability) clamped to [MinConfidence, MaxConfidence]. It does not depend
// on the emotion picked.
func Confidence(f types.Features) float64 {
	indicators := [...]float64{
		math.Abs(f.Pitch-baselinePitch) / baselinePitch,
		f.Volume,
		f.SpeechRate,
		f.VoiceStress,
		f.TonalVariability,
	}
	var sum float64
	for _, v := range indicators {
		sum += v
	}
	mean := sum / float64(len(indicators))
	return math.Max(MinConfidence, math.Min(MaxConfidence, mean))
}

// Classify returns the emotion and confidence for f. It is pure and never
// fails.
func Classify(f types.Features) Result {
	e, rule := Emotion(f)
	return Result{
		Emotion:    e,
		Confidence: Confidence(f),
		Rule:       rule,
	}
}
