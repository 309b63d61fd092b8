package audio

import "time"

// AudioFrame is one snapshot of the capture stream taken by the analyser.
// Frames are produced per analysis tick, consumed once and never retained.
//
// Both arrays have the same length (the analyser's bin count) and hold 8-bit
// unsigned magnitudes. Time-domain values are centred on 128, the silence
// midpoint.
type AudioFrame struct {
	// TimeDomain is the waveform of the analysis window.
	TimeDomain []byte

	// Frequency is the smoothed magnitude spectrum in decibels, scaled to [0, 255].
	Frequency []byte

	// SampleRate in Hz of the stream the frame was captured from.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Len returns the number of values in each frame array.
func (f AudioFrame) Len() int {
	return len(f.TimeDomain)
}
