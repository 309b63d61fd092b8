package audio

// Downmix averages interleaved multi-channel float samples into mono.
// A channel count of 1 (or less) returns the input unchanged.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
