package audio

import "math"

// Levels summarises the amplitude of frame into bands equal-width slices of
// the (mono-mixed) sample sequence. Each value is the RMS amplitude of its
// slice normalised to [0, 1]. It returns nil when bands is not positive or
// the frame holds no complete sample.
func Levels(frame Frame, bands int) []float64 {
	if bands <= 0 {
		return nil
	}
	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	if bands > n {
		bands = n
	}

	out := make([]float64, bands)
	for b := range bands {
		lo := b * n / bands
		hi := (b + 1) * n / bands
		var sum float64
		for i := lo; i < hi; i++ {
			s := float64(sample(pcm, i)) / 32768
			sum += s * s
		}
		out[b] = math.Min(1, math.Sqrt(sum/float64(hi-lo)))
	}
	return out
}

// Peak returns the largest absolute sample of frame normalised to [0, 1].
func Peak(frame Frame) float64 {
	var peak int32
	for i := range len(frame.Data) / 2 {
		s := int32(sample(frame.Data, i))
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	return math.Min(1, float64(peak)/32768)
}

func sample(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}
