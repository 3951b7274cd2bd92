package capture

// levelBuckets is the number of amplitude samples produced per
// visualization tick.
const levelBuckets = 32

// reduceBins averages contiguous spectrum bins into levelBuckets amplitude
// samples normalized to [0,1]. The spectrum is whatever the device analyser
// produced; an empty spectrum yields a flat frame.
func reduceBins(spectrum []byte, buckets int) []float64 {
	out := make([]float64, buckets)
	if len(spectrum) == 0 {
		return out
	}

	per := len(spectrum) / buckets
	if per < 1 {
		per = 1
	}

	for i := 0; i < buckets; i++ {
		start := i * per
		if start >= len(spectrum) {
			break
		}
		end := start + per
		if end > len(spectrum) {
			end = len(spectrum)
		}
		sum := 0
		for _, v := range spectrum[start:end] {
			sum += int(v)
		}
		out[i] = float64(sum) / float64(end-start) / 255.0
	}
	return out
}
