package fingerprint

import "math"

// fft computes an in-place iterative radix-2 transform over the complex
// signal held as separate real/imaginary slices. len(re) must be a power of
// two and equal to len(im).
func fft(re, im []float64) {
	n := len(re)
	if n < 2 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wRe, wIm := math.Cos(angle), math.Sin(angle)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				evenRe, evenIm := re[start+k], im[start+k]
				oddRe := re[start+k+half]*curRe - im[start+k+half]*curIm
				oddIm := re[start+k+half]*curIm + im[start+k+half]*curRe
				re[start+k], im[start+k] = evenRe+oddRe, evenIm+oddIm
				re[start+k+half], im[start+k+half] = evenRe-oddRe, evenIm-oddIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}

// hannWindow returns the n-point Hann window coefficients.
func hannWindow(n int) []float64 {
	window := make([]float64, n)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return window
}
