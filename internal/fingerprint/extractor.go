package fingerprint

import (
	"fmt"
	"math"
	"time"
)

// Sequence is an ordered run of fixed-width hash frames, each covering
// FrameDuration of audio at SampleRate. Derived data: recomputable from the
// source samples, never mutated after creation.
type Sequence struct {
	SampleRate    int
	FrameDuration time.Duration
	Frames        []uint32
}

// Len returns the number of frames.
func (s Sequence) Len() int { return len(s.Frames) }

// Config tunes the spectral analysis. The zero value is unusable; use
// DefaultConfig and override selectively.
type Config struct {
	// WindowSize is the FFT length in samples; must be a power of two.
	WindowSize int
	// HopSize is the stride between frames in samples. The default yields
	// eight frames per second.
	HopSize int
	// Bands is the number of log-spaced energy bands; the hash carries
	// Bands-1 bits, so it must not exceed 33.
	Bands int
	// MinFreq/MaxFreq bound the analyzed spectrum in Hz.
	MinFreq float64
	MaxFreq float64
}

// DefaultConfig returns the analysis parameters for the given sample rate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		WindowSize: 2048,
		HopSize:    sampleRate / 8,
		Bands:      33,
		MinFreq:    300,
		MaxFreq:    2000,
	}
}

func (c Config) validate(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("fingerprint: sample rate %d", sampleRate)
	}
	if c.WindowSize < 2 || c.WindowSize&(c.WindowSize-1) != 0 {
		return fmt.Errorf("fingerprint: window size %d must be a power of two", c.WindowSize)
	}
	if c.HopSize <= 0 {
		return fmt.Errorf("fingerprint: hop size %d", c.HopSize)
	}
	if c.Bands < 2 || c.Bands > 33 {
		return fmt.Errorf("fingerprint: band count %d out of range [2,33]", c.Bands)
	}
	if c.MinFreq <= 0 || c.MaxFreq <= c.MinFreq || c.MaxFreq > float64(sampleRate)/2 {
		return fmt.Errorf("fingerprint: band range %.0f-%.0f Hz invalid for %d Hz audio", c.MinFreq, c.MaxFreq, sampleRate)
	}
	return nil
}

// Extract fingerprints mono 16-bit samples with default parameters.
func Extract(samples []int16, sampleRate int) (Sequence, error) {
	return ExtractWithConfig(samples, sampleRate, DefaultConfig(sampleRate))
}

// ExtractWithConfig fingerprints mono 16-bit samples. Each output frame
// compares band energies of window i against window i-1, so N windows yield
// N-1 frames.
func ExtractWithConfig(samples []int16, sampleRate int, cfg Config) (Sequence, error) {
	if err := cfg.validate(sampleRate); err != nil {
		return Sequence{}, err
	}

	frameDuration := time.Duration(cfg.HopSize) * time.Second / time.Duration(sampleRate)
	seq := Sequence{SampleRate: sampleRate, FrameDuration: frameDuration}
	if len(samples) < cfg.WindowSize {
		return seq, nil
	}

	window := hannWindow(cfg.WindowSize)
	edges := bandEdges(cfg, sampleRate)
	windows := 1 + (len(samples)-cfg.WindowSize)/cfg.HopSize

	re := make([]float64, cfg.WindowSize)
	im := make([]float64, cfg.WindowSize)
	prev := make([]float64, cfg.Bands)
	cur := make([]float64, cfg.Bands)

	for w := 0; w < windows; w++ {
		offset := w * cfg.HopSize
		for i := 0; i < cfg.WindowSize; i++ {
			re[i] = float64(samples[offset+i]) / math.MaxInt16 * window[i]
			im[i] = 0
		}
		fft(re, im)
		bandEnergies(re, im, edges, cur)

		if w > 0 {
			seq.Frames = append(seq.Frames, hashFrame(prev, cur))
		}
		prev, cur = cur, prev
	}
	return seq, nil
}

// bandEdges maps each band to its FFT bin range on a log-frequency scale.
// Edges are forced strictly increasing so every band covers at least one bin.
func bandEdges(cfg Config, sampleRate int) []int {
	edges := make([]int, cfg.Bands+1)
	logMin := math.Log(cfg.MinFreq)
	logMax := math.Log(cfg.MaxFreq)
	maxBin := cfg.WindowSize / 2
	for i := range edges {
		freq := math.Exp(logMin + (logMax-logMin)*float64(i)/float64(cfg.Bands))
		bin := int(freq * float64(cfg.WindowSize) / float64(sampleRate))
		if bin > maxBin {
			bin = maxBin
		}
		if i > 0 && bin <= edges[i-1] {
			bin = edges[i-1] + 1
		}
		edges[i] = bin
	}
	return edges
}

func bandEnergies(re, im []float64, edges []int, out []float64) {
	for b := 0; b < len(out); b++ {
		var energy float64
		for bin := edges[b]; bin < edges[b+1]; bin++ {
			energy += re[bin]*re[bin] + im[bin]*im[bin]
		}
		out[b] = energy
	}
}

// hashFrame sets bit b when the inter-band energy gradient rose between
// consecutive windows.
func hashFrame(prev, cur []float64) uint32 {
	var hash uint32
	for b := 0; b < len(cur)-1; b++ {
		curDiff := cur[b] - cur[b+1]
		prevDiff := prev[b] - prev[b+1]
		if curDiff-prevDiff > 0 {
			hash |= 1 << uint(b)
		}
	}
	return hash
}
