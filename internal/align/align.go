package align

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"trackweave/internal/fingerprint"
)

// Result reports the estimated offset of a target track relative to the
// reference. A positive offset means the common content occurs later in the
// target (the target carries extra leading material), so the muxer must
// advance the target by that amount.
type Result struct {
	OffsetFrames  int
	Offset        time.Duration
	Confidence    float64
	MatchedFrames int
	OverlapFrames int
}

func (r Result) String() string {
	return fmt.Sprintf("offset=%v confidence=%.2f matched=%d/%d",
		r.Offset, r.Confidence, r.MatchedFrames, r.OverlapFrames)
}

// Config tunes the correlation search.
type Config struct {
	// MaxOffset bounds the candidate search in either direction.
	MaxOffset time.Duration
	// SimilarityBits is the per-frame Hamming distance at or under which
	// two frames count as matching.
	SimilarityBits int
	// MinOverlapFrames is the smallest usable overlap; below it the result
	// reports zero confidence instead of a confident wrong answer.
	MinOverlapFrames int
}

// DefaultConfig mirrors the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		MaxOffset:        2 * time.Minute,
		SimilarityBits:   10,
		MinOverlapFrames: 32,
	}
}

func (c Config) normalized() Config {
	if c.MaxOffset <= 0 {
		c.MaxOffset = 2 * time.Minute
	}
	if c.SimilarityBits <= 0 {
		c.SimilarityBits = 10
	}
	if c.MinOverlapFrames <= 0 {
		c.MinOverlapFrames = 32
	}
	return c
}

// Engine performs pairwise offset estimation between fingerprint sequences.
type Engine struct {
	cfg Config
}

// New constructs an engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.normalized()}
}

// Align slides target across reference and returns the best-agreeing
// offset. Both sequences must share frame geometry. The search is
// deterministic; ties between equally good offsets resolve toward zero,
// since a large spurious shift is more likely noise than signal.
func (e *Engine) Align(reference, target fingerprint.Sequence) (Result, error) {
	if reference.SampleRate != target.SampleRate || reference.FrameDuration != target.FrameDuration {
		return Result{}, fmt.Errorf("align: frame geometry mismatch (%d Hz/%v vs %d Hz/%v)",
			reference.SampleRate, reference.FrameDuration, target.SampleRate, target.FrameDuration)
	}
	if reference.FrameDuration <= 0 {
		return Result{}, fmt.Errorf("align: zero frame duration")
	}

	maxShift := int(e.cfg.MaxOffset / reference.FrameDuration)
	if maxShift < 1 {
		maxShift = 1
	}

	best := Result{}
	bestScore := math.Inf(1)
	found := false

	for shift := -maxShift; shift <= maxShift; shift++ {
		overlap, matched, total := e.correlate(reference.Frames, target.Frames, shift)
		if overlap < e.cfg.MinOverlapFrames {
			continue
		}
		score := float64(total) / float64(overlap)
		better := score < bestScore
		if !better && score == bestScore && found {
			better = abs(shift) < abs(best.OffsetFrames)
		}
		if better || !found {
			found = true
			bestScore = score
			best = Result{
				OffsetFrames:  shift,
				Offset:        time.Duration(shift) * reference.FrameDuration,
				Confidence:    float64(matched) / float64(overlap),
				MatchedFrames: matched,
				OverlapFrames: overlap,
			}
		}
	}

	if !found {
		// Too little overlap anywhere in the window: report an unusable
		// alignment rather than guessing.
		return Result{}, nil
	}
	return best, nil
}

// correlate scores one candidate shift. For shift k, reference frame i is
// compared against target frame i+k.
func (e *Engine) correlate(reference, target []uint32, shift int) (overlap, matched, totalDistance int) {
	start := 0
	if shift < 0 {
		start = -shift
	}
	end := len(reference)
	if limit := len(target) - shift; limit < end {
		end = limit
	}
	for i := start; i < end; i++ {
		distance := bits.OnesCount32(reference[i] ^ target[i+shift])
		totalDistance += distance
		overlap++
		if distance <= e.cfg.SimilarityBits {
			matched++
		}
	}
	return overlap, matched, totalDistance
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
