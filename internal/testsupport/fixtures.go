package testsupport

import (
	"math"
	"math/rand"
	"testing"

	"trackweave/internal/catalog"
	"trackweave/internal/fetch"
)

// TestKey is the AES-128 key fixtures encrypt with.
var TestKey = catalog.DecryptionKey{
	0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
	0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF,
}

// SegmentPayload produces deterministic cleartext for one segment.
func SegmentPayload(variantID string, index, size int) []byte {
	rng := rand.New(rand.NewSource(int64(index) + int64(len(variantID))*1_000_003))
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(rng.Intn(256))
	}
	return out
}

// EncryptSegment wraps fetch.EncryptSegment for fixture servers.
func EncryptSegment(t testing.TB, plain []byte, segment catalog.SegmentRef) []byte {
	t.Helper()
	data, err := fetch.EncryptSegment(plain, TestKey, segment)
	if err != nil {
		t.Fatalf("encrypt fixture segment %d: %v", segment.Index, err)
	}
	return data
}

// ToneSamples renders seconds of wandering-tone mono PCM, optionally
// prefixed with silence, for alignment fixtures. The same seed always
// yields the same samples.
func ToneSamples(seconds float64, sampleRate int, leadSilence float64, seed int64) []int16 {
	rng := rand.New(rand.NewSource(seed))
	lead := int(leadSilence * float64(sampleRate))
	total := lead + int(seconds*float64(sampleRate))
	samples := make([]int16, total)
	freq := 440.0
	phase := 0.0
	for i := lead; i < total; i++ {
		if (i-lead)%(sampleRate/4) == 0 {
			freq = 320 + rng.Float64()*1200
		}
		phase += 2 * math.Pi * freq / float64(sampleRate)
		samples[i] = int16(math.Sin(phase) * math.MaxInt16 * 0.7)
	}
	return samples
}

// PCMBytes converts samples to little-endian s16le, the external decoder's
// output format.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(uint16(s))
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
