// Package fingerprint reduces decoded mono PCM audio to a compact sequence
// of per-frame spectral hashes. Each 32-bit frame summarizes the energy
// movement across adjacent log-spaced frequency bands between consecutive
// analysis windows, the classic band-energy-difference construction. The
// transform is a pure function: identical samples always produce identical
// frames, so extraction is safe to run in parallel per track.
package fingerprint
