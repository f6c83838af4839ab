// Package pipeline drives a complete acquisition run: resolving an episode
// into variants, downloading and decrypting every segment, aligning secondary
// audio against the reference track by acoustic fingerprint, and muxing the
// synchronized tracks into one container.
//
// The pipeline owns sequencing and status bookkeeping only; segment fetching
// lives in fetch/coordinator, analysis in fingerprint/align, and external
// tools behind the services clients, all injected so tests can run the whole
// flow against synthetic media.
package pipeline
