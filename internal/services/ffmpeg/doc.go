// Package ffmpeg mediates access to the ffmpeg CLI used for audio decoding.
//
// Alignment needs raw mono PCM from each downloaded audio track; this package
// normalizes the decode invocation (sample format, channel layout, resample
// rate) and exposes a testable interface so the pipeline can run against
// synthetic decoders in tests.
package ffmpeg
