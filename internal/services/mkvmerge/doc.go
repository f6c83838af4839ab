// Package mkvmerge mediates access to the mkvmerge CLI used for final muxing.
//
// It builds the track flags (language, name, default flag, sync delay) from a
// typed command description, distinguishes mkvmerge's warning exit status from
// hard failures, and verifies the container it produced before reporting
// success.
package mkvmerge
