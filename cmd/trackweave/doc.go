// Command trackweave downloads segmented streaming media, aligns audio
// tracks across regional releases, and muxes the result into one container.
package main
