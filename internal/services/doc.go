// Package services carries the error taxonomy and context annotations shared
// by every pipeline component. Sentinels wrap failures with a classification
// the session boundary uses to decide between retry, per-track isolation,
// and session abort; nothing below that boundary logs-and-swallows.
package services
