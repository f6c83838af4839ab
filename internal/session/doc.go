// Package session owns the lifecycle of one acquisition target: an
// exclusive advisory lock on the target's marker file, the staging
// directory holding per-variant segment stores, and a small SQLite
// bookkeeping database used for resume and status reporting. Two processes
// can never hold the same target; the second acquirer fails fast instead of
// corrupting shared temp state.
package session
