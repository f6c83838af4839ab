// Package align estimates the time offset between two audio tracks of the
// same underlying content by cross-correlating their fingerprint sequences.
// The search slides one sequence across the other inside a bounded offset
// window and scores each candidate by mean Hamming distance; confidence is
// the fraction of overlapped frames that agree within the similarity
// threshold. A low-confidence result is information, not an error: the
// caller decides whether to trust it or fall back to zero offset.
package align
