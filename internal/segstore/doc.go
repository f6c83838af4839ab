// Package segstore implements the per-variant segment buffer backing an
// acquisition. Each decrypted segment persists as its own chunk file so an
// interrupted session can be reopened and resumed without refetching
// completed indices. Writes are atomic per segment; reads of the assembled
// stream are refused until every index is present.
package segstore
