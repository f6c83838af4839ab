package segstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrDuplicateSegment reports a write to an index that already holds
// different content.
var ErrDuplicateSegment = errors.New("duplicate segment with different content")

// IncompleteError reports an assembly attempt on a store that is still
// missing segments.
type IncompleteError struct {
	Missing []int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("segment store incomplete: %d segments missing", len(e.Missing))
}

const (
	chunkPrefix = "seg_"
	chunkSuffix = ".bin"
)

// Store owns the decrypted segment bytes of one variant. Segment indices may
// be written in any order by concurrent workers; assembly always yields
// index order. A Store is safe for concurrent writes.
type Store struct {
	dir   string
	count int

	mu      sync.Mutex
	sizes   []int64 // 0 = not written
	written int
}

// Open creates a fresh store rooted at dir for count segments. The directory
// is created if needed; any chunk files already present are ignored (use
// Reopen to resume).
func Open(dir string, count int) (*Store, error) {
	if count <= 0 {
		return nil, fmt.Errorf("segment store: count must be positive, got %d", count)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment store: create %q: %w", dir, err)
	}
	return &Store{dir: dir, count: count, sizes: make([]int64, count)}, nil
}

// Reopen rebuilds a store's completion state by scanning existing chunk
// files under dir. It is the single entry point for resume-from-disk
// introspection; callers always receive a fully consistent store.
func Reopen(dir string, count int) (*Store, error) {
	store, err := Open(dir, count)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("segment store: scan %q: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		index, ok := parseChunkName(entry.Name())
		if !ok || index >= count {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("segment store: stat %q: %w", entry.Name(), err)
		}
		if info.Size() == 0 {
			// A zero-byte chunk is a crashed write; drop it so the
			// segment is fetched again.
			_ = os.Remove(filepath.Join(dir, entry.Name()))
			continue
		}
		if store.sizes[index] == 0 {
			store.sizes[index] = info.Size()
			store.written++
		}
	}
	return store, nil
}

// Dir returns the chunk directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Count returns the expected segment count.
func (s *Store) Count() int { return s.count }

// Write persists decrypted bytes for index. Identical re-delivery of an
// already-written index is a no-op so fetch retries stay safe; differing
// content fails with ErrDuplicateSegment. The chunk lands atomically via a
// temp file rename, so a crash never leaves a torn segment behind.
func (s *Store) Write(index int, data []byte) error {
	if index < 0 || index >= s.count {
		return fmt.Errorf("segment store: index %d out of range [0,%d)", index, s.count)
	}
	if len(data) == 0 {
		return fmt.Errorf("segment store: refusing empty segment %d", index)
	}

	s.mu.Lock()
	existing := s.sizes[index]
	s.mu.Unlock()
	if existing != 0 {
		if existing == int64(len(data)) {
			return nil
		}
		return fmt.Errorf("segment %d: %w: have %d bytes, got %d", index, ErrDuplicateSegment, existing, len(data))
	}

	final := filepath.Join(s.dir, chunkName(index))
	tmp, err := os.CreateTemp(s.dir, chunkName(index)+".tmp*")
	if err != nil {
		return fmt.Errorf("segment %d: create temp: %w", index, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("segment %d: write: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("segment %d: close: %w", index, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("segment %d: rename: %w", index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sizes[index] == 0 {
		s.sizes[index] = int64(len(data))
		s.written++
	}
	return nil
}

// Has reports whether index has been written.
func (s *Store) Has(index int) bool {
	if index < 0 || index >= s.count {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizes[index] != 0
}

// Complete reports whether every index in [0,count) has nonzero bytes.
func (s *Store) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written == s.count
}

// Written returns the number of stored segments.
func (s *Store) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Missing returns the sorted indices still awaiting bytes.
func (s *Store) Missing() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	missing := make([]int, 0, s.count-s.written)
	for i, size := range s.sizes {
		if size == 0 {
			missing = append(missing, i)
		}
	}
	return missing
}

// WriteTo streams the full track in segment-index order. It fails with an
// IncompleteError while any segment is missing.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	if missing := s.Missing(); len(missing) > 0 {
		return 0, &IncompleteError{Missing: missing}
	}
	var total int64
	for i := 0; i < s.count; i++ {
		n, err := s.copyChunk(i, w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadAll returns the assembled byte stream. Prefer WriteTo for large tracks.
func (s *Store) ReadAll() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Assemble writes the completed track to path via temp-file rename.
func (s *Store) Assemble(path string) error {
	if missing := s.Missing(); len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("assemble: create temp: %w", err)
	}
	if _, err := s.WriteTo(tmp); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("assemble: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("assemble: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("assemble: rename: %w", err)
	}
	return nil
}

// Remove deletes the chunk directory. Used when a session cleans up.
func (s *Store) Remove() error {
	return os.RemoveAll(s.dir)
}

func (s *Store) copyChunk(index int, w io.Writer) (int64, error) {
	f, err := os.Open(filepath.Join(s.dir, chunkName(index)))
	if err != nil {
		return 0, fmt.Errorf("segment %d: open chunk: %w", index, err)
	}
	defer f.Close()
	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("segment %d: read chunk: %w", index, err)
	}
	return n, nil
}

func chunkName(index int) string {
	return fmt.Sprintf("%s%06d%s", chunkPrefix, index, chunkSuffix)
}

func parseChunkName(name string) (int, bool) {
	if !strings.HasPrefix(name, chunkPrefix) || !strings.HasSuffix(name, chunkSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, chunkPrefix), chunkSuffix)
	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}
