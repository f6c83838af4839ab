package segstore_test

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"

	"trackweave/internal/segstore"
)

func segmentPayload(index int) []byte {
	return bytes.Repeat([]byte{byte(index + 1)}, 64+index)
}

func TestWriteOutOfOrderAssemblesInIndexOrder(t *testing.T) {
	const count = 20
	store, err := segstore.Open(t.TempDir(), count)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	order := rand.New(rand.NewSource(42)).Perm(count)
	var wg sync.WaitGroup
	for _, index := range order {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Write(i, segmentPayload(i)); err != nil {
				t.Errorf("Write(%d): %v", i, err)
			}
		}(index)
	}
	wg.Wait()

	if !store.Complete() {
		t.Fatalf("store should be complete, missing %v", store.Missing())
	}

	got, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var want bytes.Buffer
	for i := 0; i < count; i++ {
		want.Write(segmentPayload(i))
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatal("assembled bytes differ from strict-order write")
	}
}

func TestWriteIdempotentForIdenticalRedelivery(t *testing.T) {
	store, err := segstore.Open(t.TempDir(), 3)
	if err != nil {
		t.Fatal(err)
	}
	payload := segmentPayload(1)
	if err := store.Write(1, payload); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := store.Write(1, payload); err != nil {
		t.Fatalf("identical re-delivery should be a no-op: %v", err)
	}
	if store.Written() != 1 {
		t.Fatalf("written = %d, want 1", store.Written())
	}
}

func TestWriteConflictingContentFails(t *testing.T) {
	store, err := segstore.Open(t.TempDir(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(0, []byte("aaaa")); err != nil {
		t.Fatal(err)
	}
	err = store.Write(0, []byte("aaaaaaaa"))
	if !errors.Is(err, segstore.ErrDuplicateSegment) {
		t.Fatalf("expected ErrDuplicateSegment, got %v", err)
	}
}

func TestWriteRejectsEmptyAndOutOfRange(t *testing.T) {
	store, err := segstore.Open(t.TempDir(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(0, nil); err == nil {
		t.Fatal("empty segment should be rejected")
	}
	if err := store.Write(2, []byte("x")); err == nil {
		t.Fatal("out-of-range index should be rejected")
	}
	if err := store.Write(-1, []byte("x")); err == nil {
		t.Fatal("negative index should be rejected")
	}
}

func TestReadAllIncompleteReportsMissing(t *testing.T) {
	store, err := segstore.Open(t.TempDir(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(1, segmentPayload(1)); err != nil {
		t.Fatal(err)
	}
	_, err = store.ReadAll()
	var incomplete *segstore.IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if want := []int{0, 2, 3}; fmt.Sprint(incomplete.Missing) != fmt.Sprint(want) {
		t.Fatalf("missing = %v, want %v", incomplete.Missing, want)
	}
}

func TestReopenResumesPartialState(t *testing.T) {
	dir := t.TempDir()
	const count = 10
	store, err := segstore.Open(dir, count)
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{0, 3, 4, 9} {
		if err := store.Write(i, segmentPayload(i)); err != nil {
			t.Fatal(err)
		}
	}

	reopened, err := segstore.Reopen(dir, count)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if want := []int{1, 2, 5, 6, 7, 8}; fmt.Sprint(reopened.Missing()) != fmt.Sprint(want) {
		t.Fatalf("missing after reopen = %v, want %v", reopened.Missing(), want)
	}

	for _, i := range reopened.Missing() {
		if err := reopened.Write(i, segmentPayload(i)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := reopened.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll after resume: %v", err)
	}

	fresh, err := segstore.Open(t.TempDir(), count)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < count; i++ {
		if err := fresh.Write(i, segmentPayload(i)); err != nil {
			t.Fatal(err)
		}
	}
	want, err := fresh.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("resumed assembly differs from uninterrupted run")
	}
}

func TestAssembleWritesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := segstore.Open(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Write(i, segmentPayload(i)); err != nil {
			t.Fatal(err)
		}
	}
	out := dir + "/track.bin"
	if err := store.Assemble(out); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want, _ := store.ReadAll()
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("assembled file differs from ReadAll")
	}
}
