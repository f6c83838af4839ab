package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"trackweave/internal/services"
	"trackweave/internal/session"
	"trackweave/internal/testsupport"
)

func TestAcquireCreatesStagingLayout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	manager := session.NewManager(cfg, nil)

	sess, err := manager.Acquire(filepath.Join(cfg.Paths.OutputDir, "show.mkv"), false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer sess.Close(false)

	if sess.ID == "" {
		t.Fatal("session id should be minted")
	}
	if sess.Resumed {
		t.Fatal("fresh session should not report resumed")
	}
	if _, err := os.Stat(sess.Dir()); err != nil {
		t.Fatalf("staging dir missing: %v", err)
	}
	if sess.Store() == nil {
		t.Fatal("bookkeeping store should be open")
	}
}

func TestSecondAcquireFailsFast(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	target := filepath.Join(cfg.Paths.OutputDir, "show.mkv")

	first, err := session.NewManager(cfg, nil).Acquire(target, false)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Close(false)

	_, err = session.NewManager(cfg, nil).Acquire(target, false)
	if !errors.Is(err, services.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestDistinctTargetsDoNotContend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	manager := session.NewManager(cfg, nil)

	a, err := manager.Acquire(filepath.Join(cfg.Paths.OutputDir, "a.mkv"), false)
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer a.Close(false)

	b, err := manager.Acquire(filepath.Join(cfg.Paths.OutputDir, "b.mkv"), false)
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	defer b.Close(false)

	if a.Dir() == b.Dir() {
		t.Fatal("different targets must stage separately")
	}
}

func TestClosePreserveKeepsStateAndAllowsResume(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	target := filepath.Join(cfg.Paths.OutputDir, "show.mkv")
	manager := session.NewManager(cfg, nil)

	first, err := manager.Acquire(target, false)
	if err != nil {
		t.Fatal(err)
	}
	firstID := first.ID
	if err := first.RecordVariants([]string{"audio-ja", "sub-en"}); err != nil {
		t.Fatalf("RecordVariants: %v", err)
	}
	chunkDir := first.VariantDir("audio-ja")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(true); err != nil {
		t.Fatalf("Close(preserve): %v", err)
	}

	if _, err := os.Stat(chunkDir); err != nil {
		t.Fatalf("preserved chunk dir missing: %v", err)
	}

	resumed, err := manager.Acquire(target, true)
	if err != nil {
		t.Fatalf("resume Acquire: %v", err)
	}
	defer resumed.Close(false)
	if !resumed.Resumed {
		t.Fatal("expected resumed session")
	}
	if resumed.ID != firstID {
		t.Fatalf("resumed id = %s, want %s", resumed.ID, firstID)
	}
}

func TestCloseWithoutPreserveCleansUp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	target := filepath.Join(cfg.Paths.OutputDir, "show.mkv")
	manager := session.NewManager(cfg, nil)

	sess, err := manager.Acquire(target, false)
	if err != nil {
		t.Fatal(err)
	}
	dir := sess.Dir()
	if err := sess.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staging dir should be removed, stat err=%v", err)
	}

	// A later acquisition with resume requested starts fresh.
	again, err := manager.Acquire(target, true)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close(false)
	if again.Resumed {
		t.Fatal("cleaned session should not resume")
	}
}
