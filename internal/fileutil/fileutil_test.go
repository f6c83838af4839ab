package fileutil_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"trackweave/internal/fileutil"
)

func TestCopyFilePreservesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	payload := bytes.Repeat([]byte("abc"), 1000)
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := fileutil.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("copied content differs")
	}
}

func TestMoveFileCreatesDestinationDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "nested", "deep", "dst.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := fileutil.MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source should be gone, stat err=%v", err)
	}
	if err := fileutil.NonZeroFile(dst); err != nil {
		t.Fatalf("destination invalid: %v", err)
	}
}

func TestNonZeroFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fileutil.NonZeroFile(empty); err == nil {
		t.Fatal("empty file should fail")
	}
	if err := fileutil.NonZeroFile(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("missing file should fail")
	}
	if err := fileutil.NonZeroFile(dir); err == nil {
		t.Fatal("directory should fail")
	}
}
