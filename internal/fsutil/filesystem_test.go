package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_CreateAndRead(t *testing.T) {
	osfs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "20261017_0", "210405")

	if err := osfs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	name := filepath.Join(dir, "acquire.log")
	w, err := osfs.Create(name)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("started")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !osfs.Exists(name) {
		t.Error("expected file to exist")
	}
	data, err := osfs.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "started" {
		t.Errorf("got %q", data)
	}
	if osfs.Exists(filepath.Join(dir, "missing.fits")) {
		t.Error("expected missing file to not exist")
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/obs/acquire_test", 0o755); err != nil {
		t.Fatal(err)
	}

	w, err := mfs.Create("/obs/acquire_test/a.fits")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("SIMPLE"))

	if data, _ := mfs.ReadFile("/obs/acquire_test/a.fits"); len(data) != 0 {
		t.Errorf("contents visible before Close: %q", data)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := mfs.ReadFile("/obs/acquire_test/a.fits")
	if err != nil || string(data) != "SIMPLE" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}

	if !mfs.Exists("/obs") {
		t.Error("parent directory should exist after MkdirAll")
	}
	if got := mfs.Files("/obs/acquire_test"); len(got) != 1 || got[0] != "/obs/acquire_test/a.fits" {
		t.Errorf("Files() = %v", got)
	}
}

func TestMemoryFileSystem_CreateRequiresDirectory(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_, err := mfs.Create("/nowhere/a.fits")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_FailCreate(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.MkdirAll("/obs", 0o755)
	boom := errors.New("disk full")
	mfs.FailCreate = boom

	if _, err := mfs.Create("/obs/a.fits"); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
}
