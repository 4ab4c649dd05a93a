package rootrc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquire_CreatesAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".rootrc")

	g, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !g.Created() {
		t.Fatal("expected guard to own the file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != Contents {
		t.Errorf("contents = %q, want %q", data, Contents)
	}

	if err := g.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s removed, stat err = %v", path, err)
	}
	// Second release is a no-op.
	if err := g.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestAcquire_PreservesUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".rootrc")
	const user = "Unix.*.Root.MacroPath: .:~/macros\n"
	if err := os.WriteFile(path, []byte(user), 0644); err != nil {
		t.Fatal(err)
	}

	g, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if g.Created() {
		t.Fatal("guard must not claim a pre-existing file")
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("user file gone: %v", err)
	}
	if string(data) != user {
		t.Errorf("user file modified: %q", data)
	}
}

func TestRelease_FileAlreadyGone(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".rootrc")
	g, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(path)
	if err := g.Release(); err != nil {
		t.Errorf("Release after external removal: %v", err)
	}
}

func TestAcquire_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", ".rootrc")
	if _, err := Acquire(path); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
