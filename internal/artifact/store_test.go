package artifact

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutOpenDelete(t *testing.T) {
	s := newStore(t)
	ref, err := s.Put("job-1", strings.NewReader("mp4 bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, size, err := s.Open(ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(b) != "mp4 bytes" || size != int64(len(b)) {
		t.Fatalf("read: %q size=%d err=%v", b, size, err)
	}

	if err := s.Delete(ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.Open(ref); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	// Deleting again is not an error.
	if err := s.Delete(ref); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestAllocatePathIsInsideDir(t *testing.T) {
	s := newStore(t)
	ref, path := s.Allocate("job-2")
	if ref.ID != "job-2" {
		t.Fatalf("ref: %+v", ref)
	}
	if filepath.Dir(path) != s.Dir() || filepath.Base(path) != "job-2.mp4" {
		t.Fatalf("path: %s", path)
	}
	// A file written to the allocated path is retrievable through Open.
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, size, err := s.Open(ref); err != nil || size != 1 {
		t.Fatalf("open allocated: size=%d err=%v", size, err)
	}
}

func TestOpenMissing(t *testing.T) {
	s := newStore(t)
	if _, _, err := s.Open(Ref{ID: "never-stored"}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveExpired(t *testing.T) {
	s := newStore(t)
	old, _ := s.Put("old", strings.NewReader("a"))
	fresh, _ := s.Put("fresh", strings.NewReader("b"))

	// Backdate the old artifact past the cutoff.
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(s.Dir(), "old.mp4"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	// An unrelated file must be left alone.
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s.removeExpired(time.Now().Add(-time.Hour))

	if _, _, err := s.Open(old); !IsNotFound(err) {
		t.Fatalf("expired artifact kept: %v", err)
	}
	if _, _, err := s.Open(fresh); err != nil {
		t.Fatalf("fresh artifact removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "notes.txt")); err != nil {
		t.Fatalf("non-artifact file touched: %v", err)
	}
}
