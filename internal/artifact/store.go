// Package artifact stages finished videos for retrieval. Storage is
// ephemeral: an artifact lives until it is streamed to the client or until
// the retention window expires, whichever comes first.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidgend/internal/common/fsutil"
)

// Ref identifies one stored artifact.
type Ref struct {
	ID string
}

// notFoundError reports a missing or already-consumed artifact.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "artifact not found: " + e.id }

// ErrNotFound constructs a not-found error for id.
func ErrNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing artifact.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// Store keeps artifacts as <id>.mp4 under one directory. The filesystem
// namespace is keyed by unique job id, so jobs never contend.
type Store struct {
	dir       string
	retention time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	done      chan struct{}
}

// New opens (creating if needed) the artifact directory and starts the
// retention sweeper. retention <= 0 selects one hour.
func New(dir string, retention time.Duration, log zerolog.Logger) (*Store, error) {
	abs, err := fsutil.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	if retention <= 0 {
		retention = time.Hour
	}
	s := &Store{
		dir:       abs,
		retention: retention,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.sweep()
	return s, nil
}

// Dir returns the absolute artifact directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".mp4")
}

// Allocate reserves an artifact id and returns the path the encoder writes
// to. Container muxers need a seekable output file, not a pipe.
func (s *Store) Allocate(id string) (Ref, string) {
	return Ref{ID: id}, s.path(id)
}

// Put stores the contents of r as the artifact for id.
func (s *Store) Put(id string, r io.Reader) (Ref, error) {
	f, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Ref{}, fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(s.path(id))
		return Ref{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return Ref{}, err
	}
	return Ref{ID: id}, nil
}

// Open returns a reader over the artifact and its size.
func (s *Store) Open(ref Ref) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.path(ref.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound(ref.ID)
		}
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Delete removes the artifact. Deleting a missing artifact is not an error.
func (s *Store) Delete(ref Ref) error {
	err := os.Remove(s.path(ref.ID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close stops the retention sweeper. Stored artifacts are left on disk.
func (s *Store) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

// sweep deletes artifacts older than the retention window. Scanning the
// directory (rather than an in-memory index) also collects files left over
// from a previous process.
func (s *Store) sweep() {
	defer close(s.done)
	interval := s.retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.removeExpired(time.Now().Add(-s.retention))
		}
	}
}

func (s *Store) removeExpired(cutoff time.Time) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("artifact sweep: read dir")
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		fi, err := e.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			s.log.Debug().Str("artifact", e.Name()).Msg("expired artifact removed")
		}
	}
}
