package odb

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/src-d/go-git.v4/plumbing/format/packfile"

	"github.com/andrewpi/gitgres/pkg/dbsession"
	"github.com/andrewpi/gitgres/pkg/log"
	"github.com/andrewpi/gitgres/pkg/metrics"
)

// ProgressFunc is invoked at the indexer's cadence during both Append
// and Commit. processedBytes is the running total of pack bytes fed so
// far; it has no meaning across separate Writepack sessions.
type ProgressFunc func(processedBytes int64)

// Writepack is the sink returned by Backend.Writepack: Append streams
// packfile bytes into a private temporary directory, Commit indexes
// and ingests the result, Free unconditionally removes the temp
// directory regardless of whether Commit ran.
type Writepack struct {
	backend  *Backend
	tempDir  string
	packFile *os.File
	written  int64
	progress ProgressFunc

	committed bool
	freed     bool
}

// Writepack opens a new packfile ingestion sink for this backend. The
// temporary directory is named by a random UUID to avoid collisions
// between concurrent sessions on the same host.
func (b *Backend) Writepack(progress ProgressFunc) (*Writepack, error) {
	base := os.TempDir()
	dir := filepath.Join(base, "gitgres-writepack-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, dbsession.BackendFailure.Wrap(err)
	}

	f, err := os.Create(filepath.Join(dir, "incoming.pack"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, dbsession.BackendFailure.Wrap(err)
	}

	return &Writepack{
		backend:  b,
		tempDir:  dir,
		packFile: f,
		progress: progress,
	}, nil
}

// Append streams an arbitrary slice of a packfile into the session's
// private temporary file. Validation and delta resolution happen at
// Commit time, once the full stream has been received.
func (w *Writepack) Append(data []byte) error {
	n, err := w.packFile.Write(data)
	if err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	w.written += int64(n)
	if w.progress != nil {
		w.progress(w.written)
	}
	return nil
}

// Commit finalises the indexer: it rewinds the temporary pack file,
// decodes it (resolving deltas against in-pack bases and, for thin
// packs, against the surrounding ODB via the packStorer adapter), and
// for each resulting object issues Backend.Write — reusing the plain
// write path, not a bulk one. Partial ingestion is safe to retry:
// object writes are idempotent and content-addressed (O1).
func (w *Writepack) Commit(ctx context.Context) (objectCount int, err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WritepackDuration)

	if _, err := w.packFile.Seek(0, io.SeekStart); err != nil {
		metrics.WritepackFailuresTotal.Inc()
		return 0, dbsession.BackendFailure.Wrap(err)
	}

	store := newPackStorer(ctx, w.backend)

	scanner := packfile.NewScanner(w.packFile)
	decoder, err := packfile.NewDecoder(scanner, store)
	if err != nil {
		metrics.WritepackFailuresTotal.Inc()
		return 0, dbsession.BackendFailure.Wrap(err)
	}

	if _, err := decoder.Decode(); err != nil {
		metrics.WritepackFailuresTotal.Inc()
		return 0, dbsession.BackendFailure.Wrap(err)
	}

	if store.firstWriteErr != nil {
		metrics.WritepackFailuresTotal.Inc()
		return store.written, store.firstWriteErr
	}

	if w.progress != nil {
		w.progress(w.written)
	}

	metrics.WritepackObjectsTotal.Add(float64(store.written))
	w.committed = true
	log.WithComponent("odb").Info().Int("objects", store.written).Msg("writepack committed")
	return store.written, nil
}

// Free removes the session's temporary directory. It is safe to call
// whether or not Commit ran, and safe to call more than once.
func (w *Writepack) Free() error {
	if w.freed {
		return nil
	}
	w.freed = true
	_ = w.packFile.Close()
	if err := os.RemoveAll(w.tempDir); err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	return nil
}
