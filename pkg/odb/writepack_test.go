package odb

import (
	"os"
	"testing"
)

func TestWritepackAppendAccumulatesBytes(t *testing.T) {
	b, _ := newTestBackend(t)

	var lastProgress int64
	wp, err := b.Writepack(func(n int64) { lastProgress = n })
	if err != nil {
		t.Fatalf("Writepack() error = %v", err)
	}
	defer wp.Free()

	if err := wp.Append([]byte("PACK")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := wp.Append([]byte("more-bytes")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if wp.written != int64(len("PACK")+len("more-bytes")) {
		t.Errorf("written = %d, want %d", wp.written, len("PACK")+len("more-bytes"))
	}
	if lastProgress != wp.written {
		t.Errorf("progress callback saw %d, want %d", lastProgress, wp.written)
	}
}

func TestWritepackFreeRemovesTempDir(t *testing.T) {
	b, _ := newTestBackend(t)

	wp, err := b.Writepack(nil)
	if err != nil {
		t.Fatalf("Writepack() error = %v", err)
	}
	dir := wp.tempDir

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("temp dir %s should exist before Free(): %v", dir, err)
	}

	if err := wp.Free(); err != nil {
		t.Fatalf("Free() error = %v", err)
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir %s should be removed after Free()", dir)
	}
}

func TestWritepackFreeIsIdempotent(t *testing.T) {
	b, _ := newTestBackend(t)

	wp, err := b.Writepack(nil)
	if err != nil {
		t.Fatalf("Writepack() error = %v", err)
	}

	if err := wp.Free(); err != nil {
		t.Fatalf("first Free() error = %v", err)
	}
	if err := wp.Free(); err != nil {
		t.Fatalf("second Free() error = %v", err)
	}
}

func TestWritepackFreeWithoutCommit(t *testing.T) {
	b, _ := newTestBackend(t)

	wp, err := b.Writepack(nil)
	if err != nil {
		t.Fatalf("Writepack() error = %v", err)
	}
	if err := wp.Append([]byte("partial data never committed")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := wp.Free(); err != nil {
		t.Fatalf("Free() error = %v", err)
	}
	if wp.committed {
		t.Error("committed should remain false when Commit was never called")
	}
}
