package remotehelper

import (
	"testing"

	"gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/storage/memory"

	"github.com/andrewpi/gitgres/pkg/dbsession"
)

func newTestLocalRepo(t *testing.T) *LocalRepo {
	t.Helper()
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		t.Fatalf("git.Init() error = %v", err)
	}
	return &LocalRepo{repo: repo}
}

func TestWriteAndReadObjectRoundTrip(t *testing.T) {
	l := newTestLocalRepo(t)

	h, err := l.WriteObject(plumbing.BlobObject, []byte("hello\n"))
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}

	typ, content, err := l.ReadObject(h)
	if err != nil {
		t.Fatalf("ReadObject() error = %v", err)
	}
	if typ != plumbing.BlobObject || string(content) != "hello\n" {
		t.Errorf("unexpected readback: type=%v content=%q", typ, content)
	}
}

func TestHasObject(t *testing.T) {
	l := newTestLocalRepo(t)

	h, err := l.WriteObject(plumbing.BlobObject, []byte("x"))
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}
	if !l.HasObject(h) {
		t.Error("expected HasObject to report true for a written object")
	}
	if l.HasObject(plumbing.ZeroHash) {
		t.Error("expected HasObject to report false for the zero hash")
	}
}

func TestResolveAnyFallsBackToRawOID(t *testing.T) {
	l := newTestLocalRepo(t)

	h, err := l.WriteObject(plumbing.BlobObject, []byte("payload"))
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}

	got, err := l.ResolveAny(h.String())
	if err != nil {
		t.Fatalf("ResolveAny() error = %v", err)
	}
	if got != h {
		t.Errorf("ResolveAny() = %v, want %v", got, h)
	}
}

func TestResolveAnyRejectsGarbage(t *testing.T) {
	l := newTestLocalRepo(t)

	_, err := l.ResolveAny("not-a-ref-or-an-oid")
	if !dbsession.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestResolveAnyFollowsSymbolicRef(t *testing.T) {
	l := newTestLocalRepo(t)

	h, err := l.WriteObject(plumbing.CommitObject, []byte("tree 0000000000000000000000000000000000000000\n"))
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}

	ref := plumbing.NewHashReference(plumbing.ReferenceName("refs/heads/main"), h)
	if err := l.repo.Storer.SetReference(ref); err != nil {
		t.Fatalf("SetReference() error = %v", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.ReferenceName("refs/heads/main"))
	if err := l.repo.Storer.SetReference(head); err != nil {
		t.Fatalf("SetReference(HEAD) error = %v", err)
	}

	got, err := l.ResolveAny("HEAD")
	if err != nil {
		t.Fatalf("ResolveAny(HEAD) error = %v", err)
	}
	if got != h {
		t.Errorf("ResolveAny(HEAD) = %v, want %v", got, h)
	}
}
