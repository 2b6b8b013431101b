package remotehelper

import (
	"io"

	"gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/storer"

	"github.com/andrewpi/gitgres/pkg/dbsession"
)

// LocalRepo wraps the on-disk repository the remote-helper adapter
// copies objects to and from during fetch/push.
type LocalRepo struct {
	repo *git.Repository
}

// OpenLocal opens the git repository rooted at gitDir (GIT_DIR).
func OpenLocal(gitDir string) (*LocalRepo, error) {
	repo, err := git.PlainOpen(gitDir)
	if err != nil {
		return nil, dbsession.BackendFailure.Wrap(err)
	}
	return &LocalRepo{repo: repo}, nil
}

// InitLocal creates a fresh bare-style git repository rooted at dir, for
// the clone subcommand's destination.
func InitLocal(dir string) (*LocalRepo, error) {
	repo, err := git.PlainInit(dir, true)
	if err != nil {
		return nil, dbsession.BackendFailure.Wrap(err)
	}
	return &LocalRepo{repo: repo}, nil
}

// ListRefs enumerates every direct (non-symbolic) local reference whose
// name is not HEAD, for the push subcommand's ref-copy step.
func (l *LocalRepo) ListRefs() ([]*plumbing.Reference, error) {
	iter, err := l.repo.Storer.IterReferences()
	if err != nil {
		return nil, dbsession.BackendFailure.Wrap(err)
	}
	defer iter.Close()

	var out []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference || ref.Name() == plumbing.HEAD {
			return nil
		}
		out = append(out, ref)
		return nil
	})
	if err != nil {
		return nil, dbsession.BackendFailure.Wrap(err)
	}
	return out, nil
}

// SetRef creates or updates a direct reference named name to point at h,
// for the clone subcommand's ref-materialize step.
func (l *LocalRepo) SetRef(name string, h plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.ReferenceName(name), h)
	if err := l.repo.Storer.SetReference(ref); err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	return nil
}

// ResolveRef resolves name as a reference, following symbolic chains
// (e.g. HEAD -> refs/heads/main -> a commit hash).
func (l *LocalRepo) ResolveRef(name string) (plumbing.Hash, error) {
	ref, err := l.repo.Reference(plumbing.ReferenceName(name), true)
	if err != nil {
		return plumbing.ZeroHash, dbsession.NotFound.Wrap(err)
	}
	return ref.Hash(), nil
}

// ResolveAny resolves spec first as a reference (following symbolic
// chains), then falls back to treating it as a raw hex OID string —
// matching the push path's "src" resolution rule.
func (l *LocalRepo) ResolveAny(spec string) (plumbing.Hash, error) {
	if h, err := l.ResolveRef(spec); err == nil {
		return h, nil
	}

	h := plumbing.NewHash(spec)
	if h.IsZero() {
		return plumbing.ZeroHash, dbsession.NotFound.New("%q is neither a known reference nor a valid OID", spec)
	}
	if _, err := l.repo.Storer.EncodedObject(plumbing.AnyObject, h); err != nil {
		return plumbing.ZeroHash, dbsession.NotFound.Wrap(err)
	}
	return h, nil
}

// IterObjects enumerates every object stored locally.
func (l *LocalRepo) IterObjects() (storer.EncodedObjectIter, error) {
	iter, err := l.repo.Storer.IterEncodedObjects(plumbing.AnyObject)
	if err != nil {
		return nil, dbsession.BackendFailure.Wrap(err)
	}
	return iter, nil
}

// HasObject reports whether h is present in the local object store.
func (l *LocalRepo) HasObject(h plumbing.Hash) bool {
	_, err := l.repo.Storer.EncodedObjectSize(h)
	return err == nil
}

// ReadObject fetches an object's type and raw content from the local store.
func (l *LocalRepo) ReadObject(h plumbing.Hash) (plumbing.ObjectType, []byte, error) {
	obj, err := l.repo.Storer.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		return 0, nil, dbsession.NotFound.Wrap(err)
	}
	r, err := obj.Reader()
	if err != nil {
		return 0, nil, dbsession.BackendFailure.Wrap(err)
	}
	defer r.Close()
	content, err := io.ReadAll(r)
	if err != nil {
		return 0, nil, dbsession.BackendFailure.Wrap(err)
	}
	return obj.Type(), content, nil
}

// WriteObject stores an object of the given type and content locally,
// preserving its type, and returns its computed hash.
func (l *LocalRepo) WriteObject(typ plumbing.ObjectType, content []byte) (plumbing.Hash, error) {
	obj := l.repo.Storer.NewEncodedObject()
	obj.SetType(typ)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, dbsession.BackendFailure.Wrap(err)
	}
	if _, err := w.Write(content); err != nil {
		return plumbing.ZeroHash, dbsession.BackendFailure.Wrap(err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, dbsession.BackendFailure.Wrap(err)
	}
	return l.repo.Storer.SetEncodedObject(obj)
}
