package odb

import (
	"context"
	"io"

	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/storer"

	"github.com/andrewpi/gitgres/pkg/model"
	"github.com/andrewpi/gitgres/pkg/oid"
)

// packStorer adapts Backend to go-git's storer.EncodedObjectStorer so
// packfile.Decoder can both resolve ref-deltas against objects already
// in the ODB (thin packs) and persist newly decoded objects as they're
// produced. Each decoded object is written through Backend.Write
// individually, matching the commit contract in §4.3.1: no bulk path.
type packStorer struct {
	ctx     context.Context
	backend *Backend

	written       int
	firstWriteErr error
}

func newPackStorer(ctx context.Context, backend *Backend) *packStorer {
	return &packStorer{ctx: ctx, backend: backend}
}

// NewEncodedObject returns a blank in-memory object for the decoder to
// populate before calling SetEncodedObject.
func (s *packStorer) NewEncodedObject() plumbing.EncodedObject {
	return &plumbing.MemoryObject{}
}

// SetEncodedObject is called once per object the decoder resolves; it
// persists the object through the enclosing ODB backend.
func (s *packStorer) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	r, err := obj.Reader()
	if err != nil {
		s.recordErr(err)
		return plumbing.ZeroHash, err
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		s.recordErr(err)
		return plumbing.ZeroHash, err
	}

	typ := model.ObjectType(obj.Type())
	id, err := oid.FromBytes(obj.Hash()[:])
	if err != nil {
		s.recordErr(err)
		return plumbing.ZeroHash, err
	}

	if err := s.backend.Write(s.ctx, id, content, obj.Size(), typ); err != nil {
		s.recordErr(err)
		return plumbing.ZeroHash, err
	}

	s.written++
	return obj.Hash(), nil
}

func (s *packStorer) recordErr(err error) {
	if s.firstWriteErr == nil {
		s.firstWriteErr = err
	}
}

// EncodedObject looks up a base object outside the current pack —
// needed when the pack is thin and a ref-delta points at an object
// already persisted in the ODB.
func (s *packStorer) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	id, err := oid.FromBytes(h[:])
	if err != nil {
		return nil, err
	}
	content, _, typ, err := s.backend.Read(s.ctx, id)
	if err != nil {
		return nil, err
	}
	if t != plumbing.AnyObject && plumbing.ObjectType(typ) != t {
		return nil, plumbing.ErrObjectNotFound
	}

	mo := &plumbing.MemoryObject{}
	mo.SetType(plumbing.ObjectType(typ))
	w, err := mo.Writer()
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	return mo, nil
}

// HasEncodedObject returns nil if h is stored in the ODB and
// plumbing.ErrObjectNotFound if it is not.
func (s *packStorer) HasEncodedObject(h plumbing.Hash) error {
	id, err := oid.FromBytes(h[:])
	if err != nil {
		return err
	}
	ok, err := s.backend.Exists(s.ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return plumbing.ErrObjectNotFound
	}
	return nil
}

// EncodedObjectSize returns the stored size of an object without
// fetching its content.
func (s *packStorer) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	id, err := oid.FromBytes(h[:])
	if err != nil {
		return 0, err
	}
	size, _, err := s.backend.ReadHeader(s.ctx, id)
	if err != nil {
		return 0, err
	}
	return size, nil
}

// IterEncodedObjects enumerates every object in the ODB, loading each
// one fully; used only by callers that walk the whole store rather than
// the decode hot path.
func (s *packStorer) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	var objs []plumbing.EncodedObject
	err := s.backend.Foreach(s.ctx, func(id oid.OID) error {
		content, _, typ, rerr := s.backend.Read(s.ctx, id)
		if rerr != nil {
			return rerr
		}
		if t != plumbing.AnyObject && plumbing.ObjectType(typ) != t {
			return nil
		}
		mo := &plumbing.MemoryObject{}
		mo.SetType(plumbing.ObjectType(typ))
		w, werr := mo.Writer()
		if werr != nil {
			return werr
		}
		if _, werr := w.Write(content); werr != nil {
			return werr
		}
		objs = append(objs, mo)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storer.NewEncodedObjectSliceIter(objs), nil
}
