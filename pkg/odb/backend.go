// Package odb implements the object-database backend: content-addressed
// read/write/exists/prefix-lookup/enumerate over the objects table, plus
// streaming packfile ingestion through writepack.
package odb

import (
	"context"
	"database/sql"

	"github.com/andrewpi/gitgres/pkg/dbsession"
	"github.com/andrewpi/gitgres/pkg/metrics"
	"github.com/andrewpi/gitgres/pkg/model"
	"github.com/andrewpi/gitgres/pkg/oid"
)

// Backend implements the ODB operations for one repository over a
// dbsession.Session. Every method scopes to repoID.
type Backend struct {
	sess   *dbsession.Session
	repoID int64
}

// New constructs an ODB Backend bound to repoID over sess.
func New(sess *dbsession.Session, repoID int64) *Backend {
	return &Backend{sess: sess, repoID: repoID}
}

// Read returns the full content and declared type/size of the object
// with the given OID.
func (b *Backend) Read(ctx context.Context, id oid.OID) (content []byte, size int64, typ model.ObjectType, err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ObjectReadDuration)

	row := b.sess.QueryRow(ctx, `SELECT type, size, content FROM objects WHERE repo_id = $1 AND oid = $2`, b.repoID, id.Bytes())
	var t int16
	if err := row.Scan(&t, &size, &content); err != nil {
		if err == sql.ErrNoRows {
			metrics.ObjectsReadTotal.WithLabelValues("unknown", "not-found").Inc()
			return nil, 0, 0, dbsession.NotFound.New("object %s not found", id)
		}
		metrics.ObjectsReadTotal.WithLabelValues("unknown", "error").Inc()
		return nil, 0, 0, dbsession.BackendFailure.Wrap(err)
	}
	typ = model.ObjectType(t)
	metrics.ObjectsReadTotal.WithLabelValues(typ.Name(), "ok").Inc()
	return content, size, typ, nil
}

// ReadHeader is the metadata-only variant of Read: no content fetch.
func (b *Backend) ReadHeader(ctx context.Context, id oid.OID) (size int64, typ model.ObjectType, err error) {
	row := b.sess.QueryRow(ctx, `SELECT type, size FROM objects WHERE repo_id = $1 AND oid = $2`, b.repoID, id.Bytes())
	var t int16
	if err := row.Scan(&t, &size); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, dbsession.NotFound.New("object %s not found", id)
		}
		return 0, 0, dbsession.BackendFailure.Wrap(err)
	}
	return size, model.ObjectType(t), nil
}

// ReadPrefix resolves a short hex OID prefix to its full object. If
// prefixHexLen is 40 this degrades to Read. 0 matches is not-found,
// exactly 1 is returned, 2+ is ambiguous. Odd hex lengths intentionally
// over-match by half a byte; the caller disambiguates by full OID.
func (b *Backend) ReadPrefix(ctx context.Context, shortOID []byte, prefixHexLen int) (full oid.OID, content []byte, size int64, typ model.ObjectType, err error) {
	if prefixHexLen == oid.HexSize {
		id, ferr := oid.FromBytes(shortOID)
		if ferr != nil {
			return oid.OID{}, nil, 0, 0, dbsession.InvalidInput.Wrap(ferr)
		}
		content, size, typ, err = b.Read(ctx, id)
		return id, content, size, typ, err
	}

	prefixLen := oid.HexPrefixByteLen(prefixHexLen)
	prefix := shortOID[:prefixLen]

	rows, qerr := b.sess.Query(ctx, `
		SELECT oid, type, size, content FROM objects
		WHERE repo_id = $1 AND substring(oid from 1 for $2) = $3
	`, b.repoID, prefixLen, prefix)
	if qerr != nil {
		return oid.OID{}, nil, 0, 0, qerr
	}
	defer rows.Close()

	var matches int
	for rows.Next() {
		matches++
		if matches > 1 {
			break
		}
		var oidBytes []byte
		var t int16
		if err := rows.Scan(&oidBytes, &t, &size, &content); err != nil {
			return oid.OID{}, nil, 0, 0, dbsession.BackendFailure.Wrap(err)
		}
		full, err = oid.FromBytes(oidBytes)
		if err != nil {
			return oid.OID{}, nil, 0, 0, dbsession.Corruption.Wrap(err)
		}
		typ = model.ObjectType(t)
	}
	if rerr := rows.Err(); rerr != nil {
		return oid.OID{}, nil, 0, 0, dbsession.BackendFailure.Wrap(rerr)
	}

	switch matches {
	case 0:
		return oid.OID{}, nil, 0, 0, dbsession.NotFound.New("no object matches prefix")
	case 1:
		return full, content, size, typ, nil
	default:
		metrics.PrefixLookupAmbiguousTotal.Inc()
		return oid.OID{}, nil, 0, 0, dbsession.Ambiguous.New("%d objects match prefix", matches)
	}
}

// Exists reports whether oid is present in this repository's object store.
func (b *Backend) Exists(ctx context.Context, id oid.OID) (bool, error) {
	var dummy int
	row := b.sess.QueryRow(ctx, `SELECT 1 FROM objects WHERE repo_id = $1 AND oid = $2`, b.repoID, id.Bytes())
	err := row.Scan(&dummy)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, dbsession.BackendFailure.Wrap(err)
	default:
		return true, nil
	}
}

// ExistsPrefix is ReadPrefix's existence-only sibling: the same
// matching rule, without content transfer.
func (b *Backend) ExistsPrefix(ctx context.Context, shortOID []byte, prefixHexLen int) (oid.OID, error) {
	if prefixHexLen == oid.HexSize {
		id, err := oid.FromBytes(shortOID)
		if err != nil {
			return oid.OID{}, dbsession.InvalidInput.Wrap(err)
		}
		ok, err := b.Exists(ctx, id)
		if err != nil {
			return oid.OID{}, err
		}
		if !ok {
			return oid.OID{}, dbsession.NotFound.New("object %s not found", id)
		}
		return id, nil
	}

	prefixLen := oid.HexPrefixByteLen(prefixHexLen)
	prefix := shortOID[:prefixLen]

	rows, err := b.sess.Query(ctx, `
		SELECT oid FROM objects
		WHERE repo_id = $1 AND substring(oid from 1 for $2) = $3
	`, b.repoID, prefixLen, prefix)
	if err != nil {
		return oid.OID{}, err
	}
	defer rows.Close()

	var matches int
	var full oid.OID
	for rows.Next() {
		matches++
		if matches > 1 {
			break
		}
		var oidBytes []byte
		if err := rows.Scan(&oidBytes); err != nil {
			return oid.OID{}, dbsession.BackendFailure.Wrap(err)
		}
		full, err = oid.FromBytes(oidBytes)
		if err != nil {
			return oid.OID{}, dbsession.Corruption.Wrap(err)
		}
	}
	if err := rows.Err(); err != nil {
		return oid.OID{}, dbsession.BackendFailure.Wrap(err)
	}

	switch matches {
	case 0:
		return oid.OID{}, dbsession.NotFound.New("no object matches prefix")
	case 1:
		return full, nil
	default:
		metrics.PrefixLookupAmbiguousTotal.Inc()
		return oid.OID{}, dbsession.Ambiguous.New("%d objects match prefix", matches)
	}
}

// ForeachFunc is invoked once per object OID during Foreach. Returning a
// non-nil error aborts the enumeration; that error is propagated.
type ForeachFunc func(id oid.OID) error

// Foreach yields every OID for this repo. Ordering is unspecified.
func (b *Backend) Foreach(ctx context.Context, fn ForeachFunc) error {
	rows, err := b.sess.Query(ctx, `SELECT oid FROM objects WHERE repo_id = $1`, b.repoID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var oidBytes []byte
		if err := rows.Scan(&oidBytes); err != nil {
			return dbsession.BackendFailure.Wrap(err)
		}
		id, err := oid.FromBytes(oidBytes)
		if err != nil {
			return dbsession.Corruption.Wrap(err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	return nil
}

// Write inserts (repoID, oid, type, size, content). A conflict on
// (repo_id, oid) is silently accepted as success — object writes are
// idempotent. The backend does not verify that oid hashes content; the
// calling layer guarantees this (O1).
func (b *Backend) Write(ctx context.Context, id oid.OID, content []byte, size int64, typ model.ObjectType) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ObjectWriteDuration)

	_, err := b.sess.Exec(ctx, `
		INSERT INTO objects (repo_id, oid, type, size, content)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (repo_id, oid) DO NOTHING
	`, b.repoID, id.Bytes(), int16(typ), size, content)
	if err != nil {
		return err
	}
	metrics.ObjectsWrittenTotal.WithLabelValues(typ.Name()).Inc()
	return nil
}
