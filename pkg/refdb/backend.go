// Package refdb implements the reference-database backend: CAS ref
// writes, symbolic refs, glob iteration, rename/delete with
// co-transactional reflog updates, and the two-phase advisory-lock
// protocol used by callers that need to batch their own atomicity
// across a ref update.
package refdb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/andrewpi/gitgres/pkg/dbsession"
	"github.com/andrewpi/gitgres/pkg/log"
	"github.com/andrewpi/gitgres/pkg/metrics"
	"github.com/andrewpi/gitgres/pkg/model"
	"github.com/andrewpi/gitgres/pkg/oid"
)

// Backend implements the refdb operations for one repository over a
// dbsession.Session. Every method scopes to repoID.
type Backend struct {
	sess   *dbsession.Session
	repoID int64
}

// New constructs a refdb Backend bound to repoID over sess.
func New(sess *dbsession.Session, repoID int64) *Backend {
	return &Backend{sess: sess, repoID: repoID}
}

// Signature accompanies a ref write when the caller wants a reflog
// entry appended alongside it.
type Signature struct {
	Committer  string
	TimestampS int64
	TZOffset   string
}

// Exists reports whether a ref row with the given name exists.
func (b *Backend) Exists(ctx context.Context, name string) (bool, error) {
	var dummy int
	row := b.sess.QueryRow(ctx, `SELECT 1 FROM refs WHERE repo_id = $1 AND name = $2`, b.repoID, name)
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

// Lookup returns the ref record for name. A row that violates R1 (both
// or neither of oid/symbolic populated) surfaces as a corruption error.
func (b *Backend) Lookup(ctx context.Context, name string) (model.Ref, error) {
	row := b.sess.QueryRow(ctx, `SELECT oid, symbolic FROM refs WHERE repo_id = $1 AND name = $2`, b.repoID, name)
	return scanRef(name, row)
}

func scanRef(name string, row *sql.Row) (model.Ref, error) {
	var oidBytes []byte
	var symbolic sql.NullString

	if err := row.Scan(&oidBytes, &symbolic); err != nil {
		if err == sql.ErrNoRows {
			return model.Ref{}, dbsession.NotFound.New("ref %q not found", name)
		}
		return model.Ref{}, dbsession.BackendFailure.Wrap(err)
	}
	return refFromColumns(name, oidBytes, symbolic)
}

func refFromColumns(name string, oidBytes []byte, symbolic sql.NullString) (model.Ref, error) {
	hasOID := oidBytes != nil
	hasSymbolic := symbolic.Valid

	if hasOID == hasSymbolic {
		return model.Ref{}, dbsession.Corruption.New("ref %q violates R1: oid present=%v, symbolic present=%v", name, hasOID, hasSymbolic)
	}

	if hasSymbolic {
		return model.Ref{Name: name, Symbolic: symbolic.String, IsSymbol: true}, nil
	}

	o, err := oid.FromBytes(oidBytes)
	if err != nil {
		return model.Ref{}, dbsession.Corruption.Wrap(err)
	}
	return model.Ref{Name: name, OID: o}, nil
}

// globToLike translates a ref glob to a SQL LIKE pattern by mapping '*'
// to '%' with no other metacharacter re-interpretation.
func globToLike(glob string) string {
	return strings.ReplaceAll(glob, "*", "%")
}

// Iterate returns every ref matching glob (or every ref, if glob is
// empty), in name-ascending order. The result set is fully materialised
// up front so the returned slice reflects one consistent snapshot.
func (b *Backend) Iterate(ctx context.Context, glob string) ([]model.Ref, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RefIterateDuration)

	var rows *sql.Rows
	var err error
	if glob == "" {
		rows, err = b.sess.Query(ctx, `SELECT name, oid, symbolic FROM refs WHERE repo_id = $1 ORDER BY name ASC`, b.repoID)
	} else {
		rows, err = b.sess.Query(ctx, `SELECT name, oid, symbolic FROM refs WHERE repo_id = $1 AND name LIKE $2 ORDER BY name ASC`, b.repoID, globToLike(glob))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ref
	for rows.Next() {
		var name string
		var oidBytes []byte
		var symbolic sql.NullString
		if err := rows.Scan(&name, &oidBytes, &symbolic); err != nil {
			return nil, dbsession.BackendFailure.Wrap(err)
		}
		ref, err := refFromColumns(name, oidBytes, symbolic)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, dbsession.BackendFailure.Wrap(err)
	}
	return out, nil
}

// IterateNames is the next-name-only mode: it yields just the name
// strings, skipping the work of building full ref records.
func (b *Backend) IterateNames(ctx context.Context, glob string) ([]string, error) {
	var rows *sql.Rows
	var err error
	if glob == "" {
		rows, err = b.sess.Query(ctx, `SELECT name FROM refs WHERE repo_id = $1 ORDER BY name ASC`, b.repoID)
	} else {
		rows, err = b.sess.Query(ctx, `SELECT name FROM refs WHERE repo_id = $1 AND name LIKE $2 ORDER BY name ASC`, b.repoID, globToLike(glob))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dbsession.BackendFailure.Wrap(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, dbsession.BackendFailure.Wrap(err)
	}
	return names, nil
}

// WriteOptions configures Backend.Write's compare-and-swap behavior.
type WriteOptions struct {
	Force             bool
	Signature         *Signature
	Message           string
	HasMessage        bool
	ExpectedOldOID    *oid.OID
	ExpectedOldTarget *string
}

// Write performs a transactional upsert of ref with compare-and-swap
// semantics. See the refdb write contract for the exact CAS rules.
func (b *Backend) Write(ctx context.Context, ref model.Ref, opts WriteOptions) error {
	if err := b.sess.Begin(ctx); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = b.sess.Rollback()
		}
	}()

	oldOID, oldTarget, err := b.casCheck(ctx, ref.Name, opts)
	if err != nil {
		metrics.RefWritesTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return err
	}

	if err := b.upsertRef(ctx, ref); err != nil {
		metrics.RefWritesTotal.WithLabelValues("backend-failure").Inc()
		return err
	}

	if opts.Signature != nil {
		if err := b.appendReflog(ctx, ref.Name, oldOID, oldTarget, ref, *opts.Signature, opts.Message, opts.HasMessage); err != nil {
			metrics.RefWritesTotal.WithLabelValues("backend-failure").Inc()
			return err
		}
	}

	if err := b.sess.Commit(); err != nil {
		metrics.RefWritesTotal.WithLabelValues("backend-failure").Inc()
		return err
	}
	committed = true
	metrics.RefWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

func outcomeLabel(err error) string {
	switch {
	case dbsession.IsNotFound(err):
		return "not-found"
	case dbsession.IsValueChanged(err):
		return "value-changed"
	case dbsession.IsAlreadyExists(err):
		return "already-exists"
	default:
		return "backend-failure"
	}
}

// casCheck enforces the write/delete compare-and-swap rule and returns
// the row's prior OID/target (for reflog old-value bookkeeping). The
// caller must already be inside a transaction; this issues the FOR
// UPDATE row lock.
func (b *Backend) casCheck(ctx context.Context, name string, opts WriteOptions) (oid.OID, string, error) {
	if opts.Force {
		return oid.OID{}, "", nil
	}

	row := b.sess.QueryRow(ctx, `SELECT oid, symbolic FROM refs WHERE repo_id = $1 AND name = $2 FOR UPDATE`, b.repoID, name)
	var oidBytes []byte
	var symbolic sql.NullString
	err := row.Scan(&oidBytes, &symbolic)

	wantsCAS := opts.ExpectedOldOID != nil || opts.ExpectedOldTarget != nil

	if err == sql.ErrNoRows {
		if wantsCAS {
			return oid.OID{}, "", dbsession.NotFound.New("ref %q not found", name)
		}
		return oid.OID{}, "", nil
	}
	if err != nil {
		return oid.OID{}, "", dbsession.BackendFailure.Wrap(err)
	}

	if !wantsCAS {
		return oid.OID{}, "", dbsession.AlreadyExists.New("ref %q already exists", name)
	}

	current, err := refFromColumns(name, oidBytes, symbolic)
	if err != nil {
		return oid.OID{}, "", err
	}

	if opts.ExpectedOldOID != nil {
		if current.IsSymbol || current.OID != *opts.ExpectedOldOID {
			return oid.OID{}, "", dbsession.ValueChanged.New("ref %q does not match expected OID", name)
		}
	}
	if opts.ExpectedOldTarget != nil {
		if !current.IsSymbol || current.Symbolic != *opts.ExpectedOldTarget {
			return oid.OID{}, "", dbsession.ValueChanged.New("ref %q does not match expected target", name)
		}
	}

	return current.OID, current.Symbolic, nil
}

func (b *Backend) upsertRef(ctx context.Context, ref model.Ref) error {
	var oidArg interface{}
	var symArg interface{}
	if ref.IsSymbol {
		symArg = ref.Symbolic
	} else {
		oidArg = ref.OID.Bytes()
	}

	_, err := b.sess.Exec(ctx, `
		INSERT INTO refs (repo_id, name, oid, symbolic)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, name) DO UPDATE SET oid = EXCLUDED.oid, symbolic = EXCLUDED.symbolic
	`, b.repoID, ref.Name, oidArg, symArg)
	return err
}

func (b *Backend) appendReflog(ctx context.Context, refName string, oldOID oid.OID, oldTarget string, newRef model.Ref, sig Signature, message string, hasMessage bool) error {
	var oldOIDArg interface{}
	if !oldOID.IsZero() {
		oldOIDArg = oldOID.Bytes()
	}
	var newOIDArg interface{}
	if !newRef.IsSymbol && !newRef.OID.IsZero() {
		newOIDArg = newRef.OID.Bytes()
	}
	var messageArg interface{}
	if hasMessage {
		messageArg = message
	}

	_, err := b.sess.Exec(ctx, `
		INSERT INTO reflog (repo_id, ref_name, old_oid, new_oid, committer, timestamp_s, tz_offset, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.repoID, refName, oldOIDArg, newOIDArg, sig.Committer, sig.TimestampS, sig.TZOffset, messageArg)
	return err
}

// Rename moves old to new, replacing new if force is set and it already
// exists. The ref row and its reflog rows move in one transaction.
func (b *Backend) Rename(ctx context.Context, oldName, newName string, force bool, sig *Signature, message string, hasMessage bool) (model.Ref, error) {
	if err := b.sess.Begin(ctx); err != nil {
		return model.Ref{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = b.sess.Rollback()
		}
	}()

	row := b.sess.QueryRow(ctx, `SELECT oid, symbolic FROM refs WHERE repo_id = $1 AND name = $2 FOR UPDATE`, b.repoID, oldName)
	oldRef, err := scanRef(oldName, row)
	if err != nil {
		return model.Ref{}, err
	}

	existsRow := b.sess.QueryRow(ctx, `SELECT 1 FROM refs WHERE repo_id = $1 AND name = $2 FOR UPDATE`, b.repoID, newName)
	var dummy int
	existsErr := existsRow.Scan(&dummy)
	if existsErr == nil {
		if !force {
			return model.Ref{}, dbsession.AlreadyExists.New("ref %q already exists", newName)
		}
		if err := b.deleteRefRows(ctx, newName); err != nil {
			return model.Ref{}, err
		}
	} else if existsErr != sql.ErrNoRows {
		return model.Ref{}, dbsession.BackendFailure.Wrap(existsErr)
	}

	renamed := oldRef
	renamed.Name = newName
	if _, err := b.sess.Exec(ctx, `UPDATE refs SET name = $1 WHERE repo_id = $2 AND name = $3`, newName, b.repoID, oldName); err != nil {
		return model.Ref{}, dbsession.BackendFailure.Wrap(err)
	}
	if _, err := b.sess.Exec(ctx, `UPDATE reflog SET ref_name = $1 WHERE repo_id = $2 AND ref_name = $3`, newName, b.repoID, oldName); err != nil {
		return model.Ref{}, dbsession.BackendFailure.Wrap(err)
	}

	if sig != nil {
		if err := b.appendReflog(ctx, newName, oid.OID{}, "", renamed, *sig, message, hasMessage); err != nil {
			return model.Ref{}, err
		}
	}

	// Re-read inside the transaction so the returned record reflects
	// the committed row.
	finalRow := b.sess.QueryRow(ctx, `SELECT oid, symbolic FROM refs WHERE repo_id = $1 AND name = $2`, b.repoID, newName)
	result, err := scanRef(newName, finalRow)
	if err != nil {
		return model.Ref{}, err
	}

	if err := b.sess.Commit(); err != nil {
		return model.Ref{}, err
	}
	committed = true
	return result, nil
}

func (b *Backend) deleteRefRows(ctx context.Context, name string) error {
	if _, err := b.sess.Exec(ctx, `DELETE FROM reflog WHERE repo_id = $1 AND ref_name = $2`, b.repoID, name); err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	if _, err := b.sess.Exec(ctx, `DELETE FROM refs WHERE repo_id = $1 AND name = $2`, b.repoID, name); err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	return nil
}

// Delete removes name, enforcing the same CAS discipline as Write, then
// deletes the ref row and its reflog rows in one transaction.
func (b *Backend) Delete(ctx context.Context, name string, opts WriteOptions) error {
	if err := b.sess.Begin(ctx); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = b.sess.Rollback()
		}
	}()

	if _, _, err := b.casCheck(ctx, name, opts); err != nil {
		return err
	}
	if err := b.deleteRefRows(ctx, name); err != nil {
		return err
	}
	if err := b.sess.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// HasLog reports whether any reflog entries exist for name.
func (b *Backend) HasLog(ctx context.Context, name string) (bool, error) {
	var dummy int
	row := b.sess.QueryRow(ctx, `SELECT 1 FROM reflog WHERE repo_id = $1 AND ref_name = $2 LIMIT 1`, b.repoID, name)
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

// EnsureLog is a no-op: the store logs every ref mutation unconditionally.
func (b *Backend) EnsureLog(ctx context.Context, name string) error {
	return nil
}

// ReflogRename retargets a ref's reflog rows to a new name without
// touching the ref row itself.
func (b *Backend) ReflogRename(ctx context.Context, oldName, newName string) error {
	_, err := b.sess.Exec(ctx, `UPDATE reflog SET ref_name = $1 WHERE repo_id = $2 AND ref_name = $3`, newName, b.repoID, oldName)
	if err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	return nil
}

// ReflogDelete removes all reflog rows for name.
func (b *Backend) ReflogDelete(ctx context.Context, name string) error {
	_, err := b.sess.Exec(ctx, `DELETE FROM reflog WHERE repo_id = $1 AND ref_name = $2`, b.repoID, name)
	if err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	return nil
}

// Lock begins a transaction and acquires a transaction-scoped advisory
// lock keyed on the FNV-1a hash of (repoID, name). The returned token
// must be consumed by Unlock exactly once.
func (b *Backend) Lock(ctx context.Context, name string) (*LockToken, error) {
	timer := metrics.NewTimer()

	if err := b.sess.Begin(ctx); err != nil {
		return nil, err
	}
	key := lockKey(b.repoID, name)
	if err := b.sess.AdvisoryLock(ctx, key); err != nil {
		_ = b.sess.Rollback()
		return nil, err
	}

	timer.ObserveDuration(metrics.AdvisoryLockWaitDuration)
	log.WithRef(name).Debug().Int64("lock_key", key).Msg("acquired advisory lock")

	return &LockToken{key: key, name: name}, nil
}

// Unlock closes the transaction opened by Lock per disposition.
func (b *Backend) Unlock(ctx context.Context, token *LockToken, disposition Disposition, sig *Signature, message string, hasMessage bool, ref model.Ref) error {
	switch disposition {
	case Discard:
		return b.sess.Rollback()

	case ApplyUpdate:
		if err := b.upsertRef(ctx, ref); err != nil {
			_ = b.sess.Rollback()
			return err
		}
		if sig != nil {
			if err := b.appendReflog(ctx, token.name, oid.OID{}, "", ref, *sig, message, hasMessage); err != nil {
				_ = b.sess.Rollback()
				return err
			}
		}
		return b.sess.Commit()

	case ApplyDelete:
		if err := b.deleteRefRows(ctx, token.name); err != nil {
			_ = b.sess.Rollback()
			return err
		}
		return b.sess.Commit()

	default:
		_ = b.sess.Rollback()
		return dbsession.InvalidInput.New("unknown disposition %d", disposition)
	}
}
