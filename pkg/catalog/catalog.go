// Package catalog resolves repository names to their surrogate IDs,
// creating the repositories row on first use. It is the one piece of
// state both cmd/gitgres and cmd/git-remote-gitgres need before they can
// construct an odb.Backend or refdb.Backend.
package catalog

import (
	"context"
	"database/sql"

	"github.com/andrewpi/gitgres/pkg/dbsession"
)

// EnsureRepository returns the id of the repositories row named name,
// creating it if absent. Idempotent under concurrent callers via
// ON CONFLICT DO NOTHING followed by a re-select.
func EnsureRepository(ctx context.Context, sess *dbsession.Session, name string) (int64, error) {
	if id, err := lookupRepository(ctx, sess, name); err == nil {
		return id, nil
	} else if !dbsession.IsNotFound(err) {
		return 0, err
	}

	if _, err := sess.Exec(ctx, `
		INSERT INTO repositories (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`, name); err != nil {
		return 0, err
	}

	return lookupRepository(ctx, sess, name)
}

func lookupRepository(ctx context.Context, sess *dbsession.Session, name string) (int64, error) {
	var id int64
	row := sess.QueryRow(ctx, `SELECT id FROM repositories WHERE name = $1`, name)
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, dbsession.NotFound.New("repository %q not found", name)
		}
		return 0, dbsession.BackendFailure.Wrap(err)
	}
	return id, nil
}
