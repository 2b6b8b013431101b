package dbsession

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestSession(t *testing.T) (*Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("db.Conn() error = %v", err)
	}
	return newSession(db, conn), mock
}

func TestSessionExec(t *testing.T) {
	sess, mock := newTestSession(t)
	defer sess.Close()

	mock.ExpectExec("INSERT INTO objects").WillReturnResult(sqlmock.NewResult(1, 1))

	if _, err := sess.Exec(context.Background(), "INSERT INTO objects (repo_id, oid) VALUES ($1, $2)", int64(1), []byte("x")); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSessionExecBackendFailure(t *testing.T) {
	sess, mock := newTestSession(t)
	defer sess.Close()

	mock.ExpectExec("INSERT INTO objects").WillReturnError(sqlErr("connection reset"))

	_, err := sess.Exec(context.Background(), "INSERT INTO objects (repo_id, oid) VALUES ($1, $2)", int64(1), []byte("x"))
	if !IsBackendFailure(err) {
		t.Errorf("expected backend-failure error, got %v", err)
	}
}

func TestSessionTransactionCommit(t *testing.T) {
	sess, mock := newTestSession(t)
	defer sess.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	if err := sess.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := sess.Exec(ctx, "UPDATE refs SET oid = $1 WHERE name = $2", []byte("x"), "refs/heads/main"); err != nil {
		t.Fatalf("Exec() in tx error = %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if sess.LocksHeld() != 0 {
		t.Error("LocksHeld() should be 0 after commit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSessionTransactionRollback(t *testing.T) {
	sess, mock := newTestSession(t)
	defer sess.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx := context.Background()
	if err := sess.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := sess.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSessionBeginTwiceFails(t *testing.T) {
	sess, mock := newTestSession(t)
	defer sess.Close()

	mock.ExpectBegin()

	ctx := context.Background()
	if err := sess.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := sess.Begin(ctx); err == nil {
		t.Error("expected error on nested Begin()")
	}
	_ = sess.Rollback()
}

func TestAdvisoryLockRequiresTransaction(t *testing.T) {
	sess, _ := newTestSession(t)
	defer sess.Close()

	if err := sess.AdvisoryLock(context.Background(), 42); err == nil {
		t.Error("expected error acquiring advisory lock outside a transaction")
	}
}

func TestAdvisoryLockWithinTransaction(t *testing.T) {
	sess, mock := newTestSession(t)
	defer sess.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	if err := sess.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := sess.AdvisoryLock(ctx, 42); err != nil {
		t.Fatalf("AdvisoryLock() error = %v", err)
	}
	if sess.LocksHeld() != 1 {
		t.Error("LocksHeld() should be 1 after AdvisoryLock()")
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

type sqlErrString string

func (e sqlErrString) Error() string { return string(e) }

func sqlErr(msg string) error { return sqlErrString(msg) }
