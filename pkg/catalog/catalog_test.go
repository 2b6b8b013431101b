package catalog

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/andrewpi/gitgres/pkg/dbsession"
)

func newTestSession(t *testing.T) (*dbsession.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	sess, err := dbsession.WrapForTesting(context.Background(), db)
	if err != nil {
		t.Fatalf("WrapForTesting() error = %v", err)
	}
	return sess, mock
}

func TestEnsureRepositoryExisting(t *testing.T) {
	sess, mock := newTestSession(t)

	mock.ExpectQuery("SELECT id FROM repositories").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := EnsureRepository(context.Background(), sess, "demo")
	if err != nil {
		t.Fatalf("EnsureRepository() error = %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEnsureRepositoryCreatesMissing(t *testing.T) {
	sess, mock := newTestSession(t)

	mock.ExpectQuery("SELECT id FROM repositories").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO repositories").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id FROM repositories").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	id, err := EnsureRepository(context.Background(), sess, "new-repo")
	if err != nil {
		t.Fatalf("EnsureRepository() error = %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
