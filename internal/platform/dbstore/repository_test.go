package dbstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

type widget struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestGetByID_Found(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "name"}).AddRow("w-1", "gadget")
	mock.ExpectQuery(`SELECT \* FROM widgets WHERE id = \$1`).WithArgs("w-1").WillReturnRows(rows)

	var w widget
	if err := GetByID(context.Background(), db, &w, "widgets", "id", "w-1"); err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if w.Name != "gadget" {
		t.Fatalf("Name = %q, want gadget", w.Name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT \* FROM widgets WHERE id = \$1`).WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	var w widget
	err := GetByID(context.Background(), db, &w, "widgets", "id", "missing")
	if !IsNotFound(err) {
		t.Fatalf("GetByID() error = %v, want NotFoundError", err)
	}
}

func TestDeleteByID(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`DELETE FROM widgets WHERE id = \$1`).WithArgs("w-1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := DeleteByID(context.Background(), db, "widgets", "id", "w-1"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
}

func TestDeleteByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`DELETE FROM widgets WHERE id = \$1`).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	err := DeleteByID(context.Background(), db, "widgets", "id", "missing")
	if !IsNotFound(err) {
		t.Fatalf("DeleteByID() error = %v, want NotFoundError", err)
	}
}
