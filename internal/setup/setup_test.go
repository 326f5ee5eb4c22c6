package setup

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
)

var errDuplicateKey = errors.New("duplicate key value violates unique constraint")

func newMockBootstrapper(t *testing.T) (*Bootstrapper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(&dbstore.Store{DB: sqlx.NewDb(db, "postgres")}), mock
}

func TestStatus_SetupRequiredOnFreshDeploy(t *testing.T) {
	b, mock := newMockBootstrapper(t)
	mock.ExpectQuery(`SELECT admin_user FROM setup_bootstrap`).
		WillReturnRows(sqlmock.NewRows([]string{"admin_user"}))

	status, err := b.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.SetupRequired {
		t.Error("expected SetupRequired = true on a fresh deploy")
	}
}

func TestStatus_NotRequiredAfterCompletion(t *testing.T) {
	b, mock := newMockBootstrapper(t)
	mock.ExpectQuery(`SELECT admin_user FROM setup_bootstrap`).
		WillReturnRows(sqlmock.NewRows([]string{"admin_user"}).AddRow("root"))

	status, err := b.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.SetupRequired {
		t.Error("expected SetupRequired = false once an admin exists")
	}
	if status.AdminUser != "root" {
		t.Errorf("AdminUser = %q, want root", status.AdminUser)
	}
}

func TestInitialize_RejectsPasswordMismatch(t *testing.T) {
	b, _ := newMockBootstrapper(t)
	err := b.Initialize(context.Background(), "root", "r@x", "correcthorse", "different")
	if err == nil {
		t.Fatal("expected error for mismatched passwords")
	}
}

func TestInitialize_SucceedsOnFirstCall(t *testing.T) {
	b, mock := newMockBootstrapper(t)
	mock.ExpectExec(`INSERT INTO setup_bootstrap`).WillReturnResult(sqlmock.NewResult(1, 1))

	err := b.Initialize(context.Background(), "root", "r@x", "correcthorse", "correcthorse")
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
}

func TestInitialize_SecondCallConflicts(t *testing.T) {
	b, mock := newMockBootstrapper(t)
	mock.ExpectExec(`INSERT INTO setup_bootstrap`).WillReturnError(errDuplicateKey)

	err := b.Initialize(context.Background(), "root", "r@x", "correcthorse", "correcthorse")
	if err == nil {
		t.Fatal("expected conflict error on second initialize")
	}
}
