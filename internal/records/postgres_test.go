package records

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hyperjump/diydoctor/internal/models"
)

func newPostgresWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newPostgresStore(db), mock
}

func TestPostgresStore_Lookup(t *testing.T) {
	store, mock := newPostgresWithMock(t)
	mock.ExpectQuery(`SELECT collection, fields FROM records WHERE patient_id = \$1`).
		WithArgs("fp-1").
		WillReturnRows(sqlmock.NewRows([]string{"collection", "fields"}).
			AddRow(LabReports, `{"test_name":"ldl","value":3.1}`).
			AddRow(DiseaseHistory, `{"disease":"asthma"}`))

	got, err := store.Lookup(context.Background(), "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Fields["value"] != 3.1 || got[1].Collection != DiseaseHistory {
		t.Errorf("Lookup = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_Insert(t *testing.T) {
	store, mock := newPostgresWithMock(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO records \(patient_id, collection, fields, created_at\) VALUES \(\$1, \$2, \$3, \$4\)`)
	prep.ExpectExec().
		WithArgs("fp-1", LabReports, `{"value":5}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Insert(context.Background(), "fp-1", []models.Record{{Collection: LabReports, Fields: map[string]any{"value": 5}}})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_DeletePatientNotFound(t *testing.T) {
	store, mock := newPostgresWithMock(t)
	mock.ExpectExec(`DELETE FROM records WHERE patient_id = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeletePatient(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := newPostgresWithMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDollarPlaceholders(t *testing.T) {
	got := dollarPlaceholders("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Errorf("got %q", got)
	}
}
