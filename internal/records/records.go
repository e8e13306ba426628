// Package records stores patient records and looks them up by fingerprint.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/internal/models"
)

// ErrNotFound is returned when an operation targets a patient without records.
var ErrNotFound = errors.New("patient not found")

// Known record collections.
const (
	LabReports     = "lab_reports"
	DiseaseHistory = "disease_history"
	FamilyHistory  = "family_history"
)

// Source returns every record of a patient across all collections. An unknown
// fingerprint yields an empty list, not an error.
type Source interface {
	Lookup(ctx context.Context, fingerprint string) ([]models.Record, error)
}

// Store is a Source that can also be written to.
type Store interface {
	Source
	Insert(ctx context.Context, fingerprint string, records []models.Record) error
	Patients(ctx context.Context) ([]string, error)
	DeletePatient(ctx context.Context, fingerprint string) error
	Close() error
}

// Open creates the store selected by cfg.Records.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Records.Driver {
	case "sqlite", "":
		return NewSQLiteStore(cfg.Records.Path)
	case "postgres":
		dsn := cfg.RecordsDSN()
		if dsn == "" {
			return nil, errors.New("postgres records store needs a dsn")
		}
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown records driver %q", cfg.Records.Driver)
	}
}
