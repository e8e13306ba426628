package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/diydoctor/internal/models"
)

// sqlStore implements Store over database/sql. bind rewrites "?" placeholders
// for drivers that number them.
type sqlStore struct {
	db   *sql.DB
	bind func(string) string
}

func questionMarks(q string) string { return q }

func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Lookup returns the patient's records in insertion order.
func (s *sqlStore) Lookup(ctx context.Context, fingerprint string) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT collection, fields FROM records WHERE patient_id = ? ORDER BY id`), fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var (
			collection string
			fieldsJSON string
		)
		if err := rows.Scan(&collection, &fieldsJSON); err != nil {
			return nil, err
		}
		r := models.Record{Collection: collection}
		if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record fields: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert adds records for a patient in one transaction.
func (s *sqlStore) Insert(ctx context.Context, fingerprint string, records []models.Record) error {
	if fingerprint == "" {
		return fmt.Errorf("empty patient fingerprint")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.bind(
		`INSERT INTO records (patient_id, collection, fields, created_at) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		fieldsJSON, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal record fields: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, fingerprint, r.Collection, string(fieldsJSON), now); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}
	return tx.Commit()
}

// Patients returns every fingerprint with at least one record, sorted.
func (s *sqlStore) Patients(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT patient_id FROM records ORDER BY patient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeletePatient removes every record of a patient.
func (s *sqlStore) DeletePatient(ctx context.Context, fingerprint string) error {
	result, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM records WHERE patient_id = ?`), fingerprint)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
