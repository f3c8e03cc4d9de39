// Package sqlstore implements domain.RecordStore on database/sql. Each merged
// record is one row holding the JSON document plus the columns it is looked
// up by. The sqlite and postgres packages supply the dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cohortingest/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.RecordStore = (*Store)(nil)
	_ domain.Replacer    = (*Store)(nil)
)

// Table is the name of the document table.
const Table = "gene_expressions"

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Schema is applied in order when the store opens.
	Schema []string
	// Clear removes every document.
	Clear string
}

// Store is a document store over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	// mu serializes writers; database/sql handles reader concurrency.
	mu sync.Mutex
}

// Open applies the dialect schema to db and returns a Store.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}
	for _, stmt := range dialect.Schema {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply %s schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) selectQuery(where string) string {
	q := "SELECT patient_id, cancer_cohort, payload FROM " + Table
	if where != "" {
		q += " WHERE " + where + " = " + s.dialect.Placeholder(1)
	}
	return q + " ORDER BY id"
}

func (s *Store) insertQuery() string {
	p := s.dialect.Placeholder
	return fmt.Sprintf("INSERT INTO %s (patient_id, cancer_cohort, payload) VALUES (%s, %s, %s)", Table, p(1), p(2), p(3))
}

func (s *Store) deleteQuery() string {
	p := s.dialect.Placeholder
	return fmt.Sprintf("DELETE FROM %s WHERE patient_id = %s AND cancer_cohort = %s", Table, p(1), p(2))
}

// FindAll returns every stored document in insertion order.
func (s *Store) FindAll(ctx context.Context) ([]domain.MergedRecord, error) {
	return s.query(ctx, s.selectQuery(""))
}

// FindByCohort returns the documents of one cohort.
func (s *Store) FindByCohort(ctx context.Context, cohort string) ([]domain.MergedRecord, error) {
	return s.query(ctx, s.selectQuery("cancer_cohort"), cohort)
}

// FindByPatient returns the first document stored for patientID.
func (s *Store) FindByPatient(ctx context.Context, patientID string) (domain.MergedRecord, bool, error) {
	out, err := s.query(ctx, s.selectQuery("patient_id"), patientID)
	if err != nil || len(out) == 0 {
		return domain.MergedRecord{}, false, err
	}
	return out[0], true, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.MergedRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", Table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.MergedRecord
	for rows.Next() {
		var patientID, cohort string
		var payload []byte
		if err := rows.Scan(&patientID, &cohort, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", Table, err)
		}
		var rec domain.MergedRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", patientID, err)
		}
		rec.PatientID = patientID
		rec.CancerCohort = cohort
		if rec.GeneValues == nil {
			rec.GeneValues = map[string]float64{}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", Table, err)
	}
	return out, nil
}

// InsertMany appends records in one transaction.
func (s *Store) InsertMany(ctx context.Context, records []domain.MergedRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.insertAll(ctx, tx, records)
	})
}

// UpsertMany replaces the documents matching each record's patient ID and
// cohort, inserting those that do not exist yet.
func (s *Store) UpsertMany(ctx context.Context, records []domain.MergedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		del := s.deleteQuery()
		for _, rec := range records {
			if _, err := tx.ExecContext(ctx, del, rec.PatientID, rec.CancerCohort); err != nil {
				return fmt.Errorf("delete %s: %w", rec.PatientID, err)
			}
		}
		return s.insertAll(ctx, tx, records)
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// DeleteAll removes every document.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, s.dialect.Clear); err != nil {
		return fmt.Errorf("clear %s: %w", Table, err)
	}
	return nil
}

// ReplaceAll swaps the full contents for records in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, records []domain.MergedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.Clear); err != nil {
			return fmt.Errorf("clear %s: %w", Table, err)
		}
		return s.insertAll(ctx, tx, records)
	})
}

func (s *Store) insertAll(ctx context.Context, tx *sql.Tx, records []domain.MergedRecord) error {
	ins := s.insertQuery()
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.PatientID, err)
		}
		if _, err := tx.ExecContext(ctx, ins, rec.PatientID, rec.CancerCohort, string(payload)); err != nil {
			return fmt.Errorf("insert %s: %w", rec.PatientID, err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// QuestionPlaceholder renders "?" for every parameter.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders "$n".
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
