// Package sqlite provides the document store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cohortingest/internal/infra/persistence/sqlstore"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "cohortingest.db"

// Dialect is the SQLite flavour of the document table.
var Dialect = sqlstore.Dialect{
	Name:        "sqlite",
	Placeholder: sqlstore.QuestionPlaceholder,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS gene_expressions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			patient_id TEXT NOT NULL,
			cancer_cohort TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS gene_expressions_patient_idx ON gene_expressions (patient_id)`,
		`CREATE INDEX IF NOT EXISTS gene_expressions_cohort_idx ON gene_expressions (cancer_cohort)`,
	},
	Clear: `DELETE FROM gene_expressions`,
}

// Store is a sqlstore.Store bound to a SQLite file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writers serialized on the file.
	db.SetMaxOpenConns(1)
	st, err := sqlstore.Open(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: st, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
