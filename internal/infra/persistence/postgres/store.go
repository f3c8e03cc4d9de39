// Package postgres provides the document store on Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"cohortingest/internal/infra/persistence/sqlstore"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/cohortingest?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the Postgres flavour of the document table.
var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Placeholder: sqlstore.DollarPlaceholder,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS gene_expressions (
			id BIGSERIAL PRIMARY KEY,
			patient_id TEXT NOT NULL,
			cancer_cohort TEXT NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS gene_expressions_patient_idx ON gene_expressions (patient_id)`,
		`CREATE INDEX IF NOT EXISTS gene_expressions_cohort_idx ON gene_expressions (cancer_cohort)`,
	},
	Clear: `TRUNCATE TABLE gene_expressions`,
}

// Store is a sqlstore.Store bound to a Postgres database.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and ensures the document table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	st, err := sqlstore.Open(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: st}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
