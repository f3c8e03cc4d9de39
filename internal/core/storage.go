// Package core wires the document store backends behind domain.RecordStore.
package core

import (
	"context"
	"fmt"

	"cohortingest/internal/infra/persistence/memory"
	"cohortingest/internal/infra/persistence/postgres"
	"cohortingest/internal/infra/persistence/sqlite"
	"cohortingest/pkg/domain"
)

// StorageDriver identifies a concrete document store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / dry runs)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`
	// Path is the sqlite database file (default ./cohortingest.db).
	Path string `yaml:"path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`
}

// Validate rejects unknown drivers. An empty driver means sqlite.
func (c StorageConfig) Validate() error {
	switch c.Driver {
	case "", StorageMemory, StorageSQLite, StoragePostgres:
		return nil
	default:
		return fmt.Errorf("unknown storage driver %s", c.Driver)
	}
}

// OpenRecordStore opens the backend named by cfg.Driver, defaulting to sqlite.
func OpenRecordStore(ctx context.Context, cfg StorageConfig) (domain.RecordStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.DSN)
	default:
		return sqlite.NewStore(ctx, cfg.Path)
	}
}
