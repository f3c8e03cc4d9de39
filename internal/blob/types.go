// Package blob is the entry point to object storage. It re-exports the core
// contract and constructs backends, so callers never import the infra
// packages directly.
package blob

import (
	"cohortingest/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound is wrapped when a key does not exist.
	ErrNotFound = core.ErrNotFound
	// ErrExists is wrapped when a create-only Put hits an existing key.
	ErrExists = core.ErrExists
)
