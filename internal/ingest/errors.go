package ingest

import (
	"errors"
	"fmt"
)

// ErrReplacerUnsupported is returned by a staged refresh when the document
// store cannot swap its contents atomically.
var ErrReplacerUnsupported = errors.New("ingest: document store does not support ReplaceAll")

// TransferError reports a storage transfer that still failed after its retry
// budget. It is recorded against the file and never aborts the batch.
type TransferError struct {
	Key      string
	Op       string
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// StorageWriteError reports a failed write to the document store. It is
// fatal for the run; under the two-phase policy the destination may be left
// partially refreshed.
type StorageWriteError struct {
	Op  string
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("document store %s: %v", e.Op, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }
