package domain

import "context"

// RecordStore is the document store collaborator holding merged records.
// Implementations assign storage identity; the core only addresses documents
// by PatientID and CancerCohort.
type RecordStore interface {
	// FindAll returns every stored document in insertion order.
	FindAll(ctx context.Context) ([]MergedRecord, error)
	// FindByCohort returns documents whose CancerCohort equals cohort.
	FindByCohort(ctx context.Context, cohort string) ([]MergedRecord, error)
	// FindByPatient returns the first document stored for patientID.
	FindByPatient(ctx context.Context, patientID string) (MergedRecord, bool, error)
	// InsertMany appends documents without key checks.
	InsertMany(ctx context.Context, records []MergedRecord) error
	// UpsertMany replaces the documents matching each record's PatientID and
	// CancerCohort, inserting when none exists. Returns the number of records
	// written.
	UpsertMany(ctx context.Context, records []MergedRecord) (int, error)
	// DeleteAll empties the collection.
	DeleteAll(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}

// Replacer is implemented by stores able to swap the whole collection in a
// single atomic step.
type Replacer interface {
	ReplaceAll(ctx context.Context, records []MergedRecord) error
}
