// Package memory implements the document store in process memory. It backs
// tests and dry runs and mirrors the SQL stores' ordering semantics.
package memory

import (
	"context"
	"sync"

	"cohortingest/pkg/domain"
)

var (
	_ domain.RecordStore = (*Store)(nil)
	_ domain.Replacer    = (*Store)(nil)
)

type document struct {
	rec domain.MergedRecord
}

// Store keeps documents in insertion order.
type Store struct {
	mu   sync.RWMutex
	docs []document
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

func (s *Store) find(match func(domain.MergedRecord) bool) []domain.MergedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MergedRecord
	for _, d := range s.docs {
		if match(d.rec) {
			out = append(out, d.rec.Clone())
		}
	}
	return out
}

// FindAll returns every document.
func (s *Store) FindAll(_ context.Context) ([]domain.MergedRecord, error) {
	return s.find(func(domain.MergedRecord) bool { return true }), nil
}

// FindByCohort returns the documents of one cohort.
func (s *Store) FindByCohort(_ context.Context, cohort string) ([]domain.MergedRecord, error) {
	return s.find(func(r domain.MergedRecord) bool { return r.CancerCohort == cohort }), nil
}

// FindByPatient returns the first document stored for patientID.
func (s *Store) FindByPatient(_ context.Context, patientID string) (domain.MergedRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.rec.PatientID == patientID {
			return d.rec.Clone(), true, nil
		}
	}
	return domain.MergedRecord{}, false, nil
}

// InsertMany appends copies of records.
func (s *Store) InsertMany(_ context.Context, records []domain.MergedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(records)
	return nil
}

func (s *Store) appendLocked(records []domain.MergedRecord) {
	for _, r := range records {
		s.docs = append(s.docs, document{rec: r.Clone()})
	}
}

// UpsertMany drops the documents sharing each record's patient ID and cohort
// and appends the new versions.
func (s *Store) UpsertMany(_ context.Context, records []domain.MergedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	type key struct{ patient, cohort string }
	replace := make(map[key]struct{}, len(records))
	for _, r := range records {
		replace[key{r.PatientID, r.CancerCohort}] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.docs[:0]
	for _, d := range s.docs {
		if _, ok := replace[key{d.rec.PatientID, d.rec.CancerCohort}]; !ok {
			kept = append(kept, d)
		}
	}
	s.docs = kept
	s.appendLocked(records)
	return len(records), nil
}

// DeleteAll removes every document.
func (s *Store) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	return nil
}

// ReplaceAll swaps the contents for records.
func (s *Store) ReplaceAll(_ context.Context, records []domain.MergedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	s.appendLocked(records)
	return nil
}

// Len reports the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
