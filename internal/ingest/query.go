package ingest

import (
	"context"
	"errors"
	"strings"

	"cohortingest/pkg/domain"
)

// ErrEmptyQuery is returned when a lookup value is blank.
var ErrEmptyQuery = errors.New("ingest: query value is empty")

// DocumentsByCohort returns the stored documents of cohort.
func DocumentsByCohort(ctx context.Context, store domain.RecordStore, cohort string) ([]domain.MergedRecord, error) {
	cohort = strings.TrimSpace(cohort)
	if cohort == "" {
		return nil, ErrEmptyQuery
	}
	return store.FindByCohort(ctx, cohort)
}

// DocumentByPatient returns the first stored document for patientID. The
// lookup retries with the uppercased barcode since stored IDs keep their
// source casing.
func DocumentByPatient(ctx context.Context, store domain.RecordStore, patientID string) (domain.MergedRecord, bool, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return domain.MergedRecord{}, false, ErrEmptyQuery
	}
	rec, ok, err := store.FindByPatient(ctx, patientID)
	if err != nil || ok {
		return rec, ok, err
	}
	if upper := domain.Normalize(patientID, domain.StrategyExact); upper != patientID {
		return store.FindByPatient(ctx, upper)
	}
	return rec, false, nil
}
