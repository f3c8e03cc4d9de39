package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cohortingest/internal/blob"
	"cohortingest/internal/clinical"
	"cohortingest/internal/observability"
)

// ClinicalObjectKey is the key the consolidated clinical file is staged
// under.
const ClinicalObjectKey = "TCGA_clinical_survival_data.tsv"

// ClinicalSource names the clinical file of a run and its declared layout.
type ClinicalSource struct {
	Key    string         `json:"key"`
	Layout clinical.Layout `json:"layout"`
}

func (s ClinicalSource) withDefaults() ClinicalSource {
	if s.Key == "" {
		s.Key = ClinicalObjectKey
	}
	if s.Layout == "" {
		s.Layout = clinical.LayoutConsolidated
	}
	return s
}

// fetch reads the whole object at key, retrying transient failures.
func fetch(ctx context.Context, store blob.Store, key string, p RetryPolicy, metrics observability.MetricsRecorder) ([]byte, int, error) {
	data, attempts, err := retry(ctx, p, metrics, "fetch", func() ([]byte, error) {
		_, rc, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	})
	if err != nil {
		return nil, attempts, &TransferError{Key: key, Op: "fetch", Attempts: attempts, Err: err}
	}
	return data, attempts, nil
}

// loadClinical fetches and parses the clinical table named by src.
func loadClinical(ctx context.Context, store blob.Store, src ClinicalSource, p RetryPolicy, metrics observability.MetricsRecorder, log observability.Logger) (clinical.Table, error) {
	if store == nil {
		return clinical.Table{}, errors.New("clinical store is not configured")
	}
	src = src.withDefaults()
	if err := src.Layout.Validate(); err != nil {
		return clinical.Table{}, err
	}
	data, _, err := fetch(ctx, store, src.Key, p, metrics)
	if err != nil {
		return clinical.Table{}, err
	}
	table, err := clinical.Parse(bytes.NewReader(data), src.Layout)
	if err != nil {
		return clinical.Table{}, fmt.Errorf("parse clinical %s: %w", src.Key, err)
	}
	for _, gap := range table.Gaps {
		log.Warn("clinical column missing, values will be unknown", "key", src.Key, "column", gap.Column)
	}
	log.Info("clinical table loaded", "key", src.Key, "layout", string(src.Layout), "records", len(table.Records), "rows_skipped", table.RowsSkipped)
	return table, nil
}
