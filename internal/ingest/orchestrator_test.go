package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"cohortingest/internal/blob"
	"cohortingest/internal/infra/persistence/memory"
	"cohortingest/pkg/domain"
)

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func newOrchestrator(t *testing.T, raw, clin blob.Store, dest domain.RecordStore, opts Options) *Orchestrator {
	t.Helper()
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = fastRetry
	}
	o, err := New(raw, clin, dest, opts)
	require.NoError(t, err)
	return o
}

func TestRunTwoPhaseRefresh(t *testing.T) {
	ctx := context.Background()
	raw, clin := fixtureStores(t)
	dest := memory.NewStore()
	require.NoError(t, dest.InsertMany(ctx, []domain.MergedRecord{staleRecord()}))
	metrics := newRecordingMetrics()

	rep, err := newOrchestrator(t, raw, clin, dest, Options{Metrics: metrics}).Run(ctx, Request{Clinical: namedSource()})
	require.NoError(t, err)

	require.NotEmpty(t, rep.RunID)
	require.Equal(t, domain.StrategyTruncated, rep.Strategy)
	require.Equal(t, RefreshTwoPhase, rep.Policy)
	require.Equal(t, 2, rep.ClinicalRecords)
	require.Equal(t, Totals{Files: 2, Succeeded: 2, PatientsParsed: 3, PatientsMatched: 2}, rep.Totals)
	require.Equal(t, FileResult{
		Key: accKey, Cohort: "TCGA.ACC", Status: FileSucceeded,
		PatientsParsed: 2, PatientsMatched: 1, Attempts: 1, RowsSkipped: 1, CellsRejected: 1,
	}, rep.Files[0])
	require.Equal(t, "TCGA.BRCA", rep.Files[1].Cohort)
	require.False(t, rep.FinishedAt.Before(rep.StartedAt))

	docs, err := dest.FindAll(ctx)
	require.NoError(t, err)
	want := map[string]domain.MergedRecord{
		"TCGA-OR-A5J1-01": {
			GeneExpressionRecord: domain.GeneExpressionRecord{PatientID: "TCGA-OR-A5J1-01", CancerCohort: "TCGA.ACC", GeneValues: map[string]float64{"CCL5": 1.5}},
			Clinical:             &domain.ClinicalRecord{PatientID: "tcga-or-a5j1", DiseaseSpecificSurvival: intp(1), OverallSurvival: intp(0), ClinicalStage: strp("Stage II")},
		},
		"TCGA-OR-A5J2-01": {
			GeneExpressionRecord: domain.GeneExpressionRecord{PatientID: "TCGA-OR-A5J2-01", CancerCohort: "TCGA.ACC", GeneValues: map[string]float64{"CCL5": 2.0, "IL6": 0.5}},
		},
		"TCGA-A1-A0SB-01": {
			GeneExpressionRecord: domain.GeneExpressionRecord{PatientID: "TCGA-A1-A0SB-01", CancerCohort: "TCGA.BRCA", GeneValues: map[string]float64{"ATM": 3.0}},
			Clinical:             &domain.ClinicalRecord{PatientID: "TCGA-A1-A0SB", DiseaseSpecificSurvival: intp(0), OverallSurvival: intp(1), ClinicalStage: strp(domain.UnknownStage)},
		},
	}
	if diff := cmp.Diff(want, byPatient(docs)); diff != "" {
		t.Fatalf("stored documents mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 2, metrics.files[string(FileSucceeded)])
	require.Equal(t, 1, metrics.ops["run"])
	require.Equal(t, 2, metrics.ops["file"])
}

func TestRunExactStrategyDoesNotMatchPatientLevelClinical(t *testing.T) {
	raw, clin := fixtureStores(t)
	dest := memory.NewStore()
	rep, err := newOrchestrator(t, raw, clin, dest, Options{Strategy: domain.StrategyExact}).Run(context.Background(), Request{Clinical: namedSource()})
	require.NoError(t, err)
	require.Equal(t, 3, rep.Totals.PatientsParsed)
	require.Zero(t, rep.Totals.PatientsMatched)
}

func TestRunListsPrefixWhenNoFilesGiven(t *testing.T) {
	raw, clin := fixtureStores(t)
	dest := memory.NewStore()
	rep, err := newOrchestrator(t, raw, clin, dest, Options{Prefix: "TCGA.ACC"}).Run(context.Background(), Request{Clinical: namedSource()})
	require.NoError(t, err)
	require.Len(t, rep.Files, 1)
	require.Equal(t, accKey, rep.Files[0].Key)
	require.Equal(t, 2, dest.Len())
}

func TestRunFailedFilesDoNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	raw, clin := fixtureStores(t)
	put(t, raw, "TCGA.BAD.corrupt.gz", []byte("\x1f\x8b\x00\x00\x00\x00\x00\x00\x00\x00garbage"))
	dest := memory.NewStore()

	rep, err := newOrchestrator(t, raw, clin, dest, Options{}).Run(ctx, Request{
		Files:    []string{"TCGA.GONE.missing.gz", "TCGA.BAD.corrupt.gz", accKey},
		Clinical: namedSource(),
	})
	require.NoError(t, err)
	require.Equal(t, Totals{Files: 3, Succeeded: 1, Failed: 2, PatientsParsed: 2, PatientsMatched: 1}, rep.Totals)

	missing := rep.Files[0]
	require.Equal(t, FileFailed, missing.Status)
	require.Equal(t, 1, missing.Attempts, "not-found fetches are not retried")
	require.Contains(t, missing.Error, "fetch TCGA.GONE.missing.gz")
	require.Equal(t, FileFailed, rep.Files[1].Status)
	require.Contains(t, rep.Files[1].Error, "decompress")
	require.Len(t, rep.FailedFiles(), 2)
	require.Equal(t, 2, dest.Len())
}

func TestRunRetriesTransientFetchFailures(t *testing.T) {
	raw, clin := fixtureStores(t)
	flaky := newFlakyBlob(raw, 2)
	metrics := newRecordingMetrics()
	rep, err := newOrchestrator(t, flaky, clin, memory.NewStore(), Options{Metrics: metrics}).Run(context.Background(), Request{
		Files:    []string{accKey},
		Clinical: namedSource(),
	})
	require.NoError(t, err)
	require.Equal(t, FileSucceeded, rep.Files[0].Status)
	require.Equal(t, 3, rep.Files[0].Attempts)
	require.Equal(t, 2, metrics.retries["fetch"])
}

func TestRunTransferErrorAfterRetryBudget(t *testing.T) {
	raw, clin := fixtureStores(t)
	flaky := newFlakyBlob(raw, 10)
	rep, err := newOrchestrator(t, flaky, clin, memory.NewStore(), Options{}).Run(context.Background(), Request{
		Files:    []string{accKey},
		Clinical: namedSource(),
	})
	require.NoError(t, err)
	require.Equal(t, FileFailed, rep.Files[0].Status)
	require.Equal(t, fastRetry.MaxAttempts, rep.Files[0].Attempts)
	require.Contains(t, rep.Files[0].Error, "connection reset")
}

func TestRunStorageWriteErrorIsFatal(t *testing.T) {
	raw, clin := fixtureStores(t)
	dest := &brokenDest{RecordStore: memory.NewStore(), insertErr: errors.New("disk full")}
	rep, err := newOrchestrator(t, raw, clin, dest, Options{Retry: RetryPolicy{MaxAttempts: 2, InitialInterval: 1}}).Run(context.Background(), Request{Clinical: namedSource()})

	var swe *StorageWriteError
	require.ErrorAs(t, err, &swe)
	require.Equal(t, "insert_many", swe.Op)
	require.Equal(t, 2, dest.inserts)
	require.Equal(t, FileFailed, rep.Files[0].Status)
	require.Equal(t, FileSkipped, rep.Files[1].Status)
	require.Equal(t, err.Error(), rep.Error)
}

func TestRunDeleteAllFailure(t *testing.T) {
	raw, clin := fixtureStores(t)
	dest := &brokenDest{RecordStore: memory.NewStore(), deleteErr: errors.New("permission denied")}
	rep, err := newOrchestrator(t, raw, clin, dest, Options{}).Run(context.Background(), Request{Clinical: namedSource()})
	var swe *StorageWriteError
	require.ErrorAs(t, err, &swe)
	require.Equal(t, "delete_all", swe.Op)
	require.Empty(t, rep.Files)
	require.Zero(t, dest.inserts)
}

func TestRunClinicalFailureLeavesDestinationUntouched(t *testing.T) {
	ctx := context.Background()
	raw, _ := fixtureStores(t)
	dest := memory.NewStore()
	require.NoError(t, dest.InsertMany(ctx, []domain.MergedRecord{staleRecord()}))

	rep, err := newOrchestrator(t, raw, blob.NewMemory(), dest, Options{}).Run(ctx, Request{Clinical: namedSource()})
	var te *TransferError
	require.ErrorAs(t, err, &te)
	require.ErrorIs(t, err, blob.ErrNotFound)
	require.Equal(t, clinicalKey, te.Key)
	require.Equal(t, 1, dest.Len())
	require.Empty(t, rep.Files)
	require.NotEmpty(t, rep.Error)
}

func TestRunReportsSchemaGaps(t *testing.T) {
	raw, clin := fixtureStores(t)
	put(t, clin, clinicalKey, []byte("sample\tOS\nTCGA-OR-A5J1\t1\n"))
	rep, err := newOrchestrator(t, raw, clin, memory.NewStore(), Options{}).Run(context.Background(), Request{Files: []string{accKey}, Clinical: namedSource()})
	require.NoError(t, err)
	require.Equal(t, []string{"missing column DSS", "missing column clinical_stage"}, rep.SchemaGaps)
	require.Equal(t, 1, rep.Totals.PatientsMatched)
}

func TestRunStagedRefresh(t *testing.T) {
	ctx := context.Background()
	raw, clin := fixtureStores(t)
	dest := memory.NewStore()
	require.NoError(t, dest.InsertMany(ctx, []domain.MergedRecord{staleRecord()}))

	rep, err := newOrchestrator(t, raw, clin, dest, Options{Policy: RefreshStaged}).Run(ctx, Request{
		Files:    []string{"TCGA.GONE.missing.gz", accKey, brcaKey},
		Clinical: namedSource(),
	})
	require.NoError(t, err)
	require.Equal(t, RefreshStaged, rep.Policy)
	require.Equal(t, 2, rep.Totals.Succeeded)
	require.Equal(t, 1, rep.Totals.Failed)
	docs, err := dest.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	_, stale := byPatient(docs)["TCGA-OLD-0001-01"]
	require.False(t, stale)
}

func TestRunStagedRequiresReplacer(t *testing.T) {
	raw, clin := fixtureStores(t)
	dest := &brokenDest{RecordStore: memory.NewStore()}
	_, err := newOrchestrator(t, raw, clin, dest, Options{Policy: RefreshStaged}).Run(context.Background(), Request{Clinical: namedSource()})
	require.ErrorIs(t, err, ErrReplacerUnsupported)
}

func TestRunCancelledBetweenFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	raw, clin := fixtureStores(t)
	dest := memory.NewStore()
	metrics := newRecordingMetrics()
	metrics.onFile = cancel

	rep, err := newOrchestrator(t, raw, clin, dest, Options{Metrics: metrics}).Run(ctx, Request{Clinical: namedSource()})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, FileSucceeded, rep.Files[0].Status)
	require.Equal(t, FileSkipped, rep.Files[1].Status)
	require.Equal(t, Totals{Files: 2, Succeeded: 1, Skipped: 1, PatientsParsed: 2, PatientsMatched: 1}, rep.Totals)
	require.Equal(t, 2, dest.Len(), "work flushed before cancellation survives")
}

func TestRunStagedCancelledWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	raw, clin := fixtureStores(t)
	dest := memory.NewStore()
	require.NoError(t, dest.InsertMany(context.Background(), []domain.MergedRecord{staleRecord()}))

	_, err := newOrchestrator(t, raw, clin, dest, Options{Policy: RefreshStaged}).Run(ctx, Request{Clinical: namedSource()})
	require.NoError(t, err)

	cancel()
	rep, err := newOrchestrator(t, raw, clin, dest, Options{Policy: RefreshStaged}).Run(ctx, Request{Clinical: namedSource()})
	require.Error(t, err)
	for _, f := range rep.Files {
		require.NotEqual(t, FileSucceeded, f.Status)
	}
	require.Equal(t, 3, dest.Len())
}

func TestNewValidatesOptions(t *testing.T) {
	raw, clin := fixtureStores(t)
	dest := memory.NewStore()
	_, err := New(nil, clin, dest, Options{})
	require.Error(t, err)
	_, err = New(raw, clin, dest, Options{Strategy: "fuzzy"})
	require.Error(t, err)
	_, err = New(raw, clin, dest, Options{Policy: "append"})
	require.Error(t, err)

	o, err := New(raw, clin, dest, Options{})
	require.NoError(t, err)
	require.Equal(t, domain.StrategyTruncated, o.opts.Strategy)
	require.Equal(t, RefreshTwoPhase, o.opts.Policy)
	require.Equal(t, domain.DefaultPanel().Len(), o.opts.Panel.Len())
	require.Equal(t, DefaultRetryPolicy(), o.opts.Retry)
}

func TestParseRefreshPolicy(t *testing.T) {
	p, err := ParseRefreshPolicy(" Staged ")
	require.NoError(t, err)
	require.Equal(t, RefreshStaged, p)
	_, err = ParseRefreshPolicy("incremental")
	require.Error(t, err)
}
