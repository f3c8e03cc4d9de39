package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cohortingest/internal/blob"
	"cohortingest/internal/merge"
	"cohortingest/internal/observability"
	"cohortingest/pkg/domain"
)

// RemergeReport summarizes a re-merge of stored documents.
type RemergeReport struct {
	RunID       string          `json:"run_id"`
	Strategy    domain.Strategy `json:"strategy"`
	ClinicalKey string          `json:"clinical_key"`
	Documents   int             `json:"documents"`
	Matched     int             `json:"matched"`
	Written     int             `json:"written"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Remerger joins the documents already stored with a fresh clinical table
// and upserts them back by patient ID and cohort.
type Remerger struct {
	Clinical blob.Store
	Dest     domain.RecordStore
	Strategy domain.Strategy
	Retry    RetryPolicy
	Logger   observability.Logger
	Metrics  observability.MetricsRecorder
}

// Remerge replaces the clinical data of every stored document. Documents with
// no clinical match lose any clinical data they carried.
func (r Remerger) Remerge(ctx context.Context, src ClinicalSource) (rep RemergeReport, err error) {
	if r.Dest == nil {
		return rep, errors.New("destination store is not configured")
	}
	strategy := r.Strategy
	if strategy == "" {
		strategy = domain.StrategyTruncated
	}
	if err := strategy.Validate(); err != nil {
		return rep, err
	}
	log := observability.OrNop(r.Logger)
	metrics := r.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	src = src.withDefaults()
	rep = RemergeReport{RunID: uuid.NewString(), Strategy: strategy, ClinicalKey: src.Key, StartedAt: time.Now().UTC()}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cohortingest.remerge", trace.WithAttributes(
		attribute.String("ingest.run_id", rep.RunID),
		attribute.String("ingest.strategy", string(strategy)),
	))
	defer func() {
		rep.FinishedAt = time.Now().UTC()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.Observe(ctx, "remerge", err == nil, rep.FinishedAt.Sub(rep.StartedAt))
	}()

	table, err := loadClinical(ctx, r.Clinical, src, r.Retry, metrics, log)
	if err != nil {
		return rep, fmt.Errorf("load clinical data: %w", err)
	}
	docs, err := r.Dest.FindAll(ctx)
	if err != nil {
		return rep, fmt.Errorf("load documents: %w", err)
	}
	rep.Documents = len(docs)
	expr := make([]domain.GeneExpressionRecord, 0, len(docs))
	for _, d := range docs {
		expr = append(expr, d.GeneExpressionRecord)
	}
	merged, err := merge.Merge(expr, table.Records, strategy)
	if err != nil {
		return rep, err
	}
	rep.Matched = merge.Stats(merged).Matched
	written, attempts, err := retry(ctx, r.Retry, metrics, "upsert_many", func() (int, error) {
		return r.Dest.UpsertMany(ctx, merged)
	})
	if err != nil {
		return rep, &StorageWriteError{Op: "upsert_many", Err: err}
	}
	rep.Written = written
	log.Info("documents re-merged", "run_id", rep.RunID, "documents", rep.Documents, "matched", rep.Matched, "attempts", attempts)
	return rep, nil
}
