// Package ingest drives cohort ingestion: it loads the clinical table, parses
// every expression matrix, joins the two and refreshes the document store.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cohortingest/internal/blob"
	"cohortingest/internal/clinical"
	"cohortingest/internal/matrix"
	"cohortingest/internal/merge"
	"cohortingest/internal/observability"
	"cohortingest/pkg/domain"
)

const tracerName = "cohortingest/internal/ingest"

// RefreshPolicy selects how the destination collection is refreshed.
type RefreshPolicy string

const (
	// RefreshTwoPhase clears the collection and then appends each file's
	// records as it completes. Readers may observe the cleared or partially
	// filled collection while the run is in progress.
	RefreshTwoPhase RefreshPolicy = "two_phase"
	// RefreshStaged buffers every record and swaps them in with one
	// ReplaceAll at the end. It needs a domain.Replacer.
	RefreshStaged RefreshPolicy = "staged"
)

// Validate rejects unknown policies.
func (p RefreshPolicy) Validate() error {
	switch p {
	case RefreshTwoPhase, RefreshStaged:
		return nil
	default:
		return fmt.Errorf("unknown refresh policy %q", string(p))
	}
}

// ParseRefreshPolicy maps a configuration value onto a RefreshPolicy.
func ParseRefreshPolicy(v string) (RefreshPolicy, error) {
	p := RefreshPolicy(strings.ToLower(strings.TrimSpace(v)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Request names the inputs of one run. An empty Files lists every key under
// Options.Prefix in the raw store.
type Request struct {
	Files    []string
	Clinical ClinicalSource
}

// Options configures an Orchestrator. Zero values pick the defaults.
type Options struct {
	Strategy domain.Strategy
	Policy   RefreshPolicy
	Panel    domain.GenePanel
	Retry    RetryPolicy
	Prefix   string
	Logger   observability.Logger
	Metrics  observability.MetricsRecorder
	Now      func() time.Time
}

// Orchestrator runs ingestion against a raw matrix store, a clinical store
// and the destination document store. Runs are sequential; an Orchestrator
// must not be shared by concurrent runs against the same destination.
type Orchestrator struct {
	raw      blob.Store
	clinical blob.Store
	dest     domain.RecordStore
	opts     Options
	log      observability.Logger
	metrics  observability.MetricsRecorder
	now      func() time.Time
}

// New validates opts and returns an Orchestrator.
func New(raw, clinicalStore blob.Store, dest domain.RecordStore, opts Options) (*Orchestrator, error) {
	if raw == nil || clinicalStore == nil || dest == nil {
		return nil, errors.New("ingest: raw store, clinical store and destination are required")
	}
	if opts.Strategy == "" {
		opts.Strategy = domain.StrategyTruncated
	}
	if err := opts.Strategy.Validate(); err != nil {
		return nil, err
	}
	if opts.Policy == "" {
		opts.Policy = RefreshTwoPhase
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Panel.Len() == 0 {
		opts.Panel = domain.DefaultPanel()
	}
	opts.Retry = opts.Retry.withDefaults()
	o := &Orchestrator{raw: raw, clinical: clinicalStore, dest: dest, opts: opts, log: observability.OrNop(opts.Logger), now: opts.Now}
	o.metrics = opts.Metrics
	if o.metrics == nil {
		o.metrics = observability.NopMetrics{}
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o, nil
}

// Run executes one ingestion. Per-file fetch and parse failures are recorded
// in the report and the batch continues. The returned error is non-nil only
// when the run could not start (clinical data, listing, staged refresh
// support), when a destination write failed (*StorageWriteError) or when ctx
// was cancelled between files. Files committed before a failure or
// cancellation stay in the destination; the report is always populated.
func (o *Orchestrator) Run(ctx context.Context, req Request) (rep Report, err error) {
	start := o.now()
	rep = Report{RunID: uuid.NewString(), Strategy: o.opts.Strategy, Policy: o.opts.Policy, StartedAt: start}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cohortingest.run", trace.WithAttributes(
		attribute.String("ingest.run_id", rep.RunID),
		attribute.String("ingest.strategy", string(o.opts.Strategy)),
		attribute.String("ingest.policy", string(o.opts.Policy)),
	))
	log := o.log
	defer func() {
		rep.finish(o.now())
		if err != nil {
			rep.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("ingest.files", rep.Totals.Files),
			attribute.Int("ingest.files_failed", rep.Totals.Failed),
		)
		span.End()
		o.metrics.Observe(ctx, "run", err == nil, rep.FinishedAt.Sub(start))
		log.Info("ingestion finished", "run_id", rep.RunID, "files", rep.Totals.Files,
			"succeeded", rep.Totals.Succeeded, "failed", rep.Totals.Failed, "skipped", rep.Totals.Skipped,
			"patients", rep.Totals.PatientsParsed, "matched", rep.Totals.PatientsMatched)
	}()

	src := req.Clinical.withDefaults()
	rep.ClinicalKey = src.Key
	table, err := loadClinical(ctx, o.clinical, src, o.opts.Retry, o.metrics, log)
	if err != nil {
		return rep, fmt.Errorf("load clinical data: %w", err)
	}
	rep.ClinicalRecords = len(table.Records)
	for _, gap := range table.Gaps {
		rep.SchemaGaps = append(rep.SchemaGaps, gap.String())
	}

	files := req.Files
	if len(files) == 0 {
		files, err = blob.Keys(ctx, o.raw, o.opts.Prefix)
		if err != nil {
			return rep, fmt.Errorf("list matrices: %w", err)
		}
	}
	rep.Files = make([]FileResult, 0, len(files))

	var replacer domain.Replacer
	switch o.opts.Policy {
	case RefreshStaged:
		r, ok := o.dest.(domain.Replacer)
		if !ok {
			return rep, ErrReplacerUnsupported
		}
		replacer = r
	default:
		if err := o.write(ctx, "delete_all", func() error { return o.dest.DeleteAll(ctx) }); err != nil {
			return rep, err
		}
		log.Info("destination cleared", "run_id", rep.RunID)
	}

	var staged []domain.MergedRecord
	for i, key := range files {
		if cerr := ctx.Err(); cerr != nil {
			if replacer != nil {
				failStaged(rep.Files, "run cancelled before swap")
			}
			rep.Files = append(rep.Files, skipped(files[i:], "run cancelled")...)
			return rep, cerr
		}
		res, merged := o.processFile(ctx, key, table)
		if res.Status == FileFailed {
			rep.Files = append(rep.Files, res)
			o.metrics.FileProcessed(string(res.Status), res.PatientsParsed, 0, res.RowsSkipped, res.CellsRejected)
			continue
		}
		if replacer != nil {
			staged = append(staged, merged...)
		} else if werr := o.write(ctx, "insert_many", func() error { return o.dest.InsertMany(ctx, merged) }); werr != nil {
			res.Status = FileFailed
			res.Error = werr.Error()
			rep.Files = append(rep.Files, res)
			rep.Files = append(rep.Files, skipped(files[i+1:], "run stopped after storage write failure")...)
			o.metrics.FileProcessed(string(res.Status), res.PatientsParsed, 0, res.RowsSkipped, res.CellsRejected)
			return rep, werr
		}
		rep.Files = append(rep.Files, res)
		if replacer == nil {
			o.metrics.FileProcessed(string(res.Status), res.PatientsParsed, res.PatientsMatched, res.RowsSkipped, res.CellsRejected)
		}
	}

	if replacer != nil {
		if cerr := ctx.Err(); cerr != nil {
			failStaged(rep.Files, "run cancelled before swap")
			return rep, cerr
		}
		if werr := o.write(ctx, "replace_all", func() error { return replacer.ReplaceAll(ctx, staged) }); werr != nil {
			failStaged(rep.Files, werr.Error())
			return rep, werr
		}
		for _, res := range rep.Files {
			if res.Status == FileSucceeded {
				o.metrics.FileProcessed(string(res.Status), res.PatientsParsed, res.PatientsMatched, res.RowsSkipped, res.CellsRejected)
			}
		}
		log.Info("destination swapped", "run_id", rep.RunID, "records", len(staged))
	}
	return rep, nil
}

// processFile fetches, decompresses, parses and merges one matrix.
func (o *Orchestrator) processFile(ctx context.Context, key string, table clinical.Table) (FileResult, []domain.MergedRecord) {
	start := o.now()
	res := FileResult{Key: key, Cohort: domain.CohortFromSource(key)}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cohortingest.file", trace.WithAttributes(
		attribute.String("ingest.key", key),
		attribute.String("ingest.cohort", res.Cohort),
	))
	defer span.End()
	fail := func(err error) (FileResult, []domain.MergedRecord) {
		res.Status = FileFailed
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.Observe(ctx, "file", false, o.now().Sub(start))
		o.log.Warn("cohort file failed", "key", key, "attempts", res.Attempts, "error", err)
		return res, nil
	}

	data, attempts, err := fetch(ctx, o.raw, key, o.opts.Retry, o.metrics)
	res.Attempts = attempts
	if err != nil {
		return fail(err)
	}
	dec, err := matrix.NewDecompressor(bytes.NewReader(data))
	if err != nil {
		return fail(fmt.Errorf("decompress %s: %w", key, err))
	}
	parsed, err := matrix.Parser{Panel: o.opts.Panel, Logger: o.log}.Parse(dec, key)
	_ = dec.Close()
	if err != nil {
		return fail(fmt.Errorf("parse %s: %w", key, err))
	}
	res.PatientsParsed = len(parsed.Records)
	res.RowsSkipped = parsed.Stats.RowsSkipped
	res.CellsRejected = parsed.Stats.CellsRejected

	merged, err := merge.Merge(parsed.Records, table.Records, o.opts.Strategy)
	if err != nil {
		return fail(err)
	}
	res.PatientsMatched = merge.Stats(merged).Matched
	res.Status = FileSucceeded
	span.SetAttributes(
		attribute.Int("ingest.patients", res.PatientsParsed),
		attribute.Int("ingest.matched", res.PatientsMatched),
	)
	o.metrics.Observe(ctx, "file", true, o.now().Sub(start))
	o.log.Info("cohort file parsed", "key", key, "cohort", res.Cohort, "patients", res.PatientsParsed,
		"matched", res.PatientsMatched, "rows_skipped", res.RowsSkipped, "cells_rejected", res.CellsRejected)
	return res, merged
}

// write runs a destination write with the retry policy and wraps a final
// failure in *StorageWriteError.
func (o *Orchestrator) write(ctx context.Context, op string, fn func() error) error {
	_, attempts, err := retry(ctx, o.opts.Retry, o.metrics, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err != nil {
		o.log.Error("document store write failed", "op", op, "attempts", attempts, "error", err)
		return &StorageWriteError{Op: op, Err: err}
	}
	return nil
}

func skipped(keys []string, reason string) []FileResult {
	out := make([]FileResult, 0, len(keys))
	for _, key := range keys {
		out = append(out, FileResult{Key: key, Cohort: domain.CohortFromSource(key), Status: FileSkipped, Error: reason})
	}
	return out
}

// failStaged marks files whose records were buffered but never swapped in.
func failStaged(files []FileResult, reason string) {
	for i := range files {
		if files[i].Status == FileSucceeded {
			files[i].Status = FileFailed
			files[i].Error = reason
		}
	}
}
