package matrix

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"cohortingest/internal/observability"
	"cohortingest/internal/tsv"
	"cohortingest/pkg/domain"
)

// ErrMissingHeader is returned when the matrix has no header row.
var ErrMissingHeader = errors.New("matrix: missing header row")

// Stats summarizes a parse. Skipped rows and rejected cells never fail the
// parse. Every skipped row is debug-logged; rejected cells are only counted.
type Stats struct {
	RowsRead      int `json:"rows_read"`
	TargetRows    int `json:"target_rows"`
	RowsSkipped   int `json:"rows_skipped"`
	CellsRejected int `json:"cells_rejected"`
}

// Result is the output of one matrix parse.
type Result struct {
	Records []domain.GeneExpressionRecord
	Stats   Stats
}

// Parser turns an expression matrix into per-patient records restricted to
// Panel.
type Parser struct {
	Panel  domain.GenePanel
	Logger observability.Logger
}

// Parse reads the tab-delimited matrix in r. sourceLabel is the source file
// name; the cohort of every record is derived from it. Records come back
// sorted by patient ID.
func (p Parser) Parse(r io.Reader, sourceLabel string) (Result, error) {
	log := observability.OrNop(p.Logger)
	cr := tsv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Result{}, ErrMissingHeader
	}
	if err != nil {
		return Result{}, fmt.Errorf("read header: %w", err)
	}

	cohort := domain.CohortFromSource(sourceLabel)
	// barcodes[i] is the patient for value column i+1; "" marks a blank column.
	barcodes := make([]string, 0, len(header))
	acc := make(map[string]*domain.GeneExpressionRecord, len(header))
	for _, raw := range header[1:] {
		id := strings.TrimSpace(raw)
		barcodes = append(barcodes, id)
		if id == "" {
			continue
		}
		if _, ok := acc[id]; !ok {
			acc[id] = &domain.GeneExpressionRecord{PatientID: id, CancerCohort: cohort, GeneValues: map[string]float64{}}
		}
	}

	var stats Stats
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read matrix row: %w", err)
		}
		stats.RowsRead++
		if len(row) < 2 {
			stats.RowsSkipped++
			log.Debug("skipping short matrix row", "source", sourceLabel, "line", cr.Line())
			continue
		}
		gene := strings.TrimSpace(row[0])
		if !p.Panel.Contains(gene) {
			stats.RowsSkipped++
			log.Debug("skipping gene outside panel", "source", sourceLabel, "line", cr.Line(), "gene", gene)
			continue
		}
		stats.TargetRows++
		for i, cell := range row[1:] {
			if i >= len(barcodes) {
				break
			}
			id := barcodes[i]
			if id == "" {
				continue
			}
			v, ok := parseValue(cell)
			if !ok {
				stats.CellsRejected++
				continue
			}
			acc[id].GeneValues[gene] = v
		}
	}

	records := make([]domain.GeneExpressionRecord, 0, len(acc))
	for _, rec := range acc {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PatientID < records[j].PatientID })
	log.Debug("matrix parsed", "source", sourceLabel, "cohort", cohort, "patients", len(records),
		"rows", stats.RowsRead, "target_rows", stats.TargetRows, "rows_skipped", stats.RowsSkipped, "cells_rejected", stats.CellsRejected)
	return Result{Records: records, Stats: stats}, nil
}

// parseValue accepts finite floats in Go syntax, which covers scientific
// notation and rejects thousands separators.
func parseValue(cell string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
