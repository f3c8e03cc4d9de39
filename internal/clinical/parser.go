// Package clinical parses tab-delimited clinical survival tables into
// per-barcode records. Two layouts are understood: a header-resolved layout
// with named columns and a legacy consolidated layout with fixed positions.
package clinical

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"cohortingest/internal/tsv"
	"cohortingest/pkg/domain"
)

// Layout selects how columns are located in a clinical table.
type Layout string

const (
	// LayoutNamed resolves columns from header names.
	LayoutNamed Layout = "named"
	// LayoutConsolidated uses the fixed positions of the consolidated
	// TCGA survival file.
	LayoutConsolidated Layout = "consolidated"
)

// Column names recognised by LayoutNamed.
const (
	ColumnSample         = "sample"
	ColumnPatientBarcode = "bcr_patient_barcode"
	ColumnDSS            = "DSS"
	ColumnOS             = "OS"
	ColumnStage          = "clinical_stage"
)

// NotApplicable is the stage sentinel that is folded into domain.UnknownStage.
const NotApplicable = "[Not Applicable]"

const (
	consolidatedBarcode = 1
	consolidatedStage   = 6
	consolidatedOS      = 29
	consolidatedDSS     = 31
)

// ParseLayout maps a configured layout name to a Layout.
func ParseLayout(v string) (Layout, error) {
	l := Layout(strings.ToLower(strings.TrimSpace(v)))
	if err := l.Validate(); err != nil {
		return "", err
	}
	return l, nil
}

// Validate reports whether l is a known layout.
func (l Layout) Validate() error {
	switch l {
	case LayoutNamed, LayoutConsolidated:
		return nil
	default:
		return fmt.Errorf("clinical: unknown layout %q", string(l))
	}
}

// Columns holds resolved column indices. -1 marks an absent column.
type Columns struct {
	Barcode int `json:"barcode"`
	DSS     int `json:"dss"`
	OS      int `json:"os"`
	Stage   int `json:"stage"`
	// MinFields is the shortest row that can carry a barcode.
	MinFields int `json:"min_fields"`
}

// SchemaGap records an expected column that the header does not carry. The
// affected field is left unknown on every record.
type SchemaGap struct {
	Column string
}

func (g SchemaGap) String() string { return "missing column " + g.Column }

// Table is the result of a clinical parse keyed by the trimmed raw barcode.
type Table struct {
	Records map[string]domain.ClinicalRecord
	Columns Columns
	Gaps    []SchemaGap
	// RowsSkipped counts short rows and rows with a blank barcode.
	RowsSkipped int
}

// ResolveColumns maps a header row to typed indices for the given layout.
func ResolveColumns(header []string, layout Layout) (Columns, []SchemaGap, error) {
	switch layout {
	case LayoutConsolidated:
		return Columns{
			Barcode:   consolidatedBarcode,
			DSS:       consolidatedDSS,
			OS:        consolidatedOS,
			Stage:     consolidatedStage,
			MinFields: consolidatedDSS + 1,
		}, nil, nil
	case LayoutNamed:
	default:
		return Columns{}, nil, layout.Validate()
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, seen := index[name]; !seen {
			index[name] = i
		}
	}
	lookup := func(name string) int {
		if i, ok := index[name]; ok {
			return i
		}
		return -1
	}

	cols := Columns{Barcode: lookup(ColumnSample), DSS: lookup(ColumnDSS), OS: lookup(ColumnOS), Stage: lookup(ColumnStage)}
	if cols.Barcode < 0 {
		cols.Barcode = lookup(ColumnPatientBarcode)
	}
	if cols.Barcode < 0 {
		cols.Barcode = 0
	}
	cols.MinFields = cols.Barcode + 1

	var gaps []SchemaGap
	for _, c := range []struct {
		name string
		idx  int
	}{{ColumnDSS, cols.DSS}, {ColumnOS, cols.OS}, {ColumnStage, cols.Stage}} {
		if c.idx < 0 {
			gaps = append(gaps, SchemaGap{Column: c.name})
		}
	}
	return cols, gaps, nil
}

// Parse reads a clinical table from r. The first non-empty row is always
// treated as the header. Missing named columns are reported in Table.Gaps and
// never fail the parse.
func Parse(r io.Reader, layout Layout) (Table, error) {
	if err := layout.Validate(); err != nil {
		return Table{}, err
	}
	cr := tsv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, errors.New("clinical: missing header row")
	}
	if err != nil {
		return Table{}, fmt.Errorf("read clinical header: %w", err)
	}
	cols, gaps, err := ResolveColumns(header, layout)
	if err != nil {
		return Table{}, err
	}

	t := Table{Records: make(map[string]domain.ClinicalRecord), Columns: cols, Gaps: gaps}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read clinical row: %w", err)
		}
		if len(row) < cols.MinFields {
			t.RowsSkipped++
			continue
		}
		id := strings.TrimSpace(row[cols.Barcode])
		if id == "" {
			t.RowsSkipped++
			continue
		}
		rec := domain.ClinicalRecord{
			PatientID:               id,
			DiseaseSpecificSurvival: parseSurvival(field(row, cols.DSS)),
			OverallSurvival:         parseSurvival(field(row, cols.OS)),
		}
		if cols.Stage >= 0 {
			rec.ClinicalStage = parseStage(field(row, cols.Stage))
		}
		t.Records[id] = rec
	}
	return t, nil
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// parseSurvival reads an integer, falling back to a float truncated toward
// zero. Anything else is unknown.
func parseSurvival(v string) *int {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil
	}
	n := int(math.Trunc(f))
	return &n
}

func parseStage(v string) *string {
	s := strings.TrimSpace(v)
	if s == "" || s == NotApplicable {
		s = domain.UnknownStage
	}
	return &s
}
