package ingest

import (
	"time"

	"cohortingest/pkg/domain"
)

// FileStatus is the outcome of one cohort file.
type FileStatus string

const (
	FileSucceeded FileStatus = "succeeded"
	FileFailed    FileStatus = "failed"
	// FileSkipped marks files never attempted because the run stopped early.
	FileSkipped FileStatus = "skipped"
)

// FileResult describes one cohort file in the report.
type FileResult struct {
	Key             string     `json:"key"`
	Cohort          string     `json:"cohort"`
	Status          FileStatus `json:"status"`
	PatientsParsed  int        `json:"patients_parsed"`
	PatientsMatched int        `json:"patients_matched"`
	Attempts        int        `json:"attempts"`
	RowsSkipped     int        `json:"rows_skipped"`
	CellsRejected   int        `json:"cells_rejected"`
	Error           string     `json:"error,omitempty"`
}

// Totals aggregates the per-file results.
type Totals struct {
	Files           int `json:"files"`
	Succeeded       int `json:"succeeded"`
	Failed          int `json:"failed"`
	Skipped         int `json:"skipped"`
	PatientsParsed  int `json:"patients_parsed"`
	PatientsMatched int `json:"patients_matched"`
}

// Report is the outcome of one ingestion run.
type Report struct {
	RunID           string          `json:"run_id"`
	Strategy        domain.Strategy `json:"strategy"`
	Policy          RefreshPolicy   `json:"policy"`
	ClinicalKey     string          `json:"clinical_key"`
	ClinicalRecords int             `json:"clinical_records"`
	SchemaGaps      []string        `json:"schema_gaps,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	Files           []FileResult    `json:"files"`
	Totals          Totals          `json:"totals"`
	Error           string          `json:"error,omitempty"`
}

func (r *Report) finish(now time.Time) {
	r.FinishedAt = now
	t := Totals{Files: len(r.Files)}
	for _, f := range r.Files {
		switch f.Status {
		case FileSucceeded:
			t.Succeeded++
		case FileFailed:
			t.Failed++
		case FileSkipped:
			t.Skipped++
		}
		t.PatientsParsed += f.PatientsParsed
		t.PatientsMatched += f.PatientsMatched
	}
	r.Totals = t
}

// FailedFiles returns the results whose status is failed.
func (r Report) FailedFiles() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Status == FileFailed {
			out = append(out, f)
		}
	}
	return out
}
