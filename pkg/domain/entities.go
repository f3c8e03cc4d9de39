// Package domain defines the per-patient records produced by cohort ingestion,
// the target gene panel, barcode normalization and the document store contract.
package domain

import (
	"path"
	"strings"
)

// UnknownCohort labels records whose source name does not carry a cohort.
const UnknownCohort = "Unknown"

// UnknownStage replaces clinical stage sentinels.
const UnknownStage = "Unknown"

// GeneExpressionRecord holds the target-gene values observed for one header
// barcode of one expression matrix.
type GeneExpressionRecord struct {
	PatientID    string             `json:"patient_id"`
	CancerCohort string             `json:"cancer_cohort"`
	GeneValues   map[string]float64 `json:"genes"`
}

// ClinicalRecord carries the survival indicators and stage for one barcode
// of a clinical table. Nil pointers mean the value is unknown.
type ClinicalRecord struct {
	PatientID               string  `json:"patient_id"`
	DiseaseSpecificSurvival *int    `json:"dss"`
	OverallSurvival         *int    `json:"os"`
	ClinicalStage           *string `json:"clinical_stage"`
}

// MergedRecord is an expression record with its clinical data attached when
// the join found a match.
type MergedRecord struct {
	GeneExpressionRecord
	Clinical *ClinicalRecord `json:"clinical_survival,omitempty"`
}

// Clone returns a deep copy of the record.
func (r GeneExpressionRecord) Clone() GeneExpressionRecord {
	out := r
	out.GeneValues = make(map[string]float64, len(r.GeneValues))
	for gene, v := range r.GeneValues {
		out.GeneValues[gene] = v
	}
	return out
}

// Clone returns a deep copy of the record.
func (c ClinicalRecord) Clone() ClinicalRecord {
	out := c
	if c.DiseaseSpecificSurvival != nil {
		v := *c.DiseaseSpecificSurvival
		out.DiseaseSpecificSurvival = &v
	}
	if c.OverallSurvival != nil {
		v := *c.OverallSurvival
		out.OverallSurvival = &v
	}
	if c.ClinicalStage != nil {
		v := *c.ClinicalStage
		out.ClinicalStage = &v
	}
	return out
}

// Clone returns a deep copy of the merged record.
func (m MergedRecord) Clone() MergedRecord {
	out := MergedRecord{GeneExpressionRecord: m.GeneExpressionRecord.Clone()}
	if m.Clinical != nil {
		c := m.Clinical.Clone()
		out.Clinical = &c
	}
	return out
}

// Matched reports whether clinical data is attached.
func (m MergedRecord) Matched() bool { return m.Clinical != nil }

// CohortFromSource derives the cohort label from a source file name: the base
// name without its final extension, first two dot-separated segments.
// "TCGA.ACC.sampleMap_HiSeqV2_PANCAN.gz" yields "TCGA.ACC".
func CohortFromSource(source string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(source), "\\", "/"))
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return UnknownCohort
	}
	return parts[0] + "." + parts[1]
}
