package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCohortFromSource(t *testing.T) {
	cases := map[string]string{
		"TCGA.ACC.sampleMap_HiSeqV2_PANCAN.gz":        "TCGA.ACC",
		"raw/TCGA.BRCA.sampleMap_HiSeqV2_PANCAN.gz":   "TCGA.BRCA",
		"TCGA.LUAD.gz":                                "TCGA.LUAD",
		"TCGA.gz":                                     "Unknown",
		"TCGA.LUAD.tsv.gz":                            "TCGA.LUAD",
		"HiSeqV2_PANCAN.gz":                           "Unknown",
		"":                                            "Unknown",
		`C:\downloads\TCGA.KIRC.sampleMap_HiSeqV2.gz`: "TCGA.KIRC",
	}
	for in, want := range cases {
		if got := CohortFromSource(in); got != want {
			t.Fatalf("CohortFromSource(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenePanel(t *testing.T) {
	p := DefaultPanel()
	if p.Len() != 13 {
		t.Fatalf("expected 13 genes, got %d", p.Len())
	}
	for _, g := range []string{"CCL5", "IL8", "C6orf150", "TMEM173"} {
		if !p.Contains(g) {
			t.Fatalf("expected panel to contain %s", g)
		}
	}
	if p.Contains("BRCA1") || p.Contains("ccl5") {
		t.Fatalf("panel must be exact and case-sensitive")
	}
	small := NewGenePanel("CCL5", "", "CCL5")
	if small.Len() != 1 || strings.Join(small.Genes(), ",") != "CCL5" {
		t.Fatalf("unexpected small panel %v", small.Genes())
	}
	var zero GenePanel
	if zero.Contains("CCL5") {
		t.Fatalf("zero panel admits nothing")
	}
}

func TestMergedRecordCloneIsDeep(t *testing.T) {
	dss, os := 1, 0
	stage := "Stage II"
	orig := MergedRecord{
		GeneExpressionRecord: GeneExpressionRecord{PatientID: "P1", CancerCohort: "TCGA.ACC", GeneValues: map[string]float64{"CCL5": 1.5}},
		Clinical:             &ClinicalRecord{PatientID: "P1", DiseaseSpecificSurvival: &dss, OverallSurvival: &os, ClinicalStage: &stage},
	}
	cp := orig.Clone()
	cp.GeneValues["CCL5"] = 9
	*cp.Clinical.DiseaseSpecificSurvival = 0
	*cp.Clinical.ClinicalStage = "Stage IV"
	if orig.GeneValues["CCL5"] != 1.5 || *orig.Clinical.DiseaseSpecificSurvival != 1 || *orig.Clinical.ClinicalStage != "Stage II" {
		t.Fatalf("clone shares state with original")
	}
	if !orig.Matched() || (MergedRecord{}).Matched() {
		t.Fatalf("unexpected Matched result")
	}
}

func TestMergedRecordJSONShape(t *testing.T) {
	rec := MergedRecord{GeneExpressionRecord: GeneExpressionRecord{PatientID: "P1", CancerCohort: "TCGA.ACC", GeneValues: map[string]float64{}}}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(b)
	if !strings.Contains(got, `"patient_id":"P1"`) || !strings.Contains(got, `"genes":{}`) {
		t.Fatalf("unexpected json %s", got)
	}
	if strings.Contains(got, "clinical_survival") {
		t.Fatalf("unmatched record must omit clinical data: %s", got)
	}
}
