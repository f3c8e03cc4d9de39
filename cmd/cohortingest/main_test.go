package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"cohortingest/internal/ingest"
	"cohortingest/pkg/domain"
)

const (
	accMatrix   = "sample\tTCGA-OR-A5J1-01\tTCGA-OR-A5J2-01\nCCL5\t1.5\t2.0\nBRCA1\t9.9\t9.9\n"
	brcaMatrix  = "sample\tTCGA-A1-A0SB-01\nATM\t3.0\n"
	clinicalTSV = "sample\tDSS\tOS\tclinical_stage\nTCGA-OR-A5J1\t1\t0\tStage II\nTCGA-A1-A0SB\t0\t1\t[Not Applicable]\n"
)

type fixture struct {
	dir    string
	config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write([]byte(accMatrix)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	files := map[string][]byte{
		"TCGA.ACC.sampleMap_HiSeqV2_PANCAN.gz": gz.Bytes(),
		"TCGA.BRCA.sampleMap_HiSeqV2_PANCAN":   []byte(brcaMatrix),
		"clinical.tsv":                         []byte(clinicalTSV),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(src, name), data, 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	cfg := fmt.Sprintf(`blob:
  driver: fs
  fs_root: %q
clinical_blob:
  driver: fs
  fs_root: %q
storage:
  driver: sqlite
  path: %q
ingest:
  clinical_layout: named
  retry:
    max_attempts: 2
    initial_interval: 1ms
log:
  mode: prod
`, filepath.Join(dir, "raw"), filepath.Join(dir, "clinical"), filepath.Join(dir, "docs.db"))
	path := filepath.Join(dir, "cohortingest.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return fixture{dir: dir, config: path}
}

func (f fixture) src(name string) string { return filepath.Join(f.dir, "src", name) }

func (f fixture) run(t *testing.T, args ...string) (int, []byte) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), append([]string{"--config", f.config}, args...), &stdout, &stderr)
	if code != 0 {
		t.Logf("stderr: %s", stderr.String())
	}
	return code, stdout.Bytes()
}

func TestStageIngestQueryFlow(t *testing.T) {
	f := newFixture(t)

	code, out := f.run(t, "stage", "matrices", "--clear", f.src("TCGA.ACC.sampleMap_HiSeqV2_PANCAN.gz"), f.src("TCGA.BRCA.sampleMap_HiSeqV2_PANCAN"))
	if code != 0 {
		t.Fatalf("stage matrices exit %d", code)
	}
	var staged []map[string]any
	if err := json.Unmarshal(out, &staged); err != nil || len(staged) != 2 {
		t.Fatalf("stage output: %v %s", err, out)
	}
	if code, _ := f.run(t, "stage", "clinical", f.src("clinical.tsv")); code != 0 {
		t.Fatalf("stage clinical exit %d", code)
	}

	code, out = f.run(t, "ingest")
	if code != 0 {
		t.Fatalf("ingest exit %d: %s", code, out)
	}
	var rep ingest.Report
	if err := json.Unmarshal(out, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	want := ingest.Totals{Files: 2, Succeeded: 2, PatientsParsed: 3, PatientsMatched: 2}
	if rep.Totals != want || rep.ClinicalKey != ingest.ClinicalObjectKey || rep.Strategy != domain.StrategyTruncated {
		t.Fatalf("unexpected report: %+v", rep)
	}

	code, out = f.run(t, "query", "--cohort", "TCGA.ACC")
	if code != 0 {
		t.Fatalf("query cohort exit %d", code)
	}
	var docs []domain.MergedRecord
	if err := json.Unmarshal(out, &docs); err != nil || len(docs) != 2 {
		t.Fatalf("cohort docs: %v %s", err, out)
	}

	code, out = f.run(t, "query", "--patient", "TCGA-A1-A0SB-01")
	if code != 0 {
		t.Fatalf("query patient exit %d", code)
	}
	var doc domain.MergedRecord
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("decode doc: %v", err)
	}
	if doc.Clinical == nil || doc.Clinical.ClinicalStage == nil || *doc.Clinical.ClinicalStage != domain.UnknownStage {
		t.Fatalf("expected clinical data with unknown stage, got %+v", doc.Clinical)
	}
	if code, _ := f.run(t, "query", "--patient", "TCGA-XX-0000-01"); code == 0 {
		t.Fatalf("expected missing patient to fail")
	}

	code, out = f.run(t, "remerge", "--strategy", "exact")
	if code != 0 {
		t.Fatalf("remerge exit %d", code)
	}
	var rr ingest.RemergeReport
	if err := json.Unmarshal(out, &rr); err != nil {
		t.Fatalf("decode remerge: %v", err)
	}
	if rr.Documents != 3 || rr.Matched != 0 || rr.Written != 3 {
		t.Fatalf("unexpected remerge report: %+v", rr)
	}
}

func TestIngestStagedPolicyWithExplicitKeys(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.run(t, "stage", "matrices", f.src("TCGA.BRCA.sampleMap_HiSeqV2_PANCAN")); code != 0 {
		t.Fatalf("stage exit %d", code)
	}
	if code, _ := f.run(t, "stage", "clinical", f.src("clinical.tsv")); code != 0 {
		t.Fatalf("stage clinical exit %d", code)
	}
	code, out := f.run(t, "ingest", "--policy", "staged", "TCGA.BRCA.sampleMap_HiSeqV2_PANCAN", "TCGA.GONE.missing.gz")
	if code != 0 {
		t.Fatalf("ingest exit %d", code)
	}
	var rep ingest.Report
	if err := json.Unmarshal(out, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Policy != ingest.RefreshStaged || rep.Totals.Succeeded != 1 || rep.Totals.Failed != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t)
	cases := map[string][]string{
		"query without selector": {"query"},
		"query with both":        {"query", "--cohort", "TCGA.ACC", "--patient", "x"},
		"bad strategy":           {"ingest", "--strategy", "fuzzy"},
		"bad policy":             {"ingest", "--policy", "append"},
		"missing clinical":       {"ingest"},
		"stage without files":    {"stage", "matrices"},
		"unknown command":        {"export"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if code, _ := f.run(t, args...); code == 0 {
				t.Fatalf("expected failure for %v", args)
			}
		})
	}

	bad := filepath.Join(f.dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("storage:\n  driver: mongo\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := execute(context.Background(), []string{"--config", bad, "query", "--cohort", "x"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected invalid config to fail")
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	prevExit, prevArgs := exitFunc, os.Args
	defer func() { exitFunc, os.Args = prevExit, prevArgs }()
	got := -1
	exitFunc = func(code int) { got = code }
	os.Args = []string{"cohortingest", "--help"}
	main()
	if got != 0 {
		t.Fatalf("expected exit 0 for --help, got %d", got)
	}
}
