// Package storetest holds the behaviour every domain.RecordStore backend must
// show. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cohortingest/pkg/domain"
)

// Factory opens an empty store for one subtest.
type Factory func(t *testing.T) domain.RecordStore

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

// Fixture returns three merged records across two cohorts, one of them
// without clinical data.
func Fixture() []domain.MergedRecord {
	return []domain.MergedRecord{
		{
			GeneExpressionRecord: domain.GeneExpressionRecord{PatientID: "TCGA-OR-A5J1-01", CancerCohort: "TCGA.ACC", GeneValues: map[string]float64{"CCL5": 1.5, "IL6": -0.25}},
			Clinical:             &domain.ClinicalRecord{PatientID: "TCGA-OR-A5J1", OverallSurvival: intp(1355), DiseaseSpecificSurvival: intp(0), ClinicalStage: strp("Stage II")},
		},
		{
			GeneExpressionRecord: domain.GeneExpressionRecord{PatientID: "TCGA-OR-A5J2-01", CancerCohort: "TCGA.ACC", GeneValues: map[string]float64{}},
		},
		{
			GeneExpressionRecord: domain.GeneExpressionRecord{PatientID: "TCGA-A1-A0SB-01", CancerCohort: "TCGA.BRCA", GeneValues: map[string]float64{"ATM": 3.25e-4}},
			Clinical:             &domain.ClinicalRecord{PatientID: "TCGA-A1-A0SB"},
		},
	}
}

// Run exercises the full RecordStore contract, plus Replacer when the store
// implements it.
func Run(t *testing.T, open Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("InsertAndFind", func(t *testing.T) {
		st := open(t)
		fixture := Fixture()
		if err := st.InsertMany(ctx, fixture); err != nil {
			t.Fatalf("insert: %v", err)
		}
		all, err := st.FindAll(ctx)
		if err != nil {
			t.Fatalf("find all: %v", err)
		}
		if diff := cmp.Diff(fixture, all); diff != "" {
			t.Fatalf("find all mismatch (-want +got):\n%s", diff)
		}
		acc, err := st.FindByCohort(ctx, "TCGA.ACC")
		if err != nil || len(acc) != 2 {
			t.Fatalf("find by cohort: %d %v", len(acc), err)
		}
		none, err := st.FindByCohort(ctx, "TCGA.LUAD")
		if err != nil || len(none) != 0 {
			t.Fatalf("expected empty cohort: %d %v", len(none), err)
		}
		rec, ok, err := st.FindByPatient(ctx, "TCGA-A1-A0SB-01")
		if err != nil || !ok {
			t.Fatalf("find by patient: %v %v", ok, err)
		}
		if diff := cmp.Diff(fixture[2], rec); diff != "" {
			t.Fatalf("patient mismatch (-want +got):\n%s", diff)
		}
		if _, ok, err := st.FindByPatient(ctx, "missing"); err != nil || ok {
			t.Fatalf("expected miss: %v %v", ok, err)
		}
	})

	t.Run("InsertEmptyIsNoop", func(t *testing.T) {
		st := open(t)
		if err := st.InsertMany(ctx, nil); err != nil {
			t.Fatalf("insert nil: %v", err)
		}
		if n, err := st.UpsertMany(ctx, nil); err != nil || n != 0 {
			t.Fatalf("upsert nil: %d %v", n, err)
		}
		all, err := st.FindAll(ctx)
		if err != nil || len(all) != 0 {
			t.Fatalf("expected empty store: %d %v", len(all), err)
		}
	})

	t.Run("UpsertReplacesByPatientAndCohort", func(t *testing.T) {
		st := open(t)
		fixture := Fixture()
		if err := st.InsertMany(ctx, fixture); err != nil {
			t.Fatalf("insert: %v", err)
		}
		updated := fixture[1].Clone()
		updated.Clinical = &domain.ClinicalRecord{PatientID: "TCGA-OR-A5J2", OverallSurvival: intp(7)}
		fresh := domain.MergedRecord{GeneExpressionRecord: domain.GeneExpressionRecord{PatientID: "TCGA-OR-A5J2-01", CancerCohort: "TCGA.KIRC", GeneValues: map[string]float64{}}}
		n, err := st.UpsertMany(ctx, []domain.MergedRecord{updated, fresh})
		if err != nil || n != 2 {
			t.Fatalf("upsert: %d %v", n, err)
		}
		all, err := st.FindAll(ctx)
		if err != nil {
			t.Fatalf("find all: %v", err)
		}
		if len(all) != 4 {
			t.Fatalf("expected 4 documents, got %d", len(all))
		}
		acc, _ := st.FindByCohort(ctx, "TCGA.ACC")
		var got *domain.MergedRecord
		for i := range acc {
			if acc[i].PatientID == "TCGA-OR-A5J2-01" {
				got = &acc[i]
			}
		}
		if got == nil || got.Clinical == nil || *got.Clinical.OverallSurvival != 7 {
			t.Fatalf("upsert did not replace document: %+v", got)
		}
	})

	t.Run("DeleteAll", func(t *testing.T) {
		st := open(t)
		if err := st.InsertMany(ctx, Fixture()); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := st.DeleteAll(ctx); err != nil {
			t.Fatalf("delete all: %v", err)
		}
		all, err := st.FindAll(ctx)
		if err != nil || len(all) != 0 {
			t.Fatalf("expected empty after delete: %d %v", len(all), err)
		}
	})

	t.Run("ReplaceAll", func(t *testing.T) {
		st := open(t)
		r, ok := st.(domain.Replacer)
		if !ok {
			t.Skip("store does not implement Replacer")
		}
		if err := st.InsertMany(ctx, Fixture()); err != nil {
			t.Fatalf("insert: %v", err)
		}
		next := Fixture()[2:]
		if err := r.ReplaceAll(ctx, next); err != nil {
			t.Fatalf("replace: %v", err)
		}
		all, err := st.FindAll(ctx)
		if err != nil {
			t.Fatalf("find all: %v", err)
		}
		if diff := cmp.Diff(next, all); diff != "" {
			t.Fatalf("replace mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		st := open(t)
		fixture := Fixture()
		if err := st.InsertMany(ctx, fixture); err != nil {
			t.Fatalf("insert: %v", err)
		}
		fixture[0].GeneValues["CCL5"] = 100
		all, _ := st.FindAll(ctx)
		all[0].GeneValues["IL6"] = 100
		again, _ := st.FindAll(ctx)
		if again[0].GeneValues["CCL5"] != 1.5 || again[0].GeneValues["IL6"] != -0.25 {
			t.Fatalf("store shares maps with callers: %+v", again[0].GeneValues)
		}
	})
}
