// Package merge joins expression records to clinical records by normalized
// patient identifier. It performs no I/O.
package merge

import (
	"sort"

	"cohortingest/pkg/domain"
)

// Merge attaches clinical data to each expression record whose normalized
// patient ID matches a normalized clinical key. Records without a match are
// returned with a nil Clinical field. Output order follows expr and inputs are
// never modified.
//
// When several clinical keys normalize to the same join key, the
// lexicographically greatest raw key wins.
func Merge(expr []domain.GeneExpressionRecord, clinical map[string]domain.ClinicalRecord, s domain.Strategy) ([]domain.MergedRecord, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	index := Index(clinical, s)
	out := make([]domain.MergedRecord, 0, len(expr))
	for _, rec := range expr {
		m := domain.MergedRecord{GeneExpressionRecord: rec.Clone()}
		if c, ok := index[domain.Normalize(rec.PatientID, s)]; ok {
			cc := c.Clone()
			m.Clinical = &cc
		}
		out = append(out, m)
	}
	return out, nil
}

// Index builds the normalized lookup used by Merge.
func Index(clinical map[string]domain.ClinicalRecord, s domain.Strategy) map[string]domain.ClinicalRecord {
	keys := make([]string, 0, len(clinical))
	for k := range clinical {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	index := make(map[string]domain.ClinicalRecord, len(clinical))
	for _, k := range keys {
		index[domain.Normalize(k, s)] = clinical[k]
	}
	return index
}

// Summary counts join outcomes.
type Summary struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
}

// Stats summarizes a merge result.
func Stats(merged []domain.MergedRecord) Summary {
	s := Summary{Total: len(merged)}
	for _, m := range merged {
		if m.Matched() {
			s.Matched++
		}
	}
	s.Unmatched = s.Total - s.Matched
	return s
}
