package domain

import (
	"fmt"
	"strings"
)

// Strategy selects how a barcode is canonicalized before it is used as a
// join key.
type Strategy string

const (
	// StrategyExact joins on the trimmed, uppercased barcode. Use it when the
	// clinical export carries the same sample-level barcodes as the matrix.
	StrategyExact Strategy = "exact"
	// StrategyTruncated projects barcodes down to their first three dash
	// segments (TCGA-XX-XXXX-01 becomes TCGA-XX-XXXX). Use it against
	// patient-level clinical tables.
	StrategyTruncated Strategy = "truncated"
)

// Validate returns an error for anything other than the known strategies.
func (s Strategy) Validate() error {
	switch s {
	case StrategyExact, StrategyTruncated:
		return nil
	default:
		return fmt.Errorf("unknown normalization strategy %q", string(s))
	}
}

// ParseStrategy maps a configuration value onto a Strategy.
func ParseStrategy(v string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(v)))
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// Normalize canonicalizes raw using strategy s. Unknown strategies fall back
// to the base normalization shared by both strategies.
func Normalize(raw string, s Strategy) string {
	base := strings.ToUpper(strings.TrimSpace(raw))
	if s != StrategyTruncated {
		return base
	}
	parts := strings.Split(base, "-")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, "-")
}
