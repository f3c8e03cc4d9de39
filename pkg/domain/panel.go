package domain

import "sort"

// GenePanel is an immutable set of target gene symbols. The zero value is an
// empty panel that admits nothing.
type GenePanel struct {
	genes map[string]struct{}
}

var defaultGenes = []string{
	"C6orf150", "CCL5", "CXCL10", "TMEM173", "CXCL9", "CXCL11", "NFKB1",
	"IKBKE", "IRF3", "TREX1", "ATM", "IL6", "IL8",
}

// NewGenePanel builds a panel from the given symbols. Symbols are matched
// case-sensitively, exactly as they appear in expression matrices.
func NewGenePanel(genes ...string) GenePanel {
	set := make(map[string]struct{}, len(genes))
	for _, g := range genes {
		if g == "" {
			continue
		}
		set[g] = struct{}{}
	}
	return GenePanel{genes: set}
}

// DefaultPanel returns the fixed 13-gene target panel.
func DefaultPanel() GenePanel { return NewGenePanel(defaultGenes...) }

// Contains reports whether gene belongs to the panel.
func (p GenePanel) Contains(gene string) bool {
	_, ok := p.genes[gene]
	return ok
}

// Len returns the number of genes in the panel.
func (p GenePanel) Len() int { return len(p.genes) }

// Genes returns the panel symbols sorted ascending.
func (p GenePanel) Genes() []string {
	out := make([]string, 0, len(p.genes))
	for g := range p.genes {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
