// Package matcher implements the entity-matching contract over price rows.
// The live system delegates to the external name-matching engine; this
// adapter covers the common cases (exact, normalized, token overlap) and
// reports a confidence the caller gates on.
package matcher

import (
	"context"
	"strings"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// Label matches a target side label against candidate price rows.
type Label struct{}

// NewLabel creates the label matcher.
func NewLabel() *Label {
	return &Label{}
}

// Match returns the best-scoring candidate with its confidence. It never
// returns an error: an unmatchable target is a zero-confidence miss, and
// the caller's floor decides.
func (l *Label) Match(_ context.Context, target string, candidates []domain.PriceRow) (domain.Match, error) {
	if target == "" || len(candidates) == 0 {
		return domain.Match{}, nil
	}

	best := domain.Match{}
	for i := range candidates {
		row := &candidates[i]
		conf, method := score(target, row.Label)
		if conf > best.Confidence {
			best = domain.Match{Row: row, Confidence: conf, Method: method}
		}
	}
	return best, nil
}

func score(target, label string) (float64, string) {
	if target == label {
		return 1.0, "exact"
	}
	nt, nl := normalize(target), normalize(label)
	if nt == nl {
		return 0.95, "normalized"
	}

	// Token overlap: fraction of target tokens present in the label.
	tok := strings.Fields(nt)
	if len(tok) == 0 {
		return 0, "none"
	}
	ltok := strings.Fields(nl)
	set := make(map[string]bool, len(ltok))
	for _, w := range ltok {
		set[w] = true
	}
	hits := 0
	for _, w := range tok {
		if set[w] {
			hits++
		}
	}
	if hits == 0 {
		return 0, "none"
	}
	return 0.9 * float64(hits) / float64(len(tok)), "fuzzy"
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(".", " ", "-", " ", "_", " ")
	return strings.Join(strings.Fields(replacer.Replace(s)), " ")
}
