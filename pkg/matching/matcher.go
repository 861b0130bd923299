// Package matching scores the similarity of column pairs across two tabular
// assets. The schema-matching algorithm itself is a pluggable collaborator;
// the built-in matcher combines name similarity with value overlap.
package matching

import (
	"context"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/normalizers"
)

// Matcher scores every cross-table column pair with a similarity in [0,1].
type Matcher interface {
	Match(ctx context.Context, a, b *models.Table) (map[models.ColumnPair]float64, error)
}

// SchemaMatcher is the built-in matcher. Name similarity is weighted against
// the overlap of sampled values.
type SchemaMatcher struct {
	nameWeight  float64
	valueWeight float64
}

// NewSchemaMatcher creates the built-in schema matcher.
func NewSchemaMatcher() *SchemaMatcher {
	return &SchemaMatcher{
		nameWeight:  0.5,
		valueWeight: 0.5,
	}
}

// Match scores every column pair of the two tables.
func (m *SchemaMatcher) Match(_ context.Context, a, b *models.Table) (map[models.ColumnPair]float64, error) {
	scores := make(map[models.ColumnPair]float64, len(a.Columns)*len(b.Columns))
	for _, colA := range a.Columns {
		for _, colB := range b.Columns {
			score := m.nameWeight*JaroWinkler(normalizers.Lowercase(colA.Name), normalizers.Lowercase(colB.Name)) +
				m.valueWeight*valueOverlap(colA.Values, colB.Values)
			scores[models.ColumnPair{A: colA.Name, B: colB.Name}] = score
		}
	}
	return scores, nil
}

// valueOverlap is the Jaccard similarity of the distinct value sets.
func valueOverlap(a, b []string) float64 {
	setA := distinctSet(a)
	setB := distinctSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for v := range setA {
		if setB[v] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// distinctSet collects normalized values. Case and surrounding whitespace
// never count as a difference.
func distinctSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = normalizers.ApplyChain(v, "trim", "lowercase")
		if v == "" {
			continue
		}
		set[v] = true
	}
	return set
}
