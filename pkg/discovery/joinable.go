package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// GetJoinable returns the assets joinable with the given one, ranked by the
// amount of corroborating evidence. A candidate reachable through several
// column pairs lists one match per distinct pair; when the same pair is
// backed by more than one relation, the configured pick policy decides which
// one is kept. Candidates with no matches are omitted entirely.
func (e *Engine) GetJoinable(ctx context.Context, assetPath string) ([]models.JoinableTable, error) {
	ctx, span := tracing.StartSpan(ctx, "discovery.Engine.GetJoinable")
	defer span.End()

	columns, err := e.nodes.GetByAssetPath(ctx, assetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve columns of %s: %w", assetPath, err)
	}
	if len(columns) == 0 {
		return nil, models.ErrNotFound
	}

	type candidate struct {
		name    string
		path    string
		matches map[string]models.ColumnMatch // keyed by unordered pair
		order   []string
	}

	candidates := make(map[string]*candidate)
	var candidateOrder []string

	for _, column := range columns {
		neighbors, err := e.relations.Neighbors(ctx, column.ID,
			models.RelationMatch,
			models.RelationForeignKeyIND,
			models.RelationForeignKeyMetanome,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch neighbors of %s: %w", column.ID, err)
		}

		for _, nb := range neighbors {
			owner := nb.Node.SourcePath
			if owner == "" {
				owner = models.OwningAsset(nb.Node.ID)
			}
			// A joinable result never includes the asset itself.
			if owner == assetPath {
				continue
			}

			score, _ := nb.Relation.Similarity()
			match := models.ColumnMatch{
				FromID:     column.ID,
				ToID:       nb.Node.ID,
				Relation:   nb.Relation.Type,
				Similarity: score,
			}

			cand, ok := candidates[owner]
			if !ok {
				cand = &candidate{
					name:    nb.Node.SourceName,
					path:    owner,
					matches: make(map[string]models.ColumnMatch),
				}
				candidates[owner] = cand
				candidateOrder = append(candidateOrder, owner)
			}

			key := pairKey(match.FromID, match.ToID)
			existing, dup := cand.matches[key]
			switch {
			case !dup:
				cand.matches[key] = match
				cand.order = append(cand.order, key)
			case e.opts.Pick == PickHighestScore && match.Similarity > existing.Similarity:
				cand.matches[key] = match
			}
		}
	}

	results := make([]models.JoinableTable, 0, len(candidates))
	for _, path := range candidateOrder {
		cand := candidates[path]
		matches := make([]models.ColumnMatch, 0, len(cand.order))
		for _, key := range cand.order {
			matches = append(matches, cand.matches[key])
		}
		// Foreign-key matches without a score sort last.
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Similarity > matches[j].Similarity
		})
		results = append(results, models.JoinableTable{
			TableName: cand.name,
			TablePath: cand.path,
			Matches:   matches,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if len(results[i].Matches) != len(results[j].Matches) {
			return len(results[i].Matches) > len(results[j].Matches)
		}
		return e.rankScore(results[i].Matches) > e.rankScore(results[j].Matches)
	})

	return results, nil
}

func (e *Engine) rankScore(matches []models.ColumnMatch) float64 {
	if len(matches) == 0 {
		return 0
	}
	if e.opts.Tie == RankByMaxScore {
		best := matches[0].Similarity
		for _, m := range matches[1:] {
			if m.Similarity > best {
				best = m.Similarity
			}
		}
		return best
	}
	var sum float64
	for _, m := range matches {
		sum += m.Similarity
	}
	return sum / float64(len(matches))
}

// pairKey builds an order-independent key for a column pair.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
