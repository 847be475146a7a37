package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/storage"
)

// SemanticSearch embeds queryText and scores it against every entity
// within scope whose embedding satisfies filter, returning up to limit
// results ordered by descending cosine similarity. It is eventually
// consistent with respect to writes still awaiting re-embedding: a
// just-stored entity may not surface until its embedding row is updated.
func (s *Store) SemanticSearch(ctx context.Context, queryText string, limit int, filter SearchFilter) ([]SearchResult, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 10
	}

	queryVec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, err, "failed to embed query")
	}

	q := s.db.WithContext(ctx).Model(&storage.Entity{}).
		Joins("JOIN embedding_rows ON embedding_rows.entity_id = entities.id").
		Preload("Observations").Preload("Embedding")

	if filter.Type != "" {
		q = q.Where("entities.type = ?", filter.Type)
	}
	if filter.Scope.Valid() {
		q = q.Where("entities.scope = ?", string(filter.Scope))
		if filter.ScopeKey != caxton.Nil {
			q = q.Where("entities.agent_scope = ?", filter.ScopeKey)
		}
	}
	if filter.ValidAfter != nil {
		q = q.Where("entities.updated_at >= ?", *filter.ValidAfter)
	}
	if filter.ValidBefore != nil {
		q = q.Where("entities.updated_at <= ?", *filter.ValidBefore)
	}

	var rows []storage.Entity
	if err := q.Find(&rows).Error; err != nil {
		return nil, caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, err, "semantic_search query failed")
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		if row.Embedding == nil {
			continue
		}
		vec := decodeVector(row.Embedding.Vector)
		score := cosineSimilarity(queryVec, vec)
		results = append(results, SearchResult{Entity: toEntityRecord(row), Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	if s.metrics != nil {
		s.metrics.RecordMemoryQuery(string(filter.Scope), "semantic_search", time.Since(start))
	}

	return results, nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// if either is a zero vector. Mismatched lengths compare over the
// shorter's length.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
