package memory

import (
	"context"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/storage"
)

// defaultNodeBudget bounds a traversal when the caller leaves maxNodes at
// zero, so a shallow-looking maxDepth over a densely connected graph can't
// still pull in an unbounded number of entities.
const defaultNodeBudget = 500

// GraphTraversal performs a breadth-first walk outward from startID,
// bounded by both maxDepth and maxNodes (0 for either means "use the
// default"), optionally restricted to relations whose Type is in
// edgeTypes (nil or empty means all types). The walk is cycle-safe: each
// entity is visited at most once regardless of how many paths reach it.
func (s *Store) GraphTraversal(ctx context.Context, startID caxton.ID, maxDepth, maxNodes int, edgeTypes []string) (Subgraph, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if maxNodes <= 0 {
		maxNodes = defaultNodeBudget
	}

	allow := make(map[string]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		allow[t] = true
	}
	filterEdge := func(relType string) bool {
		if len(allow) == 0 {
			return true
		}
		return allow[relType]
	}

	var start storage.Entity
	if err := s.db.WithContext(ctx).Preload("Observations").First(&start, "id = ?", startID).Error; err != nil {
		return Subgraph{}, caxton.NewError(caxton.KindInvalidMessage, startID, err, "traversal start entity not found")
	}

	visited := map[caxton.ID]storage.Entity{start.ID: start}
	relSeen := map[caxton.ID]storage.Relation{}
	queue := []caxton.ID{start.ID}

	for depth := 0; depth < maxDepth && len(queue) > 0 && len(visited) < maxNodes; depth++ {
		var next []caxton.ID
		for _, id := range queue {
			var rels []storage.Relation
			if err := s.db.WithContext(ctx).
				Where("from_id = ? OR to_id = ?", id, id).
				Find(&rels).Error; err != nil {
				return Subgraph{}, caxton.NewError(caxton.KindInvalidMessage, id, err, "traversal relation lookup failed")
			}

			for _, rel := range rels {
				if !filterEdge(rel.Type) {
					continue
				}
				relSeen[rel.ID] = rel

				neighbor := rel.ToID
				if neighbor == id {
					neighbor = rel.FromID
				}
				if _, ok := visited[neighbor]; ok {
					continue
				}
				if len(visited) >= maxNodes {
					break
				}

				var ent storage.Entity
				if err := s.db.WithContext(ctx).Preload("Observations").First(&ent, "id = ?", neighbor).Error; err != nil {
					continue
				}
				visited[neighbor] = ent
				next = append(next, neighbor)
			}
		}
		queue = next
	}

	subgraph := Subgraph{
		Entities:  make([]EntityRecord, 0, len(visited)),
		Relations: make([]RelationRecord, 0, len(relSeen)),
	}
	for _, ent := range visited {
		subgraph.Entities = append(subgraph.Entities, toEntityRecord(ent))
	}
	for _, rel := range relSeen {
		// Only surface edges whose both endpoints were actually reached
		// within the depth/node budget, so a filtered-out or budget-cut
		// neighbor doesn't leave a dangling relation in the result.
		if _, ok := visited[rel.FromID]; !ok {
			continue
		}
		if _, ok := visited[rel.ToID]; !ok {
			continue
		}
		subgraph.Relations = append(subgraph.Relations, toRelationRecord(rel))
	}

	return subgraph, nil
}

func toRelationRecord(r storage.Relation) RelationRecord {
	return RelationRecord{
		ID: r.ID, FromID: r.FromID, ToID: r.ToID, Type: r.Type,
		Strength: r.Strength, Confidence: r.Confidence,
		Metadata: decodeMetadata(r.Metadata), CreatedAt: r.CreatedAt,
	}
}
