// Package memory implements the Memory Subsystem (C4): host-callable
// entity/relation storage, semantic search over deterministic embeddings,
// breadth-first graph traversal, and scope-aware eviction, on top of the
// embedded transactional store in internal/storage.
//
// Layered consolidation and decay are grounded on the teacher's
// agent/memory/layered_memory.go and agent/memory/intelligent_decay.go:
// the composite recency/relevance/utility scoring idea there is narrowed
// here to the spec's simpler LRU-by-last-access eviction policy plus an
// explicit textual-distance gate on re-embedding.
package memory

import (
	"context"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
)

// Scope is the visibility boundary every memory operation is tagged with.
type Scope string

const (
	ScopeAgent     Scope = "agent"
	ScopeWorkspace Scope = "workspace"
	ScopeGlobal    Scope = "global"
)

// Valid reports whether s is one of the three recognized scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAgent, ScopeWorkspace, ScopeGlobal:
		return true
	default:
		return false
	}
}

// EntityRecord is the host-visible view of a stored entity: enough to
// answer store/search/traversal calls without exposing storage-layer
// column types.
type EntityRecord struct {
	ID           caxton.ID
	Scope        Scope
	ScopeKey     caxton.ID
	Name         string
	Type         string
	Version      int
	Observations []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccess   time.Time
}

// RelationRecord is the host-visible view of a stored relation.
type RelationRecord struct {
	ID         caxton.ID
	FromID     caxton.ID
	ToID       caxton.ID
	Type       string
	Strength   float64
	Confidence float64
	Metadata   map[string]string
	CreatedAt  time.Time
}

// SearchFilter narrows a semantic_search call to a type, scope, and/or
// validity window.
type SearchFilter struct {
	Type         string
	Scope        Scope
	ScopeKey     caxton.ID
	ValidAfter   *time.Time
	ValidBefore  *time.Time
}

// SearchResult pairs a matched entity with its cosine similarity score.
type SearchResult struct {
	Entity EntityRecord
	Score  float64
}

// Subgraph is the result of a graph_traversal call: the entities and
// relations discovered within the depth/node budget.
type Subgraph struct {
	Entities  []EntityRecord
	Relations []RelationRecord
}

// Config tunes embedding, eviction, and re-embedding behavior.
type Config struct {
	// EmbeddingDimension is the fixed width of stored embeddings.
	EmbeddingDimension int

	// ReembedDistanceThreshold is the normalized Levenshtein distance
	// (0..1) an entity's concatenated observation text must cross,
	// relative to the text its current embedding was computed from,
	// before the embedding is regenerated. Small edits below this
	// threshold are not re-embedded.
	ReembedDistanceThreshold float64

	// MaxEntities, MaxRelations, and MaxStorageBytes are soft limits:
	// crossing any of them triggers a background LRU-by-last-access
	// eviction pass. Zero disables the corresponding check.
	MaxEntities      int
	MaxRelations     int
	MaxStorageBytes  int64

	// HardEntityLimit rejects new store_entity calls with StorageFull
	// once crossed, rather than waiting for the background evictor.
	// Zero disables the hard limit.
	HardEntityLimit int
}

// DefaultConfig returns conservative defaults matching the spec's
// description of soft limits plus a background evictor.
func DefaultConfig() Config {
	return Config{
		EmbeddingDimension:       384,
		ReembedDistanceThreshold: 0.15,
		MaxEntities:              100_000,
		MaxRelations:             500_000,
		MaxStorageBytes:          1 << 30, // 1 GiB
		HardEntityLimit:          150_000,
	}
}

// Embedder computes a deterministic vector for a piece of text.
// internal/memory/embed.Encoder is the only implementation; the
// interface exists so tests can substitute a trivial stub.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// ActivityOracle reports whether an entity is currently referenced by an
// active conversation, so eviction can skip it even past its age/LRU
// threshold. The composition root wires this to the router's live
// conversation state; a nil ActivityOracle means nothing is protected
// this way.
type ActivityOracle interface {
	IsReferenced(entityID caxton.ID) bool
}
