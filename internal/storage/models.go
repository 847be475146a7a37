package storage

import (
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
)

// Entity is a node in the associative memory graph: a named, typed thing an
// agent has formed beliefs about. Observations and an optional embedding
// hang off it by foreign key; Relation rows reference it by FromID/ToID.
type Entity struct {
	ID caxton.ID `gorm:"column:id;type:text;primaryKey"`
	// Scope is "agent", "workspace", or "global"; ScopeKey is the ID the
	// scope is keyed on (the owning agent ID, a workspace group ID, or
	// caxton.Nil for global). Together they form the visibility boundary
	// reads and writes are checked against.
	Scope      string    `gorm:"column:scope;not null;index:idx_entities_scope_key"`
	ScopeKey   caxton.ID `gorm:"column:agent_scope;type:text;not null;index:idx_entities_scope_key"`
	Name       string    `gorm:"column:name;not null"`
	Type       string    `gorm:"column:type;not null"`
	Version    int       `gorm:"column:version;not null;default:1"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null;index"`
	LastAccess time.Time `gorm:"column:last_access;not null;index"`

	Observations []Observation `gorm:"foreignKey:EntityID"`
	Embedding    *EmbeddingRow `gorm:"foreignKey:EntityID"`
}

func (Entity) TableName() string { return "entities" }

// Observation is one freeform note accumulated against an Entity. Writes
// append; they are never edited or merged, so the entity's history is a
// plain append-only log instead of a single mutable blob.
type Observation struct {
	ID        caxton.ID `gorm:"column:id;type:text;primaryKey"`
	EntityID  caxton.ID `gorm:"column:entity_id;type:text;index;not null"`
	Text      string    `gorm:"column:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (Observation) TableName() string { return "observations" }

// Relation is a directed, typed edge between two entities, carrying the
// strength/confidence pair the traversal and decay logic weigh on.
// Metadata is stored as a JSON-encoded string; callers marshal/unmarshal it
// themselves rather than relying on a driver-specific JSON column type,
// since the model must serialize identically across all three backing
// engines the migrations target.
type Relation struct {
	ID         caxton.ID `gorm:"column:id;type:text;primaryKey"`
	FromID     caxton.ID `gorm:"column:from_id;type:text;index;not null"`
	ToID       caxton.ID `gorm:"column:to_id;type:text;index;not null"`
	Type       string    `gorm:"column:type;not null"`
	Strength   float64   `gorm:"column:strength;not null;default:0"`
	Confidence float64   `gorm:"column:confidence;not null;default:0"`
	Metadata   string    `gorm:"column:metadata"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

func (Relation) TableName() string { return "relations" }

// EmbeddingRow holds the deterministic vector for an Entity's accumulated
// observation text, one row per entity. Vector is the little-endian
// float32 encoding of the embedding; SourceText is the exact
// name+observations text the vector was last computed from, kept so a
// later update can measure how far the new text has drifted before
// deciding whether re-embedding is warranted.
type EmbeddingRow struct {
	EntityID   caxton.ID `gorm:"column:entity_id;type:text;primaryKey"`
	Dims       int       `gorm:"column:dims;not null"`
	Vector     []byte    `gorm:"column:vector;not null"`
	SourceText string    `gorm:"column:source_text;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (EmbeddingRow) TableName() string { return "embedding_rows" }

// AllModels lists every model owned by this package, for callers that want
// to run GORM's AutoMigrate as a fallback or for tests that spin up an
// in-memory database without running the golang-migrate SQL files.
func AllModels() []any {
	return []any{&Entity{}, &Observation{}, &Relation{}, &EmbeddingRow{}}
}
