package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/events"
	"github.com/caxton-io/caxton/internal/metrics"
	"github.com/caxton-io/caxton/internal/storage"
)

// Store implements the Memory Subsystem's host-callable operations over
// an embedded transactional store. It owns embedding generation and the
// re-embed distance gate; callers never see storage-layer row types.
type Store struct {
	db       *gorm.DB
	embedder Embedder
	cfg      Config
	activity ActivityOracle
	metrics  *metrics.Collector
	events   *events.Emitter
	logger   *zap.Logger
}

// New constructs a Store. activity may be nil (nothing is protected from
// eviction by conversation reference).
func New(db *gorm.DB, embedder Embedder, cfg Config, activity ActivityOracle, m *metrics.Collector, e *events.Emitter, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EmbeddingDimension <= 0 {
		cfg.EmbeddingDimension = embedder.Dimensions()
	}
	return &Store{
		db:       db,
		embedder: embedder,
		cfg:      cfg,
		activity: activity,
		metrics:  m,
		events:   e,
		logger:   logger.With(zap.String("component", "memory.store")),
	}
}

// StoreEntity creates a new entity, or — if one already exists with the
// same (scope, scopeKey, name, type) — merges the new observations into
// it and bumps its version. It is serialized against concurrent readers
// of the same entity by running inside a single transaction: a reader
// sees either the pre- or post-merge row, never a partial one.
func (s *Store) StoreEntity(ctx context.Context, scope Scope, scopeKey caxton.ID, name, typ string, observations []string, now time.Time) (caxton.ID, error) {
	if !scope.Valid() {
		return caxton.Nil, caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, nil, fmt.Sprintf("invalid scope %q", scope))
	}
	if name == "" || typ == "" {
		return caxton.Nil, caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, nil, "name and type are required")
	}

	if s.cfg.HardEntityLimit > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&storage.Entity{}).Count(&count).Error; err != nil {
			return caxton.Nil, caxton.NewError(caxton.KindStorageFull, caxton.Nil, err, "failed to check entity count")
		}
		if count >= int64(s.cfg.HardEntityLimit) {
			return caxton.Nil, caxton.NewError(caxton.KindStorageFull, caxton.Nil, nil, "hard entity limit reached").WithRetryAfter(time.Minute)
		}
	}

	var entityID caxton.ID
	var sourceText string
	var needsEmbed bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing storage.Entity
		err := tx.Where("scope = ? AND agent_scope = ? AND name = ? AND type = ?", string(scope), scopeKey, name, typ).
			Preload("Observations").Preload("Embedding").
			First(&existing).Error

		switch {
		case err == nil:
			entityID = existing.ID
			existing.Version++
			existing.UpdatedAt = now
			existing.LastAccess = now
			if updErr := tx.Save(&existing).Error; updErr != nil {
				return updErr
			}
			for _, obs := range observations {
				if obs == "" {
					continue
				}
				if createErr := tx.Create(&storage.Observation{
					ID: caxton.NewID(), EntityID: existing.ID, Text: obs, CreatedAt: now,
				}).Error; createErr != nil {
					return createErr
				}
			}

			var texts []string
			for _, o := range existing.Observations {
				texts = append(texts, o.Text)
			}
			texts = append(texts, observations...)
			sourceText = concatenatedText(name, texts)

			prevText := ""
			if existing.Embedding != nil {
				prevText = existing.Embedding.SourceText
			}
			needsEmbed = prevText == "" || normalizedLevenshtein(prevText, sourceText) > s.cfg.ReembedDistanceThreshold
			return nil

		case gormNotFound(err):
			entityID = caxton.NewID()
			created := &storage.Entity{
				ID: entityID, Scope: string(scope), ScopeKey: scopeKey,
				Name: name, Type: typ, Version: 1,
				CreatedAt: now, UpdatedAt: now, LastAccess: now,
			}
			if createErr := tx.Create(created).Error; createErr != nil {
				return createErr
			}
			for _, obs := range observations {
				if obs == "" {
					continue
				}
				if createErr := tx.Create(&storage.Observation{
					ID: caxton.NewID(), EntityID: entityID, Text: obs, CreatedAt: now,
				}).Error; createErr != nil {
					return createErr
				}
			}
			sourceText = concatenatedText(name, observations)
			needsEmbed = true
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return caxton.Nil, caxton.NewError(caxton.KindStorageFull, caxton.Nil, err, "store_entity failed")
	}

	if needsEmbed {
		if embedErr := s.reembed(ctx, entityID, sourceText, now); embedErr != nil {
			s.logger.Error("re-embed failed", zap.String("entity_id", entityID.String()), zap.Error(embedErr))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordMemoryWrite(string(scope), "store_entity")
	}
	if s.events != nil {
		s.events.Emit(events.Record{
			Type:        events.TypeMemoryWrite,
			Correlation: entityID,
			Payload:     map[string]any{"scope": string(scope), "name": name, "type": typ},
		})
	}

	return entityID, nil
}

func (s *Store) reembed(ctx context.Context, entityID caxton.ID, sourceText string, now time.Time) error {
	vec, err := s.embedder.Embed(ctx, sourceText)
	if err != nil {
		return err
	}
	row := storage.EmbeddingRow{
		EntityID:   entityID,
		Dims:       len(vec),
		Vector:     encodeVector(vec),
		SourceText: sourceText,
		UpdatedAt:  now,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// CreateRelation links two existing entities, or — if a relation with the
// same (from, to, type) already exists — merges the new strength/confidence/
// metadata into it and returns its existing ID. It fails with InvalidMessage
// if either endpoint does not exist. Mirrors StoreEntity's upsert-by-tuple
// pattern so that (from, to, type) stays unique and create_relation is
// idempotent.
func (s *Store) CreateRelation(ctx context.Context, fromID, toID caxton.ID, typ string, strength, confidence float64, metadata map[string]string, now time.Time) (caxton.ID, error) {
	if typ == "" {
		return caxton.Nil, caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, nil, "relation type is required")
	}

	var metaJSON string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return caxton.Nil, caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, err, "invalid relation metadata")
		}
		metaJSON = string(b)
	}

	var relID caxton.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&storage.Entity{}).Where("id IN ?", []caxton.ID{fromID, toID}).Count(&count).Error; err != nil {
			return err
		}
		if count != 2 {
			return caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, nil, "relation endpoints must both exist")
		}

		var existing storage.Relation
		err := tx.Where("from_id = ? AND to_id = ? AND type = ?", fromID, toID, typ).First(&existing).Error
		switch {
		case err == nil:
			relID = existing.ID
			existing.Strength = strength
			existing.Confidence = confidence
			if metaJSON != "" {
				existing.Metadata = metaJSON
			}
			return tx.Save(&existing).Error

		case gormNotFound(err):
			relID = caxton.NewID()
			return tx.Create(&storage.Relation{
				ID: relID, FromID: fromID, ToID: toID, Type: typ,
				Strength: strength, Confidence: confidence, Metadata: metaJSON, CreatedAt: now,
			}).Error

		default:
			return err
		}
	})
	if err != nil {
		if cerr, ok := err.(*caxton.Error); ok {
			return caxton.Nil, cerr
		}
		return caxton.Nil, caxton.NewError(caxton.KindInvalidMessage, relID, err, "create_relation failed")
	}

	if s.metrics != nil {
		s.metrics.RecordMemoryWrite("relation", typ)
	}
	return relID, nil
}

func concatenatedText(name string, observations []string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, o := range observations {
		b.WriteByte(' ')
		b.WriteString(o)
	}
	return b.String()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func gormNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}

func decodeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func toEntityRecord(e storage.Entity) EntityRecord {
	obs := make([]string, 0, len(e.Observations))
	for _, o := range e.Observations {
		obs = append(obs, o.Text)
	}
	return EntityRecord{
		ID: e.ID, Scope: Scope(e.Scope), ScopeKey: e.ScopeKey,
		Name: e.Name, Type: e.Type, Version: e.Version,
		Observations: obs, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt, LastAccess: e.LastAccess,
	}
}
