package memory

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/storage"
)

// CleanupStale evicts entities last updated before now.Add(-maxAge) that
// have no incoming relation and are not currently referenced by an active
// conversation. It returns the number of entities removed.
func (s *Store) CleanupStale(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxAge)

	var candidates []storage.Entity
	if err := s.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Find(&candidates).Error; err != nil {
		return 0, caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, err, "cleanup_stale candidate scan failed")
	}

	// Eligibility is decided for every candidate before any delete, so
	// removing one entity's outgoing relations cannot expose another.
	var eligible []caxton.ID
	for _, ent := range candidates {
		if s.isProtected(ctx, ent.ID) {
			continue
		}
		var incoming int64
		if err := s.db.WithContext(ctx).Model(&storage.Relation{}).Where("to_id = ?", ent.ID).Count(&incoming).Error; err != nil {
			return 0, caxton.NewError(caxton.KindInvalidMessage, ent.ID, err, "cleanup_stale relation check failed")
		}
		if incoming > 0 {
			continue
		}
		eligible = append(eligible, ent.ID)
	}

	removed := 0
	for _, id := range eligible {
		if err := s.deleteEntity(ctx, id); err != nil {
			return removed, err
		}
		removed++
		if s.metrics != nil {
			s.metrics.RecordMemoryEviction("all", "stale")
		}
	}
	return removed, nil
}

// EnforceSoftLimits runs a background LRU-by-last-access eviction pass if
// the entity or relation count, or the estimated storage footprint, has
// crossed the configured soft limit. Entities protected by the
// ActivityOracle are never evicted, even if they are the oldest by
// last-access. It returns the number of entities removed.
func (s *Store) EnforceSoftLimits(ctx context.Context) (int, error) {
	over, reason, err := s.overSoftLimit(ctx)
	if err != nil {
		return 0, err
	}
	if !over {
		return 0, nil
	}

	var lru []storage.Entity
	if err := s.db.WithContext(ctx).Order("last_access ASC").Limit(1000).Find(&lru).Error; err != nil {
		return 0, caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, err, "soft limit eviction scan failed")
	}

	removed := 0
	for _, ent := range lru {
		stillOver, _, err := s.overSoftLimit(ctx)
		if err != nil {
			return removed, err
		}
		if !stillOver {
			break
		}
		if s.isProtected(ctx, ent.ID) {
			continue
		}
		if err := s.deleteEntity(ctx, ent.ID); err != nil {
			return removed, err
		}
		removed++
		if s.metrics != nil {
			s.metrics.RecordMemoryEviction("all", reason)
		}
	}
	return removed, nil
}

func (s *Store) overSoftLimit(ctx context.Context) (bool, string, error) {
	if s.cfg.MaxEntities > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&storage.Entity{}).Count(&count).Error; err != nil {
			return false, "", caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, err, "entity count check failed")
		}
		if count > int64(s.cfg.MaxEntities) {
			return true, "max_entities", nil
		}
	}
	if s.cfg.MaxRelations > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&storage.Relation{}).Count(&count).Error; err != nil {
			return false, "", caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, err, "relation count check failed")
		}
		if count > int64(s.cfg.MaxRelations) {
			return true, "max_relations", nil
		}
	}
	if s.cfg.MaxStorageBytes > 0 {
		var total int64
		if err := s.db.WithContext(ctx).Model(&storage.EmbeddingRow{}).
			Select("COALESCE(SUM(LENGTH(vector)), 0)").Scan(&total).Error; err != nil {
			return false, "", caxton.NewError(caxton.KindInvalidMessage, caxton.Nil, err, "storage size check failed")
		}
		if total > s.cfg.MaxStorageBytes {
			return true, "max_storage_bytes", nil
		}
	}
	return false, "", nil
}

func (s *Store) isProtected(ctx context.Context, id caxton.ID) bool {
	if s.activity == nil {
		return false
	}
	return s.activity.IsReferenced(id)
}

func (s *Store) deleteEntity(ctx context.Context, id caxton.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_id = ?", id).Delete(&storage.Observation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("entity_id = ?", id).Delete(&storage.EmbeddingRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("from_id = ? OR to_id = ?", id, id).Delete(&storage.Relation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&storage.Entity{}, "id = ?", id).Error
	})
}
