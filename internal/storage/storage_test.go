package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caxton-io/caxton/internal/caxton"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("file::memory:?cache=shared", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestEntity(name, typ string) *Entity {
	now := time.Now()
	return &Entity{
		ID:         caxton.NewID(),
		Scope:      "agent",
		ScopeKey:   caxton.NewID(),
		Name:       name,
		Type:       typ,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastAccess: now,
	}
}

func TestOpenAndAutoMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)

	entity := newTestEntity("alice", "person")
	require.NoError(t, db.Create(entity).Error)

	var got Entity
	require.NoError(t, db.First(&got, "id = ?", entity.ID).Error)
	require.Equal(t, "alice", got.Name)
}

func TestEntityObservationsLoadByForeignKey(t *testing.T) {
	db := openTestDB(t)

	entity := newTestEntity("project-x", "project")
	require.NoError(t, db.Create(entity).Error)

	obs := &Observation{
		ID:        caxton.NewID(),
		EntityID:  entity.ID,
		Text:      "kicked off last week",
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(obs).Error)

	var reloaded Entity
	require.NoError(t, db.Preload("Observations").First(&reloaded, "id = ?", entity.ID).Error)
	require.Len(t, reloaded.Observations, 1)
	require.Equal(t, "kicked off last week", reloaded.Observations[0].Text)
}

func TestRelationReferencesBothEntities(t *testing.T) {
	db := openTestDB(t)

	from := newTestEntity("alice", "person")
	to := newTestEntity("project-x", "project")
	require.NoError(t, db.Create(from).Error)
	require.NoError(t, db.Create(to).Error)

	rel := &Relation{
		ID:         caxton.NewID(),
		FromID:     from.ID,
		ToID:       to.ID,
		Type:       "works_on",
		Strength:   0.8,
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, db.Create(rel).Error)

	var count int64
	require.NoError(t, db.Model(&Relation{}).Where("from_id = ? AND to_id = ?", from.ID, to.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestPoolManagerPingAndStats(t *testing.T) {
	db := openTestDB(t)
	pm, err := NewPoolManager(db, PoolConfig{
		MaxIdleConns:    2,
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pm.Close() })

	require.NoError(t, pm.Ping(context.Background()))
	stats := pm.GetStats()
	require.GreaterOrEqual(t, stats.MaxOpenConnections, 1)
}

func TestPoolManagerWithTransactionCommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)
	pm, err := NewPoolManager(db, DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pm.Close() })

	entity := newTestEntity("tx-entity", "t")
	err = pm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(entity).Error
	})
	require.NoError(t, err)

	var got Entity
	require.NoError(t, db.First(&got, "id = ?", entity.ID).Error)
}

func TestPoolManagerWithTransactionRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	pm, err := NewPoolManager(db, DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pm.Close() })

	entity := newTestEntity("rolled-back", "t")
	sentinel := errors.New("boom")
	err = pm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		if createErr := tx.Create(entity).Error; createErr != nil {
			return createErr
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int64
	require.NoError(t, db.Model(&Entity{}).Where("id = ?", entity.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestPoolManagerClosedRejectsNewWork(t *testing.T) {
	db := openTestDB(t)
	pm, err := NewPoolManager(db, DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, pm.Close())
	require.Error(t, pm.Ping(context.Background()))
}

func TestIsRetryableErrorRecognizesTransientFailures(t *testing.T) {
	cases := map[string]bool{
		"database is locked":          true,
		"driver: bad connection":      true,
		"serialization failure 40001": true,
		"connection refused":         true,
		"syntax error near SELECT":    false,
	}
	for msg, want := range cases {
		require.Equal(t, want, isRetryableError(errors.New(msg)), msg)
	}
}

func TestParseDatabaseTypeAcceptsAliases(t *testing.T) {
	dt, err := ParseDatabaseType("sqlite3")
	require.NoError(t, err)
	require.Equal(t, DatabaseTypeSQLite, dt)

	_, err = ParseDatabaseType("oracle")
	require.Error(t, err)
}
