package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/memory/embed"
	"github.com/caxton-io/caxton/internal/storage"
)

var dsnCounter int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsnCounter++
	dsn := fmt.Sprintf("file:memtest%d?mode=memory&cache=shared", dsnCounter)
	db, err := storage.Open(dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := openTestDB(t)
	return New(db, embed.NewEncoder(embed.DefaultDimension), DefaultConfig(), nil, nil, nil, zap.NewNop())
}

type fakeActivity struct {
	referenced map[caxton.ID]bool
}

func (f *fakeActivity) IsReferenced(id caxton.ID) bool {
	return f.referenced[id]
}

func TestStoreEntityCreatesNewEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	id, err := s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "alice", "person", []string{"likes coffee"}, now)
	require.NoError(t, err)
	require.NotEqual(t, caxton.Nil, id)

	var ent storage.Entity
	require.NoError(t, s.db.Preload("Observations").Preload("Embedding").First(&ent, "id = ?", id).Error)
	require.Equal(t, "alice", ent.Name)
	require.Equal(t, 1, ent.Version)
	require.Len(t, ent.Observations, 1)
	require.NotNil(t, ent.Embedding)
}

func TestStoreEntityMergesObservationsAndBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scopeKey := caxton.NewID()
	now := time.Now()

	id1, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "alice", "person", []string{"likes coffee"}, now)
	require.NoError(t, err)

	id2, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "alice", "person", []string{"likes tea"}, now.Add(time.Minute))
	require.NoError(t, err)

	require.Equal(t, id1, id2)

	var ent storage.Entity
	require.NoError(t, s.db.Preload("Observations").First(&ent, "id = ?", id1).Error)
	require.Equal(t, 2, ent.Version)
	require.Len(t, ent.Observations, 2)
}

func TestStoreEntityRejectsInvalidScope(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StoreEntity(context.Background(), Scope("bogus"), caxton.NewID(), "x", "y", nil, time.Now())
	require.Error(t, err)
}

func TestStoreEntityRejectsHardEntityLimit(t *testing.T) {
	s := newTestStore(t)
	s.cfg.HardEntityLimit = 1
	ctx := context.Background()
	now := time.Now()

	_, err := s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "a", "person", nil, now)
	require.NoError(t, err)

	_, err = s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "b", "person", nil, now)
	require.Error(t, err)
	cerr, ok := err.(*caxton.Error)
	require.True(t, ok)
	require.Equal(t, caxton.KindStorageFull, cerr.Kind)
}

func TestCreateRelationFailsWhenEndpointMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	id, err := s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "alice", "person", nil, now)
	require.NoError(t, err)

	_, err = s.CreateRelation(ctx, id, caxton.NewID(), "knows", 1, 1, nil, now)
	require.Error(t, err)
}

func TestCreateRelationSucceedsWithBothEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scopeKey := caxton.NewID()

	a, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "alice", "person", nil, now)
	require.NoError(t, err)
	b, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "bob", "person", nil, now)
	require.NoError(t, err)

	relID, err := s.CreateRelation(ctx, a, b, "knows", 0.8, 0.9, map[string]string{"since": "2024"}, now)
	require.NoError(t, err)
	require.NotEqual(t, caxton.Nil, relID)
}

func TestCreateRelationIsIdempotentOnSameTuple(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scopeKey := caxton.NewID()

	a, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "alice", "person", nil, now)
	require.NoError(t, err)
	b, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "bob", "person", nil, now)
	require.NoError(t, err)

	first, err := s.CreateRelation(ctx, a, b, "knows", 0.5, 0.5, nil, now)
	require.NoError(t, err)

	second, err := s.CreateRelation(ctx, a, b, "knows", 0.9, 0.9, map[string]string{"since": "2024"}, now)
	require.NoError(t, err)

	require.Equal(t, first, second, "repeated create_relation on the same (from, to, type) must return the same id")

	var count int64
	require.NoError(t, s.db.Model(&storage.Relation{}).
		Where("from_id = ? AND to_id = ? AND type = ?", a, b, "knows").
		Count(&count).Error)
	require.Equal(t, int64(1), count, "repeated create_relation must not grow the relation count")
}

func TestSemanticSearchRanksByCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scopeKey := caxton.NewID()

	_, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "alice", "person", []string{"loves espresso and coffee beans"}, now)
	require.NoError(t, err)
	_, err = s.StoreEntity(ctx, ScopeAgent, scopeKey, "bob", "person", []string{"enjoys mountain hiking trips"}, now)
	require.NoError(t, err)

	results, err := s.SemanticSearch(ctx, "coffee beans", 5, SearchFilter{Scope: ScopeAgent, ScopeKey: scopeKey})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "alice", results[0].Entity.Name)
}

func TestSemanticSearchHonorsTypeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scopeKey := caxton.NewID()

	_, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "alice", "person", []string{"coffee"}, now)
	require.NoError(t, err)
	_, err = s.StoreEntity(ctx, ScopeAgent, scopeKey, "acme", "organization", []string{"coffee roastery"}, now)
	require.NoError(t, err)

	results, err := s.SemanticSearch(ctx, "coffee", 5, SearchFilter{Type: "organization"})
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, "organization", r.Entity.Type)
	}
}

func TestGraphTraversalIsBreadthFirstAndCycleSafe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scopeKey := caxton.NewID()

	a, _ := s.StoreEntity(ctx, ScopeAgent, scopeKey, "a", "node", nil, now)
	b, _ := s.StoreEntity(ctx, ScopeAgent, scopeKey, "b", "node", nil, now)
	c, _ := s.StoreEntity(ctx, ScopeAgent, scopeKey, "c", "node", nil, now)

	_, err := s.CreateRelation(ctx, a, b, "link", 1, 1, nil, now)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, b, c, "link", 1, 1, nil, now)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, c, a, "link", 1, 1, nil, now)
	require.NoError(t, err)

	sub, err := s.GraphTraversal(ctx, a, 5, 0, nil)
	require.NoError(t, err)
	require.Len(t, sub.Entities, 3)
	require.Len(t, sub.Relations, 3)
}

func TestGraphTraversalHonorsNodeBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scopeKey := caxton.NewID()

	root, _ := s.StoreEntity(ctx, ScopeAgent, scopeKey, "root", "node", nil, now)
	for i := 0; i < 5; i++ {
		leaf, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, fmt.Sprintf("leaf%d", i), "node", nil, now)
		require.NoError(t, err)
		_, err = s.CreateRelation(ctx, root, leaf, "link", 1, 1, nil, now)
		require.NoError(t, err)
	}

	sub, err := s.GraphTraversal(ctx, root, 2, 3, nil)
	require.NoError(t, err)
	require.LessOrEqual(t, len(sub.Entities), 3)
}

func TestGraphTraversalHonorsEdgeTypeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scopeKey := caxton.NewID()

	a, _ := s.StoreEntity(ctx, ScopeAgent, scopeKey, "a", "node", nil, now)
	b, _ := s.StoreEntity(ctx, ScopeAgent, scopeKey, "b", "node", nil, now)
	c, _ := s.StoreEntity(ctx, ScopeAgent, scopeKey, "c", "node", nil, now)

	_, err := s.CreateRelation(ctx, a, b, "friend", 1, 1, nil, now)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, a, c, "blocks", 1, 1, nil, now)
	require.NoError(t, err)

	sub, err := s.GraphTraversal(ctx, a, 3, 0, []string{"friend"})
	require.NoError(t, err)
	require.Len(t, sub.Entities, 2)
}

func TestCleanupStaleEvictsOldUnreferencedEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	id, err := s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "stale", "person", nil, old)
	require.NoError(t, err)

	removed, err := s.CleanupStale(ctx, 24*time.Hour, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	var count int64
	s.db.Model(&storage.Entity{}).Where("id = ?", id).Count(&count)
	require.Zero(t, count)
}

func TestCleanupStaleSkipsEntitiesWithIncomingRelations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	scopeKey := caxton.NewID()

	a, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "a", "node", nil, old)
	require.NoError(t, err)
	b, err := s.StoreEntity(ctx, ScopeAgent, scopeKey, "b", "node", nil, old)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, a, b, "link", 1, 1, nil, old)
	require.NoError(t, err)

	removed, err := s.CleanupStale(ctx, 24*time.Hour, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	var count int64
	s.db.Model(&storage.Entity{}).Where("id = ?", b).Count(&count)
	require.Equal(t, int64(1), count)
}

func TestCleanupStaleSkipsActivityProtectedEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	id, err := s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "protected", "person", nil, old)
	require.NoError(t, err)

	s.activity = &fakeActivity{referenced: map[caxton.ID]bool{id: true}}

	removed, err := s.CleanupStale(ctx, 24*time.Hour, time.Now())
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestEnforceSoftLimitsEvictsLeastRecentlyAccessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.cfg.MaxEntities = 2

	now := time.Now()
	_, err := s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "old", "person", nil, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "mid", "person", nil, now.Add(-30*time.Minute))
	require.NoError(t, err)
	_, err = s.StoreEntity(ctx, ScopeAgent, caxton.NewID(), "new", "person", nil, now)
	require.NoError(t, err)

	removed, err := s.EnforceSoftLimits(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, 1)

	var count int64
	s.db.Model(&storage.Entity{}).Count(&count)
	require.LessOrEqual(t, count, int64(2))
}
