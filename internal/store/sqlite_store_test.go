package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertMemoryDedupesByContentHash(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	m := &Memory{
		ID: "mem1", Content: "likes tabs", MemoryType: MemoryTypePreference,
		SourceType: SourceTypeConversation, Confidence: 0.9, ContentHash: 42,
		CreatedAt: now, LastAccessedAt: now,
	}
	stored, created, err := s.UpsertMemory(m)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "mem1", stored.ID)

	dup := &Memory{
		ID: "mem2", Content: "likes tabs", MemoryType: MemoryTypePreference,
		SourceType: SourceTypeConversation, Confidence: 0.9, ContentHash: 42,
		CreatedAt: now + 1, LastAccessedAt: now + 1,
	}
	stored2, created2, err := s.UpsertMemory(dup)
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, "mem1", stored2.ID)
	require.Equal(t, 1, stored2.AccessCount)

	count, err := s.CountMemories()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRetentionSweepDeletesExpired(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, _, err := s.UpsertMemory(&Memory{
		ID: "m1", Content: "old", MemoryType: MemoryTypeEpisodic, SourceType: SourceTypeConversation,
		Confidence: 1, ContentHash: 1, CreatedAt: now, LastAccessedAt: now, RetentionExpires: now - 1000,
	})
	require.NoError(t, err)
	_, _, err = s.UpsertMemory(&Memory{
		ID: "m2", Content: "fresh", MemoryType: MemoryTypeSemantic, SourceType: SourceTypeConversation,
		Confidence: 1, ContentHash: 2, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)

	n, err := s.RetentionSweep(now)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	count, err := s.CountMemories()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = s.GetMemory("m1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueryCandidatesExcludesExpiredBeforeSweepRuns(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, _, err := s.UpsertMemory(&Memory{
		ID: "m1", Content: "expired working note", MemoryType: MemoryTypeWorking, SourceType: SourceTypeConversation,
		Confidence: 1, ContentHash: 1, CreatedAt: now, LastAccessedAt: now, RetentionExpires: now - 1,
	})
	require.NoError(t, err)
	_, _, err = s.UpsertMemory(&Memory{
		ID: "m2", Content: "fresh semantic fact", MemoryType: MemoryTypeSemantic, SourceType: SourceTypeConversation,
		Confidence: 1, ContentHash: 2, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)

	// No sweep has run: expired memories must still be invisible to
	// candidate queries immediately, not only after periodic housekeeping.
	candidates, err := s.QueryCandidates(QueryOptions{Now: now})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "m2", candidates[0].Memory.ID)

	count, err := s.CountMemories()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	pending, err := s.CountExpiredPending(now)
	require.NoError(t, err)
	require.Equal(t, 1, pending)
}

func TestUpsertMemoryDoesNotDedupeAgainstExpiredRow(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, created, err := s.UpsertMemory(&Memory{
		ID: "m1", Content: "stale fact", MemoryType: MemoryTypeWorking, SourceType: SourceTypeConversation,
		Confidence: 1, ContentHash: 7, CreatedAt: now - 1000, LastAccessedAt: now - 1000, RetentionExpires: now - 1,
	})
	require.NoError(t, err)
	require.True(t, created)

	stored, created2, err := s.UpsertMemory(&Memory{
		ID: "m2", Content: "stale fact", MemoryType: MemoryTypeWorking, SourceType: SourceTypeConversation,
		Confidence: 1, ContentHash: 7, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)
	require.True(t, created2)
	require.Equal(t, "m2", stored.ID)
}

func TestQueryCandidatesFiltersByEntityName(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, _, err := s.UpsertMemory(&Memory{
		ID: "m1", Content: "uses Postgres for storage", MemoryType: MemoryTypeSemantic,
		SourceType: SourceTypeConversation, Confidence: 0.9, ContentHash: 1, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)
	_, _, err = s.UpsertMemory(&Memory{
		ID: "m2", Content: "deploys with Kubernetes", MemoryType: MemoryTypeSemantic,
		SourceType: SourceTypeConversation, Confidence: 0.9, ContentHash: 2, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)

	_, err = s.UpsertEntity(&Entity{ID: "e1", Name: "Postgres", EntityType: EntityTypeTechnology, FirstSeenAt: now, LastSeenAt: now, MentionCnt: 1})
	require.NoError(t, err)
	require.NoError(t, s.AddMention(&Mention{MemoryID: "m1", EntityID: "e1", StartByte: 5, EndByte: 13, Confidence: 1}))

	candidates, err := s.QueryCandidates(QueryOptions{EntityNames: []string{"postgres"}, Now: now})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "m1", candidates[0].Memory.ID)
}

func TestQueryCandidatesFiltersByKeyword(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, _, err := s.UpsertMemory(&Memory{
		ID: "m1", Content: "decided to deprecate the legacy endpoint", MemoryType: MemoryTypeEpisodic,
		SourceType: SourceTypeConversation, Confidence: 0.9, ContentHash: 1, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)
	_, _, err = s.UpsertMemory(&Memory{
		ID: "m2", Content: "unrelated note about testing", MemoryType: MemoryTypeEpisodic,
		SourceType: SourceTypeConversation, Confidence: 0.9, ContentHash: 2, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)

	candidates, err := s.QueryCandidates(QueryOptions{Keywords: []string{"deprecate"}, Now: now})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "m1", candidates[0].Memory.ID)
}

func TestEntityUpsertMergesMentionCount(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, err := s.UpsertEntity(&Entity{ID: "e1", Name: "Go", EntityType: EntityTypeTechnology, FirstSeenAt: now, LastSeenAt: now, MentionCnt: 1})
	require.NoError(t, err)
	e, err := s.UpsertEntity(&Entity{ID: "e1", Name: "Go", EntityType: EntityTypeTechnology, FirstSeenAt: now, LastSeenAt: now + 10, MentionCnt: 1})
	require.NoError(t, err)
	require.Equal(t, 2, e.MentionCnt)

	byName, err := s.GetEntityByName("go")
	require.NoError(t, err)
	require.Equal(t, "e1", byName.ID)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, _, err := s.UpsertMemory(&Memory{
		ID: "m1", Content: "uses Postgres", MemoryType: MemoryTypeSemantic, SourceType: SourceTypeConversation,
		Confidence: 0.8, ContentHash: 99, CreatedAt: now, LastAccessedAt: now, SessionID: "s1",
	})
	require.NoError(t, err)
	require.NoError(t, s.UpsertSession(&Session{ID: "s1", StartedAt: now, LastActivityAt: now, ProjectPath: "/tmp/proj"}))
	_, err = s.UpsertEntity(&Entity{ID: "e1", Name: "Postgres", EntityType: EntityTypeTechnology, FirstSeenAt: now, LastSeenAt: now, MentionCnt: 1})
	require.NoError(t, err)
	require.NoError(t, s.AddMention(&Mention{MemoryID: "m1", EntityID: "e1", StartByte: 5, EndByte: 13, Confidence: 1}))

	data, err := s.Export()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	s2 := newTestStore(t)
	require.NoError(t, s2.Import(data))

	got, err := s2.GetMemory("m1")
	require.NoError(t, err)
	require.Equal(t, "uses Postgres", got.Content)

	sess, err := s2.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, "/tmp/proj", sess.ProjectPath)
}

func TestSchemaVersionRejectsNewerStore(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, v)

	_, err = s.db.Exec(`UPDATE schema_version SET version = ? WHERE id = 1`, CurrentSchemaVersion+1)
	require.NoError(t, err)
	require.ErrorIs(t, s.ensureSchemaVersion(), ErrSchemaMismatch)
}

func TestQueryCandidatesAppliesImportanceFloor(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, _, err := s.UpsertMemory(&Memory{
		ID: "low", Content: "minor detail", MemoryType: MemoryTypeWorking,
		SourceType: SourceTypeConversation, Confidence: 0.8, Importance: 0.2,
		ContentHash: 1, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)

	_, _, err = s.UpsertMemory(&Memory{
		ID: "high", Content: "core architecture decision", MemoryType: MemoryTypeSemantic,
		SourceType: SourceTypeConversation, Confidence: 0.9, Importance: 0.9,
		ContentHash: 2, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, err)

	candidates, err := s.QueryCandidates(QueryOptions{ImportanceFloor: 0.5})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "high", candidates[0].Memory.ID)
}
