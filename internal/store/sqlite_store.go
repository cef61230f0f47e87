package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
)

// SQLiteStore is the SQLite-backed implementation of Storer. It uses
// ncruces/go-sqlite3's pure-Go driver so the module never needs cgo, and
// guards its queries with a context deadline drawn from QueryTimeout so a
// slow disk never hangs the recall path indefinitely. PoolTimeout is kept
// but no separate deadline is applied to acquiring a connection, and
// SchemaVersion and Stats run without a deadline.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB

	poolTimeout  time.Duration
	queryTimeout time.Duration

	queryCount   atomic.Uint64
	queryMicros  atomic.Uint64
	closed       atomic.Bool
}

// Options configures a new SQLiteStore.
type Options struct {
	DSN          string
	MaxOpenConns int
	PoolTimeout  time.Duration
	QueryTimeout time.Duration
}

// DefaultOptions mirrors the defaults the engine's config layer ships.
func DefaultOptions() Options {
	return Options{
		DSN:          ":memory:",
		MaxOpenConns: 10,
		PoolTimeout:  5 * time.Second,
		QueryTimeout: 2 * time.Second,
	}
}

// NewSQLiteStore opens (and, if needed, initializes) a store at the given
// options. Opening a file written by a newer schema version than
// CurrentSchemaVersion fails with ErrSchemaMismatch.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	if opts.DSN == "" {
		opts.DSN = ":memory:"
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.PoolTimeout <= 0 {
		opts.PoolTimeout = 5 * time.Second
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 2 * time.Second
	}

	db, err := sql.Open("sqlite3", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	s := &SQLiteStore{
		db:           db,
		poolTimeout:  opts.PoolTimeout,
		queryTimeout: opts.QueryTimeout,
	}

	if err := s.ensureSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) ensureSchemaVersion() error {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(`INSERT INTO schema_version (id, version) VALUES (1, ?)`, CurrentSchemaVersion)
		return err
	}
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("%w: store is at version %d, binary understands %d", ErrSchemaMismatch, version, CurrentSchemaVersion)
	}
	if version < CurrentSchemaVersion {
		_, err = s.db.Exec(`UPDATE schema_version SET version = ? WHERE id = 1`, CurrentSchemaVersion)
		return err
	}
	return nil
}

// withTimeout produces a context bounded by the store's query timeout,
// used for every single-statement call below.
func (s *SQLiteStore) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.queryTimeout)
}

func (s *SQLiteStore) recordQuery(start time.Time) {
	s.queryCount.Add(1)
	s.queryMicros.Add(uint64(time.Since(start).Microseconds()))
}

// Close closes the underlying connection pool.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// =============================================================================
// Memory CRUD
// =============================================================================

// UpsertMemory looks the memory up by content_hash inside a single
// transaction; an exact-hash hit touches the existing row and returns
// (existing, false, nil) instead of inserting a duplicate.
func (s *SQLiteStore) UpsertMemory(m *Memory) (*Memory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("store: begin upsert: %w", err)
	}
	defer tx.Rollback()

	// content_hash is unique only among non-expired memories: a hash that
	// matches an already-expired row is not a duplicate, it's a fresh fact
	// that happens to restate something that aged out.
	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM memories
		WHERE content_hash = ? AND valid = 1 AND (retention_expires IS NULL OR retention_expires > ?)
		LIMIT 1
	`, m.ContentHash, m.CreatedAt).Scan(&existingID)
	if err == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET last_accessed_at = ?, access_count = access_count + 1 WHERE id = ?`, m.LastAccessedAt, existingID); err != nil {
			return nil, false, fmt.Errorf("store: touch duplicate: %w", err)
		}
		row := tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, existingID)
		existing, getErr := scanMemory(row)
		if getErr != nil {
			return nil, false, fmt.Errorf("store: reload duplicate: %w", getErr)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("store: dedup lookup: %w", err)
	}

	metadataJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, content, memory_type, source_type, confidence, importance, content_hash,
			session_id, metadata, created_at, last_accessed_at, access_count, valid, retention_expires)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, m.ID, m.Content, string(m.MemoryType), string(m.SourceType), m.Confidence, m.Importance, m.ContentHash,
		nullString(m.SessionID), string(metadataJSON), m.CreatedAt, m.LastAccessedAt, m.AccessCount,
		nullInt64(m.RetentionExpires))
	if err != nil {
		return nil, false, fmt.Errorf("store: insert memory: %w", err)
	}

	if m.SessionID != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO belongs_to_session (memory_id, session_id) VALUES (?, ?)
			ON CONFLICT(memory_id, session_id) DO NOTHING
		`, m.ID, m.SessionID); err != nil {
			return nil, false, fmt.Errorf("store: link session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: commit upsert: %w", err)
	}
	m.Valid = true
	return m, true, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func scanMemory(row interface{ Scan(...any) error }) (*Memory, error) {
	var m Memory
	var memoryType, sourceType string
	var sessionID sql.NullString
	var metadataJSON sql.NullString
	var valid int
	var retentionExpires sql.NullInt64

	err := row.Scan(&m.ID, &m.Content, &memoryType, &sourceType, &m.Confidence, &m.Importance, &m.ContentHash,
		&sessionID, &metadataJSON, &m.CreatedAt, &m.LastAccessedAt, &m.AccessCount, &valid, &retentionExpires)
	if err != nil {
		return nil, err
	}

	m.MemoryType = MemoryType(memoryType)
	m.SourceType = SourceType(sourceType)
	m.Valid = valid != 0
	if sessionID.Valid {
		m.SessionID = sessionID.String
	}
	if retentionExpires.Valid {
		m.RetentionExpires = retentionExpires.Int64
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
		}
	}
	return &m, nil
}

const memoryColumns = `id, content, memory_type, source_type, confidence, importance, content_hash,
	session_id, metadata, created_at, last_accessed_at, access_count, valid, retention_expires`

// GetMemory retrieves a memory by ID, or ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetMemory(id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMemory marks a memory invalid rather than physically removing it,
// so historical access counts stay intact for diagnostics.
func (s *SQLiteStore) DeleteMemory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET valid = 0 WHERE id = ?`, id)
	return err
}

// Touch records that a memory was just recalled, bumping its access count
// and last_accessed_at for diagnostics and the ranker's access-frequency
// term. It never affects decay, which is measured from created_at.
func (s *SQLiteStore) Touch(id string, accessedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET last_accessed_at = ?, access_count = access_count + 1 WHERE id = ?
	`, accessedAt, id)
	return err
}

// QueryCandidates returns the raw candidate set for a recall request,
// before decay/ranking is applied.
func (s *SQLiteStore) QueryCandidates(opts QueryOptions) ([]*RecallCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	// The active-memory predicate is evaluated live against the caller's
	// clock, not against the "valid" flag alone: a memory whose
	// retention_expires has passed must stop being a recall candidate the
	// instant that happens, not only once a periodic RetentionSweep has
	// caught up to it.
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE valid = 1 AND (retention_expires IS NULL OR retention_expires > ?)`
	args := []any{opts.now()}

	if opts.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, opts.SessionID)
	}
	if opts.Since > 0 {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since)
	}
	if len(opts.MemoryTypes) > 0 {
		query += ` AND memory_type IN (` + placeholders(len(opts.MemoryTypes)) + `)`
		for _, t := range opts.MemoryTypes {
			args = append(args, string(t))
		}
	}
	if opts.ImportanceFloor > 0 {
		query += ` AND importance >= ?`
		args = append(args, opts.ImportanceFloor)
	}
	if len(opts.EntityNames) > 0 {
		names := make([]any, len(opts.EntityNames))
		for i, n := range opts.EntityNames {
			names[i] = strings.ToLower(n)
		}
		query += ` AND id IN (
			SELECT mentions.memory_id FROM mentions
			JOIN entities ON entities.id = mentions.entity_id
			WHERE LOWER(entities.name) IN (` + placeholders(len(names)) + `)
		)`
		args = append(args, names...)
	}
	if len(opts.Keywords) > 0 {
		clauses := make([]string, len(opts.Keywords))
		for i, kw := range opts.Keywords {
			clauses[i] = `content LIKE ? ESCAPE '\'`
			args = append(args, "%"+likeEscape(kw)+"%")
		}
		query += ` AND (` + strings.Join(clauses, " OR ") + `)`
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query candidates: %w", err)
	}
	defer rows.Close()

	var out []*RecallCandidate
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, &RecallCandidate{Memory: m})
	}
	return out, rows.Err()
}

// likeEscape escapes SQLite LIKE metacharacters in a caller-supplied
// keyword, so a word containing '%' or '_' matches itself literally
// rather than as a wildcard.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func placeholders(n int) string {
	b := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

// CountMemories returns the number of currently-valid memories.
func (s *SQLiteStore) CountMemories() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories WHERE valid = 1 AND (retention_expires IS NULL OR retention_expires > ?)
	`, time.Now().UnixMilli()).Scan(&count)
	return count, err
}

// CountExpiredPending reports how many memories have passed their
// retention_expires but have not yet been physically removed by
// RetentionSweep, for the diagnostics snapshot.
func (s *SQLiteStore) CountExpiredPending(now int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories WHERE retention_expires IS NOT NULL AND retention_expires <= ?
	`, now).Scan(&count)
	return count, err
}

// retentionSweepBatchSize bounds how many expired memories RetentionSweep
// deletes per call, so a project with a large expired backlog doesn't hold
// the store's write lock for one unbounded transaction.
const retentionSweepBatchSize = 500

// RetentionSweep physically deletes memories whose retention_expires has
// passed now, up to retentionSweepBatchSize rows per call, returning the
// number deleted. A memory with a nil retention_expires (valid_to IS NULL)
// never matches the WHERE clause below and so can never be swept, by
// construction rather than by a defensive check. Deleting a memory also
// removes its mentions and session link, since both are edges that only
// make sense while the memory they point from still exists.
func (s *SQLiteStore) RetentionSweep(now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin retention sweep: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE retention_expires IS NOT NULL AND retention_expires <= ?
		LIMIT ?
	`, now, retentionSweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("store: select expired memories: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: scan expired memory id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mentions WHERE memory_id = ?`, id); err != nil {
			return 0, fmt.Errorf("store: delete mentions for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM belongs_to_session WHERE memory_id = ?`, id); err != nil {
			return 0, fmt.Errorf("store: delete session link for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("store: delete memory %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit retention sweep: %w", err)
	}
	return len(ids), nil
}

// =============================================================================
// Entity CRUD
// =============================================================================

// UpsertEntity inserts or merges an entity, bumping mention_count and
// last_seen_at on conflict — the same ON CONFLICT ... DO UPDATE idiom the
// store uses everywhere else.
func (s *SQLiteStore) UpsertEntity(e *Entity) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	aliasesJSON, err := json.Marshal(e.Aliases)
	if err != nil {
		return nil, fmt.Errorf("store: marshal aliases: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, entity_type, aliases, first_seen_at, last_seen_at, mention_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			aliases = excluded.aliases,
			last_seen_at = excluded.last_seen_at,
			mention_count = entities.mention_count + excluded.mention_count
	`, e.ID, e.Name, string(e.EntityType), string(aliasesJSON), e.FirstSeenAt, e.LastSeenAt, e.MentionCnt)
	if err != nil {
		return nil, fmt.Errorf("store: upsert entity: %w", err)
	}
	return s.getEntityLocked(ctx, e.ID)
}

func (s *SQLiteStore) getEntityLocked(ctx context.Context, id string) (*Entity, error) {
	var e Entity
	var entityType, aliasesJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_type, aliases, first_seen_at, last_seen_at, mention_count
		FROM entities WHERE id = ?
	`, id).Scan(&e.ID, &e.Name, &entityType, &aliasesJSON, &e.FirstSeenAt, &e.LastSeenAt, &e.MentionCnt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.EntityType = EntityType(entityType)
	json.Unmarshal([]byte(aliasesJSON), &e.Aliases)
	return &e, nil
}

// GetEntity retrieves an entity by ID.
func (s *SQLiteStore) GetEntity(id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())
	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	return s.getEntityLocked(ctx, id)
}

// GetEntityByName finds an entity by its canonical name, case-insensitively.
func (s *SQLiteStore) GetEntityByName(name string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	var e Entity
	var entityType, aliasesJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_type, aliases, first_seen_at, last_seen_at, mention_count
		FROM entities WHERE LOWER(name) = LOWER(?)
	`, name).Scan(&e.ID, &e.Name, &entityType, &aliasesJSON, &e.FirstSeenAt, &e.LastSeenAt, &e.MentionCnt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.EntityType = EntityType(entityType)
	json.Unmarshal([]byte(aliasesJSON), &e.Aliases)
	return &e, nil
}

// ListEntities returns all entities, optionally filtered by type.
func (s *SQLiteStore) ListEntities(entityType EntityType) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	var rows *sql.Rows
	var err error
	if entityType != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, name, entity_type, aliases, first_seen_at, last_seen_at, mention_count
			FROM entities WHERE entity_type = ? ORDER BY name
		`, string(entityType))
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, name, entity_type, aliases, first_seen_at, last_seen_at, mention_count
			FROM entities ORDER BY name
		`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		var e Entity
		var et, aliasesJSON string
		if err := rows.Scan(&e.ID, &e.Name, &et, &aliasesJSON, &e.FirstSeenAt, &e.LastSeenAt, &e.MentionCnt); err != nil {
			return nil, err
		}
		e.EntityType = EntityType(et)
		json.Unmarshal([]byte(aliasesJSON), &e.Aliases)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountEntities returns the total number of registered entities.
func (s *SQLiteStore) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())
	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&count)
	return count, err
}

// =============================================================================
// Mentions, relations, co-occurrence
// =============================================================================

// AddMention records that a memory's content mentions an entity at a given
// byte range.
func (s *SQLiteStore) AddMention(m *Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mentions (memory_id, entity_id, start_byte, end_byte, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, entity_id, start_byte) DO UPDATE SET
			end_byte = excluded.end_byte, confidence = excluded.confidence
	`, m.MemoryID, m.EntityID, m.StartByte, m.EndByte, m.Confidence)
	return err
}

// UpsertRelation inserts or refreshes a directed relationship between two
// entities. relationship_type is stored verbatim and never interpreted.
func (s *SQLiteStore) UpsertRelation(r *RelatesTo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relates_to (id, source_entity_id, target_entity_id, relationship_type, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence = excluded.confidence
	`, r.ID, r.SourceEntityID, r.TargetEntityID, r.RelationshipType, r.Confidence, r.CreatedAt)
	return err
}

// RecordCoOccurrence bumps the co-occurrence counter for an unordered pair
// of entities seen together in the same memory. The pair is stored with
// the lexicographically smaller ID first so a(b) and b(a) hit one row.
func (s *SQLiteStore) RecordCoOccurrence(entityAID, entityBID string, seenAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	if entityBID < entityAID {
		entityAID, entityBID = entityBID, entityAID
	}

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO co_occurs_with (entity_a_id, entity_b_id, count, last_seen)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(entity_a_id, entity_b_id) DO UPDATE SET
			count = co_occurs_with.count + 1,
			last_seen = excluded.last_seen
	`, entityAID, entityBID, seenAt)
	return err
}

// ListRelationsForEntity returns every relationship touching the given
// entity, as either source or target.
func (s *SQLiteStore) ListRelationsForEntity(entityID string) ([]*RelatesTo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_entity_id, target_entity_id, relationship_type, confidence, created_at
		FROM relates_to WHERE source_entity_id = ? OR target_entity_id = ?
	`, entityID, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RelatesTo
	for rows.Next() {
		var r RelatesTo
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationshipType, &r.Confidence, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// =============================================================================
// Sessions
// =============================================================================

// UpsertSession inserts or refreshes a session's activity timestamp.
func (s *SQLiteStore) UpsertSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, last_activity_at, ended_at, project_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_activity_at = excluded.last_activity_at,
			ended_at = excluded.ended_at
	`, sess.ID, sess.StartedAt, sess.LastActivityAt, nullInt64(sess.EndedAt), nullString(sess.ProjectPath))
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	var sess Session
	var endedAt sql.NullInt64
	var projectPath sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, last_activity_at, ended_at, project_path FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.StartedAt, &sess.LastActivityAt, &endedAt, &projectPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = endedAt.Int64
	}
	if projectPath.Valid {
		sess.ProjectPath = projectPath.String
	}
	return &sess, nil
}

// GetProjectLastActivity returns the most recent last_activity_at across
// all sessions for a project, the anchor the decay stage measures memory
// age against.
func (s *SQLiteStore) GetProjectLastActivity(projectPath string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.recordQuery(time.Now())

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(last_activity_at) FROM sessions WHERE project_path = ?
	`, projectPath).Scan(&last)
	if err != nil {
		return 0, err
	}
	return last.Int64, nil
}

// LinkMemoryToSession records that a memory belongs to a session.
func (s *SQLiteStore) LinkMemoryToSession(memoryID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recordQuery(time.Now())
	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO belongs_to_session (memory_id, session_id) VALUES (?, ?)
		ON CONFLICT(memory_id, session_id) DO NOTHING
	`, memoryID, sessionID)
	return err
}

// =============================================================================
// Maintenance
// =============================================================================

// SchemaVersion returns the store's current schema version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	return version, err
}

// Stats returns the store-level statistics that Engine.Snapshot() reports
// as Diagnostics.Store.
func (s *SQLiteStore) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE valid = 1`).Scan(&st.MemoryCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&st.EntityCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM relates_to`).Scan(&st.RelationCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT version FROM schema_version WHERE id = 1`).Scan(&st.SchemaVersion); err != nil {
		return st, err
	}

	count := s.queryCount.Load()
	st.QueryCount = count
	if count > 0 {
		st.AvgQueryMicros = float64(s.queryMicros.Load()) / float64(count)
	}
	st.OpenConnections = s.db.Stats().OpenConnections
	return st, nil
}

type exportData struct {
	Memories      []*Memory          `json:"memories"`
	Entities      []*Entity          `json:"entities"`
	Sessions      []*Session         `json:"sessions"`
	Mentions      []*Mention         `json:"mentions"`
	Relations     []*RelatesTo       `json:"relations"`
	CoOccurrences []*CoOccursWith    `json:"coOccurrences"`
	SchemaVersion int                `json:"schemaVersion"`
}

// Export serializes the entire store to a single JSON document, the
// on-disk backup/sync format.
func (s *SQLiteStore) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	var data exportData

	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("export memories: %w", err)
	}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		data.Memories = append(data.Memories, m)
	}
	rows.Close()

	eRows, err := s.db.QueryContext(ctx, `SELECT id, name, entity_type, aliases, first_seen_at, last_seen_at, mention_count FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("export entities: %w", err)
	}
	for eRows.Next() {
		var e Entity
		var et, aliasesJSON string
		if err := eRows.Scan(&e.ID, &e.Name, &et, &aliasesJSON, &e.FirstSeenAt, &e.LastSeenAt, &e.MentionCnt); err != nil {
			eRows.Close()
			return nil, err
		}
		e.EntityType = EntityType(et)
		json.Unmarshal([]byte(aliasesJSON), &e.Aliases)
		data.Entities = append(data.Entities, &e)
	}
	eRows.Close()

	sRows, err := s.db.QueryContext(ctx, `SELECT id, started_at, last_activity_at, ended_at, project_path FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("export sessions: %w", err)
	}
	for sRows.Next() {
		var sess Session
		var endedAt sql.NullInt64
		var projectPath sql.NullString
		if err := sRows.Scan(&sess.ID, &sess.StartedAt, &sess.LastActivityAt, &endedAt, &projectPath); err != nil {
			sRows.Close()
			return nil, err
		}
		if endedAt.Valid {
			sess.EndedAt = endedAt.Int64
		}
		if projectPath.Valid {
			sess.ProjectPath = projectPath.String
		}
		data.Sessions = append(data.Sessions, &sess)
	}
	sRows.Close()

	mRows, err := s.db.QueryContext(ctx, `SELECT memory_id, entity_id, start_byte, end_byte, confidence FROM mentions`)
	if err != nil {
		return nil, fmt.Errorf("export mentions: %w", err)
	}
	for mRows.Next() {
		var m Mention
		if err := mRows.Scan(&m.MemoryID, &m.EntityID, &m.StartByte, &m.EndByte, &m.Confidence); err != nil {
			mRows.Close()
			return nil, err
		}
		data.Mentions = append(data.Mentions, &m)
	}
	mRows.Close()

	rRows, err := s.db.QueryContext(ctx, `SELECT id, source_entity_id, target_entity_id, relationship_type, confidence, created_at FROM relates_to`)
	if err != nil {
		return nil, fmt.Errorf("export relations: %w", err)
	}
	for rRows.Next() {
		var r RelatesTo
		if err := rRows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationshipType, &r.Confidence, &r.CreatedAt); err != nil {
			rRows.Close()
			return nil, err
		}
		data.Relations = append(data.Relations, &r)
	}
	rRows.Close()

	cRows, err := s.db.QueryContext(ctx, `SELECT entity_a_id, entity_b_id, count, last_seen FROM co_occurs_with`)
	if err != nil {
		return nil, fmt.Errorf("export co-occurrences: %w", err)
	}
	for cRows.Next() {
		var c CoOccursWith
		if err := cRows.Scan(&c.EntityAID, &c.EntityBID, &c.Count, &c.LastSeen); err != nil {
			cRows.Close()
			return nil, err
		}
		data.CoOccurrences = append(data.CoOccurrences, &c)
	}
	cRows.Close()

	data.SchemaVersion = CurrentSchemaVersion
	return json.Marshal(data)
}

// Import replaces the store's contents with a previously exported document.
func (s *SQLiteStore) Import(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(raw) == 0 {
		return nil
	}

	var data exportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("import: unmarshal: %w", err)
	}

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"co_occurs_with", "relates_to", "mentions", "belongs_to_session", "memories", "entities", "sessions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("import: clear %s: %w", table, err)
		}
	}

	for _, m := range data.Memories {
		rewriteLegacyMemoryType(m)
		metadataJSON, _ := json.Marshal(m.Metadata)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memories (`+memoryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.Content, string(m.MemoryType), string(m.SourceType), m.Confidence, m.Importance, m.ContentHash,
			nullString(m.SessionID), string(metadataJSON), m.CreatedAt, m.LastAccessedAt, m.AccessCount,
			boolToInt(m.Valid), nullInt64(m.RetentionExpires)); err != nil {
			return fmt.Errorf("import memory %s: %w", m.ID, err)
		}
	}

	for _, e := range data.Entities {
		aliasesJSON, _ := json.Marshal(e.Aliases)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, name, entity_type, aliases, first_seen_at, last_seen_at, mention_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.Name, string(e.EntityType), string(aliasesJSON), e.FirstSeenAt, e.LastSeenAt, e.MentionCnt); err != nil {
			return fmt.Errorf("import entity %s: %w", e.ID, err)
		}
	}

	for _, sess := range data.Sessions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, started_at, last_activity_at, ended_at, project_path)
			VALUES (?, ?, ?, ?, ?)
		`, sess.ID, sess.StartedAt, sess.LastActivityAt, nullInt64(sess.EndedAt), nullString(sess.ProjectPath)); err != nil {
			return fmt.Errorf("import session %s: %w", sess.ID, err)
		}
	}

	for _, m := range data.Mentions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mentions (memory_id, entity_id, start_byte, end_byte, confidence) VALUES (?, ?, ?, ?, ?)
		`, m.MemoryID, m.EntityID, m.StartByte, m.EndByte, m.Confidence); err != nil {
			return fmt.Errorf("import mention: %w", err)
		}
	}

	for _, r := range data.Relations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relates_to (id, source_entity_id, target_entity_id, relationship_type, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, r.SourceEntityID, r.TargetEntityID, r.RelationshipType, r.Confidence, r.CreatedAt); err != nil {
			return fmt.Errorf("import relation %s: %w", r.ID, err)
		}
	}

	for _, c := range data.CoOccurrences {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO co_occurs_with (entity_a_id, entity_b_id, count, last_seen) VALUES (?, ?, ?, ?)
		`, c.EntityAID, c.EntityBID, c.Count, c.LastSeen); err != nil {
			return fmt.Errorf("import co-occurrence: %w", err)
		}
	}

	for _, m := range data.Memories {
		if m.SessionID != "" {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO belongs_to_session (memory_id, session_id) VALUES (?, ?)
				ON CONFLICT(memory_id, session_id) DO NOTHING
			`, m.ID, m.SessionID); err != nil {
				return fmt.Errorf("import session link %s: %w", m.ID, err)
			}
		}
	}

	return tx.Commit()
}

// legacyMemoryTypeAliases maps memory_type spellings from older exports
// onto the six cognitive types this schema version uses. Only consulted at
// the import/migration edge, never in the recall path. Other writes are
// not rewritten: the memory_type column has no constraint, so a legacy
// type written directly is stored as given.
var legacyMemoryTypeAliases = map[string]MemoryType{
	"identity": MemoryTypeSemantic,
	"decision": MemoryTypeEpisodic,
	"pattern":  MemoryTypeProcedural,
	"solution": MemoryTypeProcedural,
	"status":   MemoryTypeWorking,
	"context":  MemoryTypeEpisodic,
}

func rewriteLegacyMemoryType(m *Memory) {
	if alias, ok := legacyMemoryTypeAliases[string(m.MemoryType)]; ok {
		m.MemoryType = alias
	}
}

var _ Storer = (*SQLiteStore)(nil)
