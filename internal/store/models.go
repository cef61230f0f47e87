// Package store provides the SQLite-backed persistence layer for the memory
// engine. It models memories, entities, sessions and the relationships
// between them as a property graph, using the same temporal-versioning and
// upsert idioms the rest of this codebase's storage layer was built on.
package store

import "time"

func nowMillis() int64 { return time.Now().UnixMilli() }

// MemoryType categorizes the kind of content a memory holds, using the six
// cognitive types this system standardizes on. Older spellings (identity,
// decision, pattern, solution, status, context) are accepted only at the
// Import boundary and rewritten to one of these six; nothing in the live
// write or recall path ever produces or expects a legacy spelling.
type MemoryType string

const (
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeWorking    MemoryType = "working"
	MemoryTypeSensory    MemoryType = "sensory"
)

// SourceType records where a memory was observed.
type SourceType string

const (
	SourceTypeConversation SourceType = "conversation"
	SourceTypeCodeComment  SourceType = "code_comment"
	SourceTypeCommitMsg    SourceType = "commit_message"
	SourceTypeDocument     SourceType = "document"
	SourceTypeManual       SourceType = "manual"
)

// EntityType categorizes a recognized entity.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeTechnology   EntityType = "technology"
	EntityTypeProject      EntityType = "project"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeFile         EntityType = "file"
	EntityTypeConcept      EntityType = "concept"
)

// Memory is a single extracted fact, decision, preference or observation.
type Memory struct {
	ID               string            `json:"id"`
	Content          string            `json:"content"`
	MemoryType       MemoryType        `json:"memoryType"`
	SourceType       SourceType        `json:"sourceType"`
	Confidence       float64           `json:"confidence"`
	Importance       float64           `json:"importance"`
	ContentHash      uint64            `json:"contentHash"`
	SessionID        string            `json:"sessionId,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        int64             `json:"createdAt"`
	LastAccessedAt   int64             `json:"lastAccessedAt"`
	AccessCount      int               `json:"accessCount"`
	Valid            bool              `json:"valid"`
	Truncated        bool              `json:"truncated,omitempty"`
	RetentionExpires int64             `json:"retentionExpires,omitempty"`
}

// Entity is a registered named thing (person, technology, project, ...)
// mentioned by one or more memories.
type Entity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	EntityType  EntityType `json:"entityType"`
	Aliases     []string   `json:"aliases,omitempty"`
	FirstSeenAt int64      `json:"firstSeenAt"`
	LastSeenAt  int64      `json:"lastSeenAt"`
	MentionCnt  int        `json:"mentionCount"`
}

// Session groups memories produced during one continuous period of activity.
type Session struct {
	ID             string `json:"id"`
	StartedAt      int64  `json:"startedAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
	EndedAt        int64  `json:"endedAt,omitempty"`
	ProjectPath    string `json:"projectPath,omitempty"`
}

// Mention links a memory to an entity it refers to, with the byte offsets
// where the mention was found in the memory's content.
type Mention struct {
	MemoryID   string `json:"memoryId"`
	EntityID   string `json:"entityId"`
	StartByte  int    `json:"startByte"`
	EndByte    int    `json:"endByte"`
	Confidence float64 `json:"confidence"`
}

// RelatesTo records a directed relationship between two entities. The
// relationship_type string is opaque to the engine: nothing in the recall
// path branches on its value, it is carried through purely for downstream
// consumers.
type RelatesTo struct {
	ID               string  `json:"id"`
	SourceEntityID   string  `json:"sourceEntityId"`
	TargetEntityID   string  `json:"targetEntityId"`
	RelationshipType string  `json:"relationshipType"`
	Confidence       float64 `json:"confidence"`
	CreatedAt        int64   `json:"createdAt"`
}

// CoOccursWith tracks how often two entities have appeared together in the
// same memory. Recall does not read these counts; the ranker's
// co-occurrence input comes from RecallCandidate.SessionBoost.
type CoOccursWith struct {
	EntityAID string `json:"entityAId"`
	EntityBID string `json:"entityBId"`
	Count     int    `json:"count"`
	LastSeen  int64  `json:"lastSeen"`
}

// BelongsToSession links a memory to the session it was captured in.
type BelongsToSession struct {
	MemoryID  string `json:"memoryId"`
	SessionID string `json:"sessionId"`
}

// CurrentSchemaVersion is the schema version this binary understands.
// Opening a store written by a newer version is refused; opening one
// written by an older version triggers an in-place migration.
const CurrentSchemaVersion = 1

// RecallCandidate is one memory returned by QueryCandidates before
// scoring. QueryCandidates fills only Memory; Entities, AgeSeconds and
// SessionBoost are left at their zero values.
type RecallCandidate struct {
	Memory      *Memory
	Entities    []*Entity
	AgeSeconds  float64
	SessionBoost float64
}

// Storer defines the persistence contract used by the memory engine. The
// only production implementation is SQLiteStore, backed by a pure-Go SQLite
// engine so the whole module stays free of cgo.
type Storer interface {
	// Memories
	UpsertMemory(m *Memory) (*Memory, bool, error)
	GetMemory(id string) (*Memory, error)
	DeleteMemory(id string) error
	Touch(id string, accessedAt int64) error
	QueryCandidates(opts QueryOptions) ([]*RecallCandidate, error)
	CountMemories() (int, error)
	CountExpiredPending(now int64) (int, error)
	RetentionSweep(now int64) (int, error)

	// Entities
	UpsertEntity(e *Entity) (*Entity, error)
	GetEntity(id string) (*Entity, error)
	GetEntityByName(name string) (*Entity, error)
	ListEntities(entityType EntityType) ([]*Entity, error)
	CountEntities() (int, error)

	// Mentions / relations
	AddMention(m *Mention) error
	UpsertRelation(r *RelatesTo) error
	RecordCoOccurrence(entityAID, entityBID string, seenAt int64) error
	ListRelationsForEntity(entityID string) ([]*RelatesTo, error)

	// Sessions
	UpsertSession(s *Session) error
	GetSession(id string) (*Session, error)
	GetProjectLastActivity(projectPath string) (int64, error)
	LinkMemoryToSession(memoryID, sessionID string) error

	// Maintenance
	SchemaVersion() (int, error)
	Stats() (Stats, error)
	Export() ([]byte, error)
	Import(data []byte) error
	Close() error
}

// QueryOptions filters the candidate set handed to the recall coordinator.
type QueryOptions struct {
	Query           string
	MemoryTypes     []MemoryType
	SessionID       string
	Limit           int
	Since           int64
	ImportanceFloor float64 // 0 means no floor
	Now             int64   // reference clock for the active-memory predicate; 0 means time.Now()

	// EntityNames restricts candidates to memories that mention at least
	// one of these entities (matched case-insensitively), for the recall
	// coordinator's entity strategy. Empty means no entity filter.
	EntityNames []string
	// Keywords restricts candidates to memories whose content contains at
	// least one of these words, for the recall coordinator's full-text
	// strategy. Empty means no keyword filter.
	Keywords []string
}

// now returns the reference time to evaluate the active-memory predicate
// against, defaulting to the wall clock when the caller didn't pin one.
func (o QueryOptions) now() int64 {
	if o.Now > 0 {
		return o.Now
	}
	return nowMillis()
}

// Stats is the read-only diagnostics snapshot the engine exposes.
type Stats struct {
	MemoryCount     int     `json:"memoryCount"`
	EntityCount     int     `json:"entityCount"`
	RelationCount   int     `json:"relationCount"`
	SchemaVersion   int     `json:"schemaVersion"`
	AvgQueryMicros  float64 `json:"avgQueryMicros"`
	QueryCount      uint64  `json:"queryCount"`
	OpenConnections int     `json:"openConnections"`
}
