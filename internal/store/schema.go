package store

// schema defines the tables backing the memory graph. Memories, entities
// and sessions are the three node kinds; mentions, relates_to,
// co_occurs_with and belongs_to_session are the edge tables joining them.
const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    memory_type TEXT NOT NULL,
    source_type TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    importance REAL NOT NULL DEFAULT 0.5,
    content_hash INTEGER NOT NULL,
    session_id TEXT,
    metadata TEXT,
    created_at INTEGER NOT NULL,
    last_accessed_at INTEGER NOT NULL,
    access_count INTEGER NOT NULL DEFAULT 0,
    valid INTEGER NOT NULL DEFAULT 1,
    retention_expires INTEGER
);

CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(content_hash) WHERE valid = 1;
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type) WHERE valid = 1;
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id) WHERE valid = 1;
CREATE INDEX IF NOT EXISTS idx_memories_retention ON memories(retention_expires) WHERE valid = 1;

CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    aliases TEXT,
    first_seen_at INTEGER NOT NULL,
    last_seen_at INTEGER NOT NULL,
    mention_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    last_activity_at INTEGER NOT NULL,
    ended_at INTEGER,
    project_path TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_path);

CREATE TABLE IF NOT EXISTS mentions (
    memory_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    start_byte INTEGER NOT NULL,
    end_byte INTEGER NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    PRIMARY KEY (memory_id, entity_id, start_byte)
);

CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_id);

CREATE TABLE IF NOT EXISTS relates_to (
    id TEXT PRIMARY KEY,
    source_entity_id TEXT NOT NULL,
    target_entity_id TEXT NOT NULL,
    relationship_type TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relates_source ON relates_to(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relates_target ON relates_to(target_entity_id);

CREATE TABLE IF NOT EXISTS co_occurs_with (
    entity_a_id TEXT NOT NULL,
    entity_b_id TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    last_seen INTEGER NOT NULL,
    PRIMARY KEY (entity_a_id, entity_b_id)
);

CREATE TABLE IF NOT EXISTS belongs_to_session (
    memory_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    PRIMARY KEY (memory_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_belongs_session ON belongs_to_session(session_id);
`
