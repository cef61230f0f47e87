// Package engine is the memory engine's top-level composition root. It
// wires storage, classification, entity extraction, decay, ranking, the
// async queue, caching and context building into the handful of
// operations an assistant actually calls: Observe (learn something),
// Recall (retrieve relevant memory as prompt context), and Snapshot
// (diagnostics).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/projectmemory/memcore/config"
	"github.com/projectmemory/memcore/internal/store"
	"github.com/projectmemory/memcore/pkg/cache"
	"github.com/projectmemory/memcore/pkg/classify"
	"github.com/projectmemory/memcore/pkg/contextbuilder"
	"github.com/projectmemory/memcore/pkg/decay"
	"github.com/projectmemory/memcore/pkg/entityextract"
	"github.com/projectmemory/memcore/pkg/queue"
	"github.com/projectmemory/memcore/pkg/rank"
)

// Engine composes the memory subsystems behind a small operation surface.
type Engine struct {
	cfg    config.Config
	log    *logrus.Logger
	store  store.Storer
	queue  *queue.Queue
	caches *cache.Caches

	classifier *classify.Classifier
	extractor  *entityextract.Extractor
	decay      *decay.Scorer
	ranker     *rank.Ranker

	lastSweepAt atomic.Int64 // UnixMilli; zero means no sweep has run yet
}

// New wires an Engine from an opened Storer and a validated Config. The
// Storer is passed in rather than opened here, so callers (and tests) can
// hand in an in-memory SQLiteStore without the engine knowing the DSN.
func New(cfg config.Config, st store.Storer, log *logrus.Logger) (*Engine, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	q, err := queue.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: starting queue: %w", err)
	}

	extractor, err := entityextract.NewExtractor(nil, 3)
	if err != nil {
		return nil, fmt.Errorf("engine: building entity extractor: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		log:        log,
		store:      st,
		queue:      q,
		caches:     cache.New(cfg),
		classifier: classify.New(),
		extractor:  extractor,
		decay:      decay.New(cfg.Decay),
		ranker:     rank.New(cfg.Rank),
	}, nil
}

// Close releases the engine's background resources. The underlying
// Storer is owned by the caller and is not closed here.
func (e *Engine) Close() {
	e.queue.Close()
}

// ObserveResult reports what Observe did with one piece of text: either the
// memory it stored inline (sync=true) or the task ID it queued (sync=false).
type ObserveResult struct {
	TaskID string
	Stored *store.Memory
	Queued bool
}

// minClassifierConfidence is the floor below which a classified candidate
// carries too little signal to keep: the engine drops it before it ever
// reaches storage or the queue.
const minClassifierConfidence = 0.6

// maxObserveContentChars bounds how much text a single Observe call will
// classify and store; anything longer is rejected as InvalidInput rather
// than silently truncated.
const maxObserveContentChars = 100_000

// ErrInvalidInput is returned for an empty or oversized observation.
var ErrInvalidInput = fmt.Errorf("engine: invalid input")

// defaultImportanceByType assigns a fallback importance when a memory has
// no explicit override and the classifier doesn't supply one. Values come
// from the type-default table: solution and pattern, which this codebase
// folds into procedural, don't get their own distinct 0.7/0.6 — procedural
// keeps the single value its own row names.
var defaultImportanceByType = map[store.MemoryType]float64{
	store.MemoryTypeSemantic:   1.0,
	store.MemoryTypeProcedural: 0.9,
	store.MemoryTypePreference: 0.9,
	store.MemoryTypeEpisodic:   0.7,
	store.MemoryTypeWorking:    0.5,
	store.MemoryTypeSensory:    0.3,
}

func defaultImportance(t store.MemoryType) float64 {
	if v, ok := defaultImportanceByType[t]; ok {
		return v
	}
	return 0.5
}

// Observe classifies one piece of text, adjusts its confidence for entity
// presence and statement length, and — if it still clears
// minClassifierConfidence — stores it: either inline (sync=true, the
// caller's goroutine performs the upsert and entity linking and gets the
// stored memory back) or through the async queue (sync=false, the
// default: the caller gets a task ID to poll and the write happens off
// its call stack). A text that doesn't match any classifier bucket, or
// that fails the confidence floor, is dropped without being stored or
// queued at all — there's nothing worth remembering in it.
func (e *Engine) Observe(sessionID string, sourceType store.SourceType, projectPath, text string, sync bool) (ObserveResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(text) > maxObserveContentChars {
		return ObserveResult{}, ErrInvalidInput
	}

	result, ok := e.classifier.Classify(text)
	if !ok {
		return ObserveResult{}, nil
	}

	mentions := e.extractor.Extract(text)
	result.Confidence = classify.AdjustForContext(result.Confidence, len(trimmed), len(mentions))
	if result.Confidence < minClassifierConfidence {
		return ObserveResult{}, nil
	}

	if sync {
		m, err := e.ingest(context.Background(), sessionID, sourceType, projectPath, text, result, mentions)
		if err != nil {
			return ObserveResult{}, fmt.Errorf("engine: observing synchronously: %w", err)
		}
		return ObserveResult{Stored: m}, nil
	}

	taskID, err := e.queue.Submit(sourceType, func(ctx context.Context) error {
		_, err := e.ingest(ctx, sessionID, sourceType, projectPath, text, result, mentions)
		return err
	})
	if err != nil {
		return ObserveResult{}, fmt.Errorf("engine: submitting observation: %w", err)
	}
	return ObserveResult{TaskID: taskID, Queued: true}, nil
}

func (e *Engine) ingest(ctx context.Context, sessionID string, sourceType store.SourceType, projectPath, text string, cls classify.Result, mentions []entityextract.Extracted) (*store.Memory, error) {
	now := time.Now().UnixMilli()
	hash := xxhash.Sum64String(normalizeForHash(text))

	m := &store.Memory{
		ID:             uuid.NewString(),
		Content:        text,
		MemoryType:     cls.MemoryType,
		SourceType:     sourceType,
		Confidence:     cls.Confidence,
		Importance:     defaultImportance(cls.MemoryType),
		ContentHash:    hash,
		SessionID:      sessionID,
		CreatedAt:      now,
		LastAccessedAt: now,
		Valid:          true,
	}
	if cls.MemoryType == store.MemoryTypeEpisodic {
		m.RetentionExpires = now + int64(e.cfg.EpisodicRetentionDays)*24*60*60*1000
	}

	saved, _, err := e.store.UpsertMemory(m)
	if err != nil {
		return nil, fmt.Errorf("engine: storing memory: %w", err)
	}

	if sessionID != "" {
		if err := e.store.UpsertSession(&store.Session{ID: sessionID, StartedAt: now, LastActivityAt: now, ProjectPath: projectPath}); err != nil {
			return nil, fmt.Errorf("engine: touching session: %w", err)
		}
		if err := e.store.LinkMemoryToSession(saved.ID, sessionID); err != nil {
			return nil, fmt.Errorf("engine: linking memory to session: %w", err)
		}
	}

	entityIDs := make([]string, 0, len(mentions))
	for _, mn := range mentions {
		ent, err := e.resolveEntity(mn, now)
		if err != nil {
			return nil, fmt.Errorf("engine: resolving entity %q: %w", mn.Name, err)
		}
		if err := e.store.AddMention(&store.Mention{
			MemoryID: saved.ID, EntityID: ent.ID,
			StartByte: mn.Start, EndByte: mn.End, Confidence: mn.Confidence,
		}); err != nil {
			return nil, fmt.Errorf("engine: recording mention: %w", err)
		}
		entityIDs = append(entityIDs, ent.ID)
	}

	for i := 0; i < len(entityIDs); i++ {
		for j := i + 1; j < len(entityIDs); j++ {
			if entityIDs[i] == entityIDs[j] {
				continue
			}
			if err := e.store.RecordCoOccurrence(entityIDs[i], entityIDs[j], now); err != nil {
				return nil, fmt.Errorf("engine: recording co-occurrence: %w", err)
			}
		}
	}

	e.caches.Recall.Purge()
	return saved, nil
}

func (e *Engine) resolveEntity(mn entityextract.Extracted, now int64) (*store.Entity, error) {
	if cached, ok := e.caches.Entity.Get(mn.Name); ok {
		return cached, nil
	}

	id := uuid.NewString()
	if existing, err := e.store.GetEntityByName(mn.Name); err == nil {
		id = existing.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ent, err := e.store.UpsertEntity(&store.Entity{
		ID: id, Name: mn.Name, EntityType: mn.EntityType,
		FirstSeenAt: now, LastSeenAt: now, MentionCnt: 1,
	})
	if err != nil {
		return nil, err
	}
	e.caches.Entity.Put(ent)
	return ent, nil
}

// defaultRecallLimit, defaultMinImportance and defaultMinRelevance mirror
// attach_memories' documented defaults (limit=10, min_importance=0.3,
// min_relevance=0.3).
const (
	defaultRecallLimit   = 10
	defaultMinImportance = 0.3
	defaultMinRelevance  = 0.3
	// defaultRecallTimeout bounds how long a single Recall call is allowed
	// to spend gathering and ranking candidates, per the attach_memories
	// latency budget. A caller can override it through RecallRequest.
	defaultRecallTimeout = 100 * time.Millisecond
	// candidatePoolSize bounds how many active memories the store scans
	// before ranking, so a large project doesn't blow the recall latency
	// budget; ranking (not this cap) decides which ones actually qualify.
	candidatePoolSize = 500
)

// Strategy selects how Recall gathers its candidate set. When the request
// leaves it empty, Recall uses Entity if the query yields at least one
// recognized entity (the narrowest, highest-precision gather) and Auto
// otherwise; Auto unions whatever Entity and FullText each turn up.
type Strategy string

const (
	StrategyAuto     Strategy = "auto"
	StrategyEntity   Strategy = "entity"
	StrategyTemporal Strategy = "temporal"
	StrategyFullText Strategy = "fulltext"
)

// RecallReason records why Recall returned the result it did, for callers
// that branch on a degraded (timed-out) context differently than a
// normal one.
type RecallReason string

const (
	RecallReasonOK      RecallReason = "ok"
	RecallReasonTimeout RecallReason = "timeout"
)

// RecallRequest parameterizes a Recall call.
type RecallRequest struct {
	Query         string
	SessionID     string
	ProjectPath   string
	MemoryTypes   []store.MemoryType
	Limit         int     // 0 uses defaultRecallLimit
	MinImportance float64 // 0 uses defaultMinImportance; negative disables the floor
	MinRelevance  float64 // 0 uses defaultMinRelevance; negative disables the floor
	Format        contextbuilder.Format
	Strategy      Strategy      // "" resolves to Entity (if the query yields entities) or Auto
	Timeout       time.Duration // 0 uses defaultRecallTimeout
}

// RecallResult is what Recall hands back: the rendered context plus the
// candidates that made the cut, for callers that want to show their work.
type RecallResult struct {
	Context        string
	EnhancedPrompt string
	Included       []contextbuilder.Item
	Reason         RecallReason
}

// Recall retrieves, scores and renders the memories most relevant to req,
// within a cooperative deadline (req.Timeout, default defaultRecallTimeout).
// MinImportance is enforced as a candidate filter (a memory below the floor
// is never even fetched from the store); MinRelevance is enforced after
// ranking, so every returned memory's final score clears it too. If the
// deadline expires before candidates are gathered, Recall returns a valid,
// empty MemoryContext with Reason set to Timeout and the prompt passed
// through unchanged, rather than failing the call outright.
func (e *Engine) Recall(req RecallRequest) (RecallResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultRecallTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	minImportance := req.MinImportance
	if minImportance == 0 {
		minImportance = defaultMinImportance
	} else if minImportance < 0 {
		minImportance = 0
	}

	cacheKey := fmt.Sprintf("%s|%s|%v|%v", req.ProjectPath, req.Query, minImportance, req.Strategy)
	if cached, ok := e.caches.Recall.Get(cacheKey); ok {
		return e.render(cached, req), nil
	}

	candidates, err := e.gatherCandidates(ctx, req, minImportance)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return e.timeoutResult(req), nil
		}
		return RecallResult{}, fmt.Errorf("engine: querying candidates: %w", err)
	}

	e.caches.Recall.Put(cacheKey, candidates)
	return e.render(candidates, req), nil
}

// timeoutResult is the partial-but-valid MemoryContext attach_memories
// requires when the recall deadline expires: no memories attached, the
// prompt passed through verbatim, and the reason surfaced so the caller
// can tell a genuine empty result from a degraded one.
func (e *Engine) timeoutResult(req RecallRequest) RecallResult {
	return RecallResult{
		Context:        req.Query,
		EnhancedPrompt: req.Query,
		Included:       nil,
		Reason:         RecallReasonTimeout,
	}
}

// gatherCandidates dispatches to the strategy the request resolves to
// (or an explicit one), respecting ctx's deadline throughout. Entity uses
// entity mentions lifted from the query; FullText uses significant
// keywords from it; Temporal ignores the query text entirely and returns
// the most recent candidates; Auto unions Entity and FullText, deduped by
// memory ID, falling back to an unfiltered recency gather when the query
// yields neither entities nor keywords.
func (e *Engine) gatherCandidates(ctx context.Context, req RecallRequest, minImportance float64) ([]*store.RecallCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := store.QueryOptions{
		MemoryTypes: req.MemoryTypes, SessionID: req.SessionID,
		Limit: candidatePoolSize, ImportanceFloor: minImportance,
	}

	entityNames := entityNamesOf(e.extractor.Extract(req.Query))
	keywords := classify.Keywords(req.Query)

	strategy := req.Strategy
	if strategy == "" {
		if len(entityNames) > 0 {
			strategy = StrategyEntity
		} else {
			strategy = StrategyAuto
		}
	}

	switch strategy {
	case StrategyEntity:
		if len(entityNames) == 0 {
			return nil, nil
		}
		opts := base
		opts.EntityNames = entityNames
		return e.store.QueryCandidates(opts)

	case StrategyTemporal:
		return e.store.QueryCandidates(base)

	case StrategyFullText:
		if len(keywords) == 0 {
			return nil, nil
		}
		opts := base
		opts.Keywords = keywords
		return e.store.QueryCandidates(opts)

	case StrategyAuto:
		fallthrough
	default:
		if len(entityNames) == 0 && len(keywords) == 0 {
			return e.store.QueryCandidates(base)
		}
		var merged []*store.RecallCandidate
		seen := make(map[string]bool)
		add := func(cands []*store.RecallCandidate) {
			for _, c := range cands {
				if seen[c.Memory.ID] {
					continue
				}
				seen[c.Memory.ID] = true
				merged = append(merged, c)
			}
		}
		if len(entityNames) > 0 {
			opts := base
			opts.EntityNames = entityNames
			cands, err := e.store.QueryCandidates(opts)
			if err != nil {
				return nil, err
			}
			add(cands)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(keywords) > 0 {
			opts := base
			opts.Keywords = keywords
			cands, err := e.store.QueryCandidates(opts)
			if err != nil {
				return nil, err
			}
			add(cands)
		}
		return merged, nil
	}
}

// entityNamesOf collects the distinct canonical entity names lifted from
// a recall query, for the entity strategy's candidate filter.
func entityNamesOf(mentions []entityextract.Extracted) []string {
	seen := make(map[string]bool, len(mentions))
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		name := entityextract.Canonicalize(m.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func (e *Engine) render(candidates []*store.RecallCandidate, req RecallRequest) RecallResult {
	wallNow := time.Now().UnixMilli()
	reference := wallNow
	if req.ProjectPath != "" {
		if last, err := e.store.GetProjectLastActivity(req.ProjectPath); err == nil && last > 0 {
			reference = last
		}
	}

	items := make([]contextbuilder.Item, 0, len(candidates))
	for _, c := range candidates {
		d := e.decay.Score(string(c.Memory.MemoryType), c.Memory.CreatedAt, reference)
		scored := e.ranker.Score(rank.Input{
			Relevance:        textRelevance(req.Query, c.Memory.Content),
			Importance:       c.Memory.Importance,
			Confidence:       c.Memory.Confidence,
			DecayScore:       d.FinalScore,
			CoOccurringBoost: c.SessionBoost,
			AccessFrequency:  accessFrequency(c.Memory.AccessCount),
		})
		items = append(items, contextbuilder.Item{Memory: c.Memory, Score: scored.Score})
	}

	// Ties at equal score break on higher importance, then more recent
	// created_at, then smaller id, so ordering stays deterministic.
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		if a.Memory.CreatedAt != b.Memory.CreatedAt {
			return a.Memory.CreatedAt > b.Memory.CreatedAt
		}
		return a.Memory.ID < b.Memory.ID
	})

	// Testable property: every returned memory clears min_relevance on its
	// final (post-rank) score, not just the pre-fetch importance floor.
	// Applied after sorting so it drops from the tail of an
	// already-best-first list.
	minRelevance := req.MinRelevance
	if minRelevance == 0 {
		minRelevance = defaultMinRelevance
	} else if minRelevance < 0 {
		minRelevance = 0
	}
	if minRelevance > 0 {
		cut := len(items)
		for i, it := range items {
			if it.Score < minRelevance {
				cut = i
				break
			}
		}
		items = items[:cut]
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	if limit < len(items) {
		items = items[:limit]
	}

	format := req.Format
	if format == "" {
		format = contextbuilder.FormatPlain
	}
	text, included := contextbuilder.Build(contextbuilder.MemoryContext{Items: items, Prompt: req.Query}, format, e.cfg.ContextCharBudget)
	e.touchIncluded(included, wallNow)
	return RecallResult{Context: text, EnhancedPrompt: text, Included: included, Reason: RecallReasonOK}
}

// touchIncluded best-effort bumps accessed_at/access_count for every memory
// that made it into the rendered context. A touch failure never affects the
// recall response — it's bookkeeping for the ranker's access-frequency term
// on later recalls (decay never reads it), not part of the contract being
// fulfilled right now.
func (e *Engine) touchIncluded(items []contextbuilder.Item, now int64) {
	for _, it := range items {
		if err := e.store.Touch(it.Memory.ID, now); err != nil {
			e.log.WithError(err).WithField("memory_id", it.Memory.ID).Warn("engine: touch after recall failed")
		}
	}
}

// accessFrequency squashes an unbounded access count into 0..1 with
// diminishing returns, so a memory touched a hundred times doesn't
// permanently dominate one touched five.
func accessFrequency(count int) float64 {
	if count <= 0 {
		return 0
	}
	return 1 - 1/(1+float64(count)/5)
}

// textRelevance is a dependency-free term-overlap score between a query
// and a memory's content. The engine has no full-text or vector search
// component in scope, so this stays a plain Jaccard similarity over
// lowercased word sets rather than reaching for a search library with
// nothing else in the pipeline to justify it.
func textRelevance(query, content string) float64 {
	q := wordSet(query)
	if len(q) == 0 {
		return 0
	}
	c := wordSet(content)
	var shared int
	for w := range q {
		if c[w] {
			shared++
		}
	}
	union := len(q)
	for w := range c {
		if !q[w] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// normalizeForHash collapses whitespace and folds case so that two
// observations differing only in spacing or capitalization land on the
// same content hash and dedup against each other.
func normalizeForHash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?;:'\"()")] = true
	}
	return set
}

// QueueStatusSnapshot reports the async learning queue's aggregate state,
// as distinct from the state of any single task (see TaskStatus).
type QueueStatusSnapshot struct {
	Depth   int
	Workers int
}

// QueueStatus reports how many tasks the learning queue is tracking and
// its worker count. Depth counts tasks in every state, finished ones
// included: the engine never releases task records.
func (e *Engine) QueueStatus() QueueStatusSnapshot {
	return QueueStatusSnapshot{Depth: e.queue.Len(), Workers: e.cfg.QueueWorkers}
}

// TaskStatus returns the lifecycle state of one previously-submitted
// learning task, or ok=false if the task ID is unknown.
func (e *Engine) TaskStatus(taskID string) (queue.Task, bool) {
	return e.queue.Status(taskID)
}

// Cleanup runs a retention sweep, physically deleting memories whose
// retention window has passed as of now, and returns how many were
// deleted. It never touches a memory with no retention window (valid_to
// IS NULL): RetentionSweep's WHERE clause excludes those by construction.
// A successful sweep invalidates the recall cache, since a deleted memory
// must not linger in a cached result set.
func (e *Engine) Cleanup(now time.Time) (int, error) {
	n, err := e.store.RetentionSweep(now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("engine: retention sweep: %w", err)
	}
	e.lastSweepAt.Store(now.UnixMilli())
	if n > 0 {
		e.caches.Recall.Purge()
	}
	return n, nil
}

// Diagnostics is a point-in-time snapshot of the engine's internal state,
// exposed for operators and health checks (and the out-of-scope doctor
// tool, which consumes this read-only).
type Diagnostics struct {
	Store          store.Stats
	ExpiredPending int
	LastSweepAt    time.Time // zero value means no sweep has run this process
	QueueDepth     int
	QueueWorkers   int
	RecallCache    cache.Stats
	EntityCache    cache.Stats
}

// Snapshot collects the engine's diagnostics.
func (e *Engine) Snapshot() (Diagnostics, error) {
	stats, err := e.store.Stats()
	if err != nil {
		return Diagnostics{}, fmt.Errorf("engine: collecting store stats: %w", err)
	}
	expired, err := e.store.CountExpiredPending(time.Now().UnixMilli())
	if err != nil {
		return Diagnostics{}, fmt.Errorf("engine: counting expired-pending: %w", err)
	}

	var lastSweep time.Time
	if ms := e.lastSweepAt.Load(); ms > 0 {
		lastSweep = time.UnixMilli(ms)
	}

	return Diagnostics{
		Store:          stats,
		ExpiredPending: expired,
		LastSweepAt:    lastSweep,
		QueueDepth:     e.queue.Len(),
		QueueWorkers:   e.cfg.QueueWorkers,
		RecallCache:    e.caches.Recall.Stats(),
		EntityCache:    e.caches.Entity.Stats(),
	}, nil
}

// Export serializes the entire store, passthrough to the Storer.
func (e *Engine) Export() ([]byte, error) { return e.store.Export() }

// Import replaces the store's contents, passthrough to the Storer, and
// invalidates every cache since the underlying data just changed wholesale.
func (e *Engine) Import(data []byte) error {
	if err := e.store.Import(data); err != nil {
		return err
	}
	e.caches.Recall.Purge()
	return nil
}
