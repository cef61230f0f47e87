package classify

import (
	"regexp"

	"github.com/projectmemory/memcore/internal/store"
)

// bucket is one entry in the ordered pattern table: a regex that signals
// a memory type, grouped by the kind of statement it recognizes. Buckets
// are tried in table order and the first match wins — order encodes
// priority, most specific statement shapes first, ties broken by
// declaration order.
type bucket struct {
	name       string
	re         *regexp.Regexp
	memoryType store.MemoryType
	base       float64 // base confidence before length/hedge adjustment
}

// buckets is the classifier's pattern table, one group per memory type's
// trigger family, the same declarative-table shape this codebase uses for
// its other static domain tables.
var buckets = []bucket{
	// Semantic: identity statements and durable "X is Y" facts.
	{"identity", regexp.MustCompile(`(?i)\b(my name is|i am|i'm)\s+\w+`), store.MemoryTypeSemantic, 0.9},
	{"is_a", regexp.MustCompile(`(?i)\b\w+\s+(is|are|was|were)\s+(a|an|the)\b`), store.MemoryTypeSemantic, 0.75},

	// Preference: stated likes/dislikes and standing rules.
	{"prefers", regexp.MustCompile(`(?i)\b(i|we)\s+(prefer|like|love|hate|dislike)\b`), store.MemoryTypePreference, 0.85},
	{"always_never", regexp.MustCompile(`(?i)\b(always use|never use|always|never)\s+\w+\b`), store.MemoryTypePreference, 0.8},

	// Episodic: temporal markers and narrated past decisions.
	{"temporal_marker", regexp.MustCompile(`(?i)\b(yesterday|last week|last month|earlier today|a while back)\b`), store.MemoryTypeEpisodic, 0.85},
	{"decided_to", regexp.MustCompile(`(?i)\b(we|i|team)\s+(decided|chose|settled on|went with)\b`), store.MemoryTypeEpisodic, 0.8},

	// Procedural: imperative sequences and recurring how-to behavior.
	{"numbered_steps", regexp.MustCompile(`(?i)\bto\s+\w+(\s+\w+)*:`), store.MemoryTypeProcedural, 0.9},
	{"first_then", regexp.MustCompile(`(?i)\bfirst\b.*\bthen\b`), store.MemoryTypeProcedural, 0.8},
	{"fixed_by", regexp.MustCompile(`(?i)\b(fixed|resolved|solved)\s+(it\s+)?by\b`), store.MemoryTypeProcedural, 0.8},
	{"every_time", regexp.MustCompile(`(?i)\b(every time|whenever|each time|tends to|usually|typically)\b`), store.MemoryTypeProcedural, 0.7},

	// Working: near-term, short-lived project state.
	{"need_to", regexp.MustCompile(`(?i)\b(need to|todo|to-do)\b`), store.MemoryTypeWorking, 0.8},
	{"currently", regexp.MustCompile(`(?i)\b(currently|right now|at the moment|working on|in progress|blocked on)\b`), store.MemoryTypeWorking, 0.75},

	// Sensory: subjective, perception-flavored statements.
	{"sensory_verb", regexp.MustCompile(`(?i)\b(feels|feels like|appears|seems|looks like|sounds like)\b`), store.MemoryTypeSensory, 0.75},
}

// hedges lower a match's confidence when the statement is qualified —
// "maybe", "I think" — rather than stated flatly.
var hedges = regexp.MustCompile(`(?i)\b(maybe|perhaps|i think|probably|might|possibly|not sure)\b`)
