// Package classify assigns a MemoryType, confidence score and intent to a
// piece of extracted text using a two-stage pipeline: an ordered regex
// pattern table picks the memory type and a base confidence, then a
// keyword-driven intent pass folds in hedging language and the caller's
// intent into a final confidence. Entity presence and statement length are
// applied separately by AdjustForContext, which raises confidence when
// entities are present and lowers it for very short text. Classification never
// calls a model: it is a pure function of its input, so it can run on the
// hot recall path and inside the async learning queue without a network
// round trip.
package classify

import (
	"strings"

	"github.com/projectmemory/memcore/internal/store"
)

// Intent names the conversational shape a statement takes, independent of
// the memory type its content maps to.
type Intent string

const (
	IntentLearning   Intent = "learning"
	IntentQuestion   Intent = "question"
	IntentCorrection Intent = "correction"
	IntentStatus     Intent = "status"
	IntentCommand    Intent = "command"
	IntentFactual    Intent = "factual"
)

// Result is the classifier's verdict on one piece of text.
type Result struct {
	MemoryType store.MemoryType
	Confidence float64
	Intent     Intent
	Keywords   []string
	Matched    string // which pattern bucket fired, for diagnostics
}

// Classifier runs the two-stage pattern classification: a pattern-bucket
// pass picks the memory type and base confidence, then an intent pass
// computes the final confidence.
type Classifier struct{}

// New creates a Classifier. It holds no state — the pattern table is
// shared package data — but is a type so callers have something to wire
// into the engine alongside its stateful siblings.
func New() *Classifier {
	return &Classifier{}
}

// Classify returns the best-matching memory type, confidence and intent
// for text, or ok=false if no pattern bucket fired at all.
func (c *Classifier) Classify(text string) (Result, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{}, false
	}

	var matched *bucket
	for i := range buckets {
		if buckets[i].re.MatchString(trimmed) {
			matched = &buckets[i]
			break
		}
	}
	if matched == nil {
		return Result{}, false
	}

	intent, intentScore := classifyIntent(trimmed)
	confidence := combineConfidence(matched.base, intentScore)
	if hedges.MatchString(trimmed) {
		confidence *= 0.7
	}
	confidence = clamp01(confidence)

	return Result{
		MemoryType: matched.memoryType,
		Confidence: confidence,
		Intent:     intent,
		Keywords:   keywordsOf(trimmed),
		Matched:    matched.name,
	}, true
}

// combineConfidence implements the documented combination rule:
// min(conf_pattern, avg(conf_pattern, intent_score*0.8)).
func combineConfidence(confPattern, intentScore float64) float64 {
	avg := (confPattern + intentScore*0.8) / 2
	if confPattern < avg {
		return confPattern
	}
	return avg
}

// AdjustForContext applies the two context-dependent terms the pattern/
// intent stages can't see on their own: a +0.1 bump when the caller found
// entities in the same text, and a -0.2 floor adjustment for very short
// fragments that are unlikely to carry a durable fact.
func AdjustForContext(confidence float64, textLen, entityCount int) float64 {
	if entityCount > 0 {
		confidence += 0.1
	}
	if textLen < 10 {
		confidence -= 0.2
	}
	return clamp01(confidence)
}

func clamp01(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0.0 {
		return 0.0
	}
	return v
}

// intentBucket is one entry in the intent keyword scorer's table.
type intentBucket struct {
	intent   Intent
	keywords []string
	score    float64
}

var intentBuckets = []intentBucket{
	{IntentCorrection, []string{"actually", "i meant", "correction", "not that", "scratch that"}, 0.9},
	{IntentQuestion, []string{"?", "how do", "how does", "what is", "why does", "can you"}, 0.85},
	{IntentCommand, []string{"please", "run ", "execute", "do this", "go ahead and"}, 0.8},
	{IntentLearning, []string{"i learned", "turns out", "discovered", "note that", "realized"}, 0.8},
	{IntentStatus, []string{"currently", "in progress", "done", "finished", "blocked on"}, 0.75},
}

// classifyIntent scores text against the intent keyword table, returning
// the strongest match or IntentFactual with a neutral score if nothing
// fires — most statements fed to a memory engine are plain factual ones.
func classifyIntent(text string) (Intent, float64) {
	lower := strings.ToLower(text)
	for _, b := range intentBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				return b.intent, b.score
			}
		}
	}
	return IntentFactual, 0.6
}

// Keywords extracts the significant (4+ letter) lowercase words from text,
// for the recall coordinator's full-text strategy to match against. This
// is the same extraction Classify applies to a memory's content on the way
// in; callers run it again over a recall query, since a query rarely
// matches any classifier bucket itself.
func Keywords(text string) []string {
	return keywordsOf(strings.TrimSpace(text))
}

// keywordsOf extracts the significant (4+ letter) lowercase words from
// text, for the recall coordinator's full-text strategy to match against.
func keywordsOf(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:'\"()")
		if len(f) >= 4 {
			out = append(out, f)
		}
	}
	return out
}
