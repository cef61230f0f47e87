package entityextract

import (
	"regexp"
	"unicode"

	"github.com/projectmemory/memcore/internal/store"
)

// Extracted is one entity mention found in a piece of content, with the
// byte offsets of the match and the extractor's confidence that it really
// names something (not a sentence-initial capitalized word, say).
type Extracted struct {
	Name       string
	EntityType store.EntityType
	Start      int
	End        int
	Confidence float64
}

// patternRule matches a specific entity shape with a fixed confidence and
// type, independent of the gazetteer. Declared as a table in the same
// style as this codebase's other static rule tables: ordered, grouped by
// category, confidence baked in rather than computed per match.
type patternRule struct {
	name       string
	re         *regexp.Regexp
	entityType store.EntityType
	confidence float64
}

var patternRules = []patternRule{
	{"file_path", regexp.MustCompile(`\b[\w./-]+\.(go|py|ts|tsx|js|jsx|rs|java|rb|md|yaml|yml|json|toml|sql)\b`), store.EntityTypeFile, 0.85},
	{"dotted_package", regexp.MustCompile(`\b[a-z][a-z0-9]*(?:\.[a-z][a-z0-9]*){2,}\b`), store.EntityTypeTechnology, 0.55},
	{"at_mention", regexp.MustCompile(`@[A-Za-z][A-Za-z0-9_-]{1,38}`), store.EntityTypePerson, 0.6},
}

// Extractor finds entity mentions in memory content: exact gazetteer hits,
// regex-pattern shapes (file paths, @mentions, dotted package names), and
// capitalized-token candidates tracked through a CandidateRegistry for
// promotion once they repeat often enough to be trustworthy.
type Extractor struct {
	gazetteer *Gazetteer
	registry  *CandidateRegistry
}

// NewExtractor builds an extractor seeded with known entity names (e.g.
// entities already present in the store) in addition to the built-in
// gazetteer.
func NewExtractor(known []GazetteerEntry, promotionThreshold int) (*Extractor, error) {
	gaz, err := NewGazetteer(known)
	if err != nil {
		return nil, err
	}
	return &Extractor{gazetteer: gaz, registry: NewCandidateRegistry(promotionThreshold)}, nil
}

// Extract returns every entity mention found in text, deduplicated by
// byte range with the gazetteer taking priority over pattern rules, which
// in turn take priority over capitalization heuristics.
func (x *Extractor) Extract(text string) []Extracted {
	var out []Extracted
	claimed := make([]bool, len(text)+1)

	for _, m := range x.gazetteer.Scan(text) {
		if rangeClaimed(claimed, m.Start, m.End) {
			continue
		}
		out = append(out, Extracted{Name: m.Text, EntityType: m.EntityType, Start: m.Start, End: m.End, Confidence: 0.9})
		markClaimed(claimed, m.Start, m.End)
	}

	for _, rule := range patternRules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			if rangeClaimed(claimed, loc[0], loc[1]) {
				continue
			}
			out = append(out, Extracted{
				Name: text[loc[0]:loc[1]], EntityType: rule.entityType,
				Start: loc[0], End: loc[1], Confidence: rule.confidence,
			})
			markClaimed(claimed, loc[0], loc[1])
		}
	}

	for _, tok := range TokenizeWithOffsets(text) {
		if rangeClaimed(claimed, tok.Start, tok.End) {
			continue
		}
		raw := text[tok.Start:tok.End]
		if !looksLikeProperNoun(raw) {
			continue
		}
		if x.registry.Observe(raw) {
			out = append(out, Extracted{Name: raw, EntityType: store.EntityTypeConcept, Start: tok.Start, End: tok.End, Confidence: 0.5})
			markClaimed(claimed, tok.Start, tok.End)
		}
	}

	return out
}

// PromotedCandidates exposes tokens the registry has promoted across
// calls to Extract, for the engine to optionally register as entities.
func (x *Extractor) PromotedCandidates() []Candidate {
	return x.registry.Promoted()
}

func looksLikeProperNoun(raw string) bool {
	if raw == "" {
		return false
	}
	first := []rune(raw)[0]
	return unicode.IsUpper(first) && len(raw) >= 3
}

func markClaimed(claimed []bool, start, end int) {
	for i := start; i < end && i < len(claimed); i++ {
		claimed[i] = true
	}
}

func rangeClaimed(claimed []bool, start, end int) bool {
	for i := start; i < end && i < len(claimed); i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}
