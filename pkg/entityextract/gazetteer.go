package entityextract

import (
	"github.com/coregx/ahocorasick"

	"github.com/projectmemory/memcore/internal/store"
)

// GazetteerEntry is one known surface form registered ahead of time —
// either a built-in seed (common languages, frameworks, cloud providers)
// or an entry the caller passes to NewGazetteer.
type GazetteerEntry struct {
	Label      string
	EntityType store.EntityType
}

// Gazetteer resolves canonicalized surface forms to a known entity type
// using a single Aho-Corasick automaton as both the dictionary and the
// document scanner, the same dual-use trick implicit-matcher dictionaries
// use elsewhere in this codebase.
type Gazetteer struct {
	ac       *ahocorasick.Automaton
	patterns []string
	byIndex  []GazetteerEntry
}

// defaultSeeds is a small built-in Technology/Organization gazetteer. The
// automaton is compiled once in NewGazetteer; names the candidate registry
// (see registry.go) promotes are not added to it.
var defaultSeeds = []GazetteerEntry{
	{"go", store.EntityTypeTechnology}, {"golang", store.EntityTypeTechnology},
	{"python", store.EntityTypeTechnology}, {"rust", store.EntityTypeTechnology},
	{"typescript", store.EntityTypeTechnology}, {"javascript", store.EntityTypeTechnology},
	{"postgres", store.EntityTypeTechnology}, {"postgresql", store.EntityTypeTechnology},
	{"sqlite", store.EntityTypeTechnology}, {"redis", store.EntityTypeTechnology},
	{"docker", store.EntityTypeTechnology}, {"kubernetes", store.EntityTypeTechnology},
	{"react", store.EntityTypeTechnology}, {"graphql", store.EntityTypeTechnology},
	{"aws", store.EntityTypeOrganization}, {"gcp", store.EntityTypeOrganization},
	{"github", store.EntityTypeOrganization}, {"gitlab", store.EntityTypeOrganization},
}

// NewGazetteer compiles an automaton from the default seeds plus any
// caller-supplied entries (e.g. entities already registered in the store).
func NewGazetteer(extra []GazetteerEntry) (*Gazetteer, error) {
	g := &Gazetteer{}

	seen := make(map[string]int)
	add := func(e GazetteerEntry) {
		key := Canonicalize(e.Label)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = len(g.patterns)
		g.patterns = append(g.patterns, key)
		g.byIndex = append(g.byIndex, e)
	}

	for _, e := range defaultSeeds {
		add(e)
	}
	for _, e := range extra {
		add(e)
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(g.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	g.ac = ac
	return g, nil
}

// Match is a gazetteer hit anchored to the original text's byte offsets.
type Match struct {
	Start, End int
	Text       string
	EntityType store.EntityType
}

// Scan finds every gazetteer entry mentioned in text.
func (g *Gazetteer) Scan(text string) []Match {
	if g.ac == nil {
		return nil
	}

	canonical := Canonicalize(text)
	offsets := buildOffsetMap(text)

	hits := g.ac.FindAllOverlapping([]byte(canonical))
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		start := mapOffset(h.Start, offsets, len(text))
		end := mapOffset(h.End, offsets, len(text))
		if start >= len(text) || end > len(text) || start >= end {
			continue
		}
		entry := g.byIndex[h.PatternID]
		out = append(out, Match{Start: start, End: end, Text: text[start:end], EntityType: entry.EntityType})
	}
	return out
}
