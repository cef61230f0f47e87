package entityextract

import (
	"strings"

	"github.com/orsinium-labs/stopwords"
)

// CandidateStatus tracks the lifecycle of a token the registry is
// watching as a possible new entity.
type CandidateStatus int

const (
	StatusWatching CandidateStatus = iota
	StatusPromoted
	StatusIgnored
)

// candidateStats is the registry's per-token bookkeeping.
type candidateStats struct {
	Count   int
	Status  CandidateStatus
	Display string
}

// CandidateRegistry counts repeated mentions of capitalized, non-stopword
// tokens and promotes a token to a recognized entity candidate once it
// crosses PromotionThreshold occurrences. Promoted tokens are reported
// through Promoted; nothing adds them to the gazetteer.
type CandidateRegistry struct {
	stats              map[string]*candidateStats
	PromotionThreshold int
	extraStop          map[string]bool
	checker            *stopwords.Stopwords
}

// NewCandidateRegistry creates a registry promoting after threshold
// repeated sightings.
func NewCandidateRegistry(threshold int) *CandidateRegistry {
	if threshold <= 0 {
		threshold = 3
	}
	return &CandidateRegistry{
		stats:              make(map[string]*candidateStats),
		PromotionThreshold: threshold,
		extraStop:          make(map[string]bool),
		checker:            stopwords.MustGet("en"),
	}
}

// AddStopWord registers an additional word the registry should never
// promote, beyond the built-in English stopword list.
func (r *CandidateRegistry) AddStopWord(word string) {
	r.extraStop[Canonicalize(word)] = true
}

// Observe records one sighting of raw (a token as it appeared in text,
// with its original casing preserved for Display). Returns true exactly
// once, the sighting that crosses the promotion threshold.
func (r *CandidateRegistry) Observe(raw string) bool {
	key := Canonicalize(raw)
	if key == "" || strings.ContainsRune(key, ' ') {
		return false
	}
	if r.extraStop[key] || r.checker.Contains(key) {
		return false
	}

	stats, ok := r.stats[key]
	if !ok {
		stats = &candidateStats{Status: StatusWatching, Display: raw}
		r.stats[key] = stats
	}

	if stats.Status != StatusWatching {
		stats.Count++
		return false
	}

	stats.Count++
	if stats.Count >= r.PromotionThreshold {
		stats.Status = StatusPromoted
		return true
	}
	return false
}

// Status reports the current status of a token, defaulting to Watching
// for tokens never observed.
func (r *CandidateRegistry) Status(raw string) CandidateStatus {
	if s, ok := r.stats[Canonicalize(raw)]; ok {
		return s.Status
	}
	return StatusWatching
}

// Candidate is a public, read-only view of a tracked token.
type Candidate struct {
	Token  string `json:"token"`
	Count  int    `json:"count"`
	Status int    `json:"status"`
}

// Promoted returns every candidate that has crossed the promotion
// threshold, ready to be added to the gazetteer.
func (r *CandidateRegistry) Promoted() []Candidate {
	var out []Candidate
	for _, s := range r.stats {
		if s.Status != StatusPromoted {
			continue
		}
		out = append(out, Candidate{Token: s.Display, Count: s.Count, Status: int(s.Status)})
	}
	return out
}
