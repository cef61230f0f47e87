// Package rank combines a candidate memory's relevance, confidence, decay
// score, co-occurrence strength and access frequency into the single score
// recall uses to order results. It is a plain weighted sum — no model call,
// no training — so it stays cheap enough to run over every candidate on
// every recall.
package rank

import (
	"math"

	"github.com/projectmemory/memcore/config"
)

// Input is everything the ranker needs about one candidate. Relevance and
// DecayScore are expected to already be normalized to 0..1 by their
// respective stages (text search and the decay package).
type Input struct {
	Relevance        float64
	Importance       float64
	Confidence       float64
	DecayScore       float64
	CoOccurringBoost float64
	AccessFrequency  float64
}

// Scored is a ranked candidate's breakdown, kept around so the engine's
// diagnostics surface can explain why a memory placed where it did.
type Scored struct {
	Score      float64
	Relevance  float64
	Importance float64
	Confidence float64
	Decay      float64
	CoOccur    float64
	AccessFreq float64
}

// Ranker scores candidates against a fixed weight configuration.
type Ranker struct {
	weights config.RankerWeights
}

// New builds a Ranker from the engine's configured weights.
func New(weights config.RankerWeights) *Ranker {
	return &Ranker{weights: weights}
}

// Score computes the weighted-sum relevance score for one candidate. The
// decay term is dampened quadratically before weighting
// (effective_w_d = w_d * (1 - (1 - decay))^2) so an old-but-not-yet-expired
// memory's decay score alone can't carry it to the top of the result set.
// The decay term is added on its own and does not depend on relevance.
func (r *Ranker) Score(in Input) Scored {
	w := r.weights
	total := w.Relevance + w.Importance + w.Confidence + w.Decay + w.CoOccurring + w.AccessFreq
	if total <= 0 {
		total = 1
	}

	effectiveDecayWeight := w.Decay * math.Pow(1-(1-in.DecayScore), 2)

	score := w.Relevance*in.Relevance +
		w.Importance*in.Importance +
		w.Confidence*in.Confidence +
		effectiveDecayWeight*in.DecayScore +
		w.CoOccurring*in.CoOccurringBoost +
		w.AccessFreq*in.AccessFrequency

	return Scored{
		Score:      score / total,
		Relevance:  in.Relevance,
		Importance: in.Importance,
		Confidence: in.Confidence,
		Decay:      in.DecayScore,
		CoOccur:    in.CoOccurringBoost,
		AccessFreq: in.AccessFrequency,
	}
}
