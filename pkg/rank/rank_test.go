package rank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectmemory/memcore/config"
)

func TestScoreHigherRelevanceOutranksHigherDecayAlone(t *testing.T) {
	r := New(config.Default().Rank)

	relevant := r.Score(Input{Relevance: 0.9, Confidence: 0.5, DecayScore: 0.3, AccessFrequency: 0.1})
	stale := r.Score(Input{Relevance: 0.1, Confidence: 0.5, DecayScore: 1.0, AccessFrequency: 0.1})

	require.Greater(t, relevant.Score, stale.Score)
}

func TestScoreIsMonotonicInEachTerm(t *testing.T) {
	r := New(config.Default().Rank)
	base := Input{Relevance: 0.4, Confidence: 0.4, DecayScore: 0.4, CoOccurringBoost: 0.4, AccessFrequency: 0.4}
	boosted := base
	boosted.Relevance = 0.8

	require.Greater(t, r.Score(boosted).Score, r.Score(base).Score)

	for _, bump := range []func(*Input){
		func(in *Input) { in.Importance = 0.8 },
		func(in *Input) { in.Confidence = 0.8 },
		func(in *Input) { in.DecayScore = 0.8 },
		func(in *Input) { in.CoOccurringBoost = 0.8 },
		func(in *Input) { in.AccessFrequency = 0.8 },
	} {
		raised := base
		bump(&raised)
		require.Greater(t, r.Score(raised).Score, r.Score(base).Score)
	}
}

func TestScoreHandlesZeroWeightsWithoutDividingByZero(t *testing.T) {
	r := New(config.RankerWeights{})
	require.NotPanics(t, func() {
		r.Score(Input{Relevance: 1, Confidence: 1, DecayScore: 1, CoOccurringBoost: 1, AccessFrequency: 1})
	})
}

func TestScoreStaysWithinUnitRangeForUnitInputs(t *testing.T) {
	r := New(config.Default().Rank)
	s := r.Score(Input{Relevance: 1, Importance: 1, Confidence: 1, DecayScore: 1, CoOccurringBoost: 1, AccessFrequency: 1})
	require.LessOrEqual(t, s.Score, 1.0001)
	require.GreaterOrEqual(t, s.Score, 0.0)
}

func TestScoreHigherImportanceOutranksLowerImportanceAlone(t *testing.T) {
	r := New(config.Default().Rank)
	important := r.Score(Input{Relevance: 0.5, Importance: 0.9, Confidence: 0.5, DecayScore: 0.5})
	unimportant := r.Score(Input{Relevance: 0.5, Importance: 0.1, Confidence: 0.5, DecayScore: 0.5})

	require.Greater(t, important.Score, unimportant.Score)
}
