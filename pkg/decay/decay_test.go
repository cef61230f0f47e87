package decay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectmemory/memcore/config"
)

func testTable() map[string]config.TypeDecayConfig {
	return config.Default().Decay
}

func TestScoreFreshMemoryIsNearOne(t *testing.T) {
	s := New(testTable())
	now := int64(1000 * 60 * 60 * 1000)
	exp := s.Score("fact", now, now)
	require.Greater(t, exp.FinalScore, 0.95)
}

func TestScoreDecaysWithAge(t *testing.T) {
	s := New(testTable())
	cfg := testTable()["working"]
	hourMs := int64(60 * 60 * 1000)
	created := int64(0)
	atHalfLife := int64(cfg.HalfLifeHrs) * hourMs

	fresh := s.Score("working", created, created)
	aged := s.Score("working", created, atHalfLife)

	require.Less(t, aged.FinalScore, fresh.FinalScore)
}

func TestScoreNeverDropsBelowMinScore(t *testing.T) {
	s := New(testTable())
	hourMs := int64(60 * 60 * 1000)
	veryOld := int64(1_000_000) * hourMs

	exp := s.Score("episodic", 0, veryOld)
	cfg := testTable()["episodic"]
	require.GreaterOrEqual(t, exp.FinalScore, cfg.MinScore)
}

func TestScoreIsRelativeToReferenceTimeNotWallClock(t *testing.T) {
	s := New(testTable())
	// Same absolute age, two different "now" anchors: scores must match,
	// proving decay is anchored on referenceTime and not time.Now().
	a := s.Score("fact", 0, 1000)
	b := s.Score("fact", 5000, 6000)
	require.InDelta(t, a.FinalScore, b.FinalScore, 0.0001)
}

func TestUnknownMemoryTypeFallsBackToDefaultCurve(t *testing.T) {
	s := New(testTable())
	exp := s.Score("not_a_real_type", 0, 0)
	require.Equal(t, config.DecayExponential, exp.Function)
}

func TestExponentialMatchesExpNegTOverH(t *testing.T) {
	hourMs := int64(60 * 60 * 1000)
	cfg := config.TypeDecayConfig{Function: config.DecayExponential, HalfLifeHrs: 48, MinScore: 0, RecentBoost: 1.0, RecentWindowDays: 0}
	s := New(map[string]config.TypeDecayConfig{"t": cfg})
	exp := s.Score("t", 0, 48*hourMs)
	want := math.Exp(-48.0 / 48.0)
	require.InDelta(t, want, exp.RawScore, 1e-9)
}

func TestPowerLawMatchesHOverHPlusTSquared(t *testing.T) {
	hourMs := int64(60 * 60 * 1000)
	cfg := config.TypeDecayConfig{Function: config.DecayPowerLaw, HalfLifeHrs: 24, MinScore: 0, RecentBoost: 1.0, RecentWindowDays: 0}
	s := New(map[string]config.TypeDecayConfig{"t": cfg})
	exp := s.Score("t", 0, 24*hourMs)
	want := math.Pow(24.0/(24.0+24.0), 2.0)
	require.InDelta(t, want, exp.RawScore, 1e-9)
}

func TestRecentBoostAppliesAfterFlooringNotBefore(t *testing.T) {
	// A curve whose raw score at this age sits below min_score: boosting
	// before flooring would multiply the low raw value and could still land
	// under min_score, while flooring first guarantees the boost multiplies
	// the floor itself.
	cfg := config.TypeDecayConfig{Function: config.DecayExponential, HalfLifeHrs: 1, MinScore: 0.5, RecentBoost: 1.5, RecentWindowDays: 10}
	s := New(map[string]config.TypeDecayConfig{"t": cfg})
	hourMs := int64(60 * 60 * 1000)
	exp := s.Score("t", 0, 5*hourMs)

	require.Less(t, exp.RawScore, cfg.MinScore)
	require.InDelta(t, cfg.MinScore*cfg.RecentBoost, exp.FinalScore, 1e-9)
}

func TestRecentBoostDoesNotApplyOutsideWindow(t *testing.T) {
	cfg := config.TypeDecayConfig{Function: config.DecayLinear, HalfLifeHrs: 100, MinScore: 0, RecentBoost: 2.0, RecentWindowDays: 1}
	s := New(map[string]config.TypeDecayConfig{"t": cfg})
	hourMs := int64(60 * 60 * 1000)
	exp := s.Score("t", 0, 48*hourMs)

	require.Equal(t, 1.0, exp.RecentBoost)
}

func TestEachConfiguredDecayFunctionProducesMonotonicDecay(t *testing.T) {
	hourMs := int64(60 * 60 * 1000)
	for name, cfg := range testTable() {
		s := New(map[string]config.TypeDecayConfig{name: cfg})
		early := s.Score(name, 0, 0)
		late := s.Score(name, 0, int64(cfg.HalfLifeHrs*4)*hourMs)
		require.LessOrEqualf(t, late.FinalScore, early.FinalScore, "decay function %s (%s) should not increase with age", name, cfg.Function)
	}
}
