// Package decay scores how much of a memory's original weight survives to
// now, given its age and the per-memory-type decay curve configured for
// it. Age is measured relative to the project's last recorded activity
// rather than wall-clock time, so a memory captured just before a long
// break doesn't look stale the moment work resumes.
package decay

import (
	"math"

	"github.com/projectmemory/memcore/config"
)

// Scorer computes decay scores using a per-memory-type configuration
// table, mirroring the declarative per-type tables used elsewhere in this
// codebase for static domain knowledge.
type Scorer struct {
	byType map[string]config.TypeDecayConfig
}

// New builds a Scorer from the engine's configured decay table.
func New(cfg map[string]config.TypeDecayConfig) *Scorer {
	return &Scorer{byType: cfg}
}

// Explanation breaks a decay score down for diagnostics.
type Explanation struct {
	Function    config.DecayFunction
	AgeHours    float64
	HalfLifeHrs float64
	RawScore    float64
	RecentBoost float64
	FinalScore  float64
}

// Score returns the decay multiplier (0..1, floored at the type's
// min_score) for a memory of the given type created at createdAt,
// measured against referenceTime — normally the project's last activity
// timestamp, not time.Now(), so idle projects don't decay their own memory
// just because nobody has opened it lately. Access recency plays no part
// here: the spec's recall-time touch only updates access bookkeeping, it
// never resets a memory's age for decay purposes.
func (s *Scorer) Score(memoryType string, createdAt, referenceTime int64) Explanation {
	cfg, ok := s.byType[memoryType]
	if !ok {
		cfg = config.TypeDecayConfig{Function: config.DecayExponential, HalfLifeHrs: 24 * 30, MinScore: 0.1, RecentBoost: 1.0, RecentWindowDays: 1}
	}

	ageMs := referenceTime - createdAt
	if ageMs < 0 {
		ageMs = 0
	}
	ageHours := float64(ageMs) / (1000 * 60 * 60)
	ageDays := ageHours / 24

	raw := apply(cfg.Function, ageHours, cfg.HalfLifeHrs)

	// Floor first, then boost: raw is clamped up to min_score before the
	// recent boost applies, so for a fresh memory whose curve value is
	// below min_score the boost multiplies min_score, not the curve value
	// (and the boosted result is then capped at 1).
	final := raw
	if final < cfg.MinScore {
		final = cfg.MinScore
	}

	boost := 1.0
	if ageDays < cfg.RecentWindowDays {
		boost = cfg.RecentBoost
		final *= boost
		if final < 0 {
			final = 0
		}
		if final > 1.0 {
			final = 1.0
		}
	}

	return Explanation{
		Function: cfg.Function, AgeHours: ageHours, HalfLifeHrs: cfg.HalfLifeHrs,
		RawScore: raw, RecentBoost: boost, FinalScore: final,
	}
}

// apply evaluates the named decay curve at the given age, using
// half-life as the curve's characteristic timescale for every shape (not
// just the exponential one) so the config surface stays uniform across
// functions.
func apply(fn config.DecayFunction, ageHours, halfLifeHrs float64) float64 {
	if halfLifeHrs <= 0 {
		halfLifeHrs = 1
	}
	switch fn {
	case config.DecayLinear:
		v := 1 - (ageHours / (2 * halfLifeHrs))
		if v < 0 {
			v = 0
		}
		return v
	case config.DecaySigmoid:
		midpoint := halfLifeHrs
		steepness := 4.0 / halfLifeHrs
		return 1 / (1 + math.Exp(steepness*(ageHours-midpoint)))
	case config.DecayPowerLaw:
		return math.Pow(halfLifeHrs/(halfLifeHrs+ageHours), 2.0)
	case config.DecayExponential:
		fallthrough
	default:
		return math.Exp(-ageHours / halfLifeHrs)
	}
}
