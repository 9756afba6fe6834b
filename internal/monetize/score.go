// Package monetize implements the score encoder: the pure function that
// turns a requested (cost-per-view, budget, gated) triple into validated,
// clamped monetization fields and the packed integer score consumed by the
// search index's numeric sort.
package monetize

import "math"

// DefaultMinCPV is the default minimum viable cost-per-view. Overridable via
// configuration; see config.BillingConfig.MinCPV.
const DefaultMinCPV = 0.05

// Score encoding constants. These pack rate and budget into one monotonically
// comparable integer and are a closed wire contract with scores already
// stored in the search index. Changing any of them requires a migration of
// previously written documents.
const (
	scoreBase         int64 = 123456
	scoreCPVScale           = 46976
	scoreCPVWeight    int64 = 8152256
	scoreBudgetScale        = 10
	scoreBudgetWeight int64 = 1391
)

// Update is the result of applying a monetization request to a video.
type Update struct {
	CPV    float64
	Budget float64
	Gated  int
	Score  int64
}

// MinBudget returns the minimum budget for a rate: ten guaranteed plays worth
// at the requested cost-per-view, never below one unit. Zero for a
// non-positive rate.
func MinBudget(cpv, durationSec float64) float64 {
	if cpv <= 0 {
		return 0
	}
	return math.Max(1, math.Ceil(cpv*(durationSec/60)*10))
}

// ApplyMonetizationUpdate clamps and gates a requested monetization change.
//
// The gating policy, in order:
//  1. cpv <= 0 disables monetization entirely.
//  2. 0 < cpv < minCPV is promoted to minCPV when gated, rejected otherwise.
//  3. cpv >= minCPV passes through with the budget raised to the minimum.
//
// The function is pure: billing status is not consulted here. Callers derive
// the ranking field separately via Ranking.
func ApplyMonetizationUpdate(minCPV, durationSec, requestedCPV, requestedBudget float64, requestedGated int) Update {
	cpv := math.Max(0, requestedCPV)
	budget := math.Max(0, requestedBudget)
	gated := 0
	if requestedGated == 1 {
		gated = 1
	}

	switch {
	case cpv <= 0:
		cpv, budget, gated = 0, 0, 0

	case cpv < minCPV:
		if gated == 1 {
			cpv = minCPV
			if minB := MinBudget(cpv, durationSec); budget < minB {
				budget = minB
			}
		} else {
			// Below-minimum rate without the gated flag is an invalid
			// monetization attempt, not a clamp-up.
			cpv, budget, gated = 0, 0, 0
		}

	default:
		if minB := MinBudget(cpv, durationSec); budget < minB {
			budget = minB
		}
	}

	return Update{
		CPV:    cpv,
		Budget: budget,
		Gated:  gated,
		Score:  Score(minCPV, cpv, budget),
	}
}

// Score packs the final rate and budget into the sortable integer score.
// Videos below the minimum viable rate score zero.
func Score(minCPV, cpv, budget float64) int64 {
	if cpv < minCPV {
		return 0
	}
	return scoreBase +
		int64(math.Round(cpv*scoreCPVScale))*scoreCPVWeight +
		int64(math.Round(budget*scoreBudgetScale))*scoreBudgetWeight
}

// Ranking derives the visibility/payability gate from a score: the score
// itself when the owning customer's billing is active, zero otherwise.
func Ranking(score int64, billingActive bool) int64 {
	if billingActive {
		return score
	}
	return 0
}
