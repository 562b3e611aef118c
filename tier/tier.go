/*
Package tier maps a cumulative token balance to a reward tier and bonus
percentage.

PURPOSE:
  Pure classification, computed at read time and never persisted. The
  band table is the single source of truth for bonus percentages.

PROPERTIES:
  - Deterministic and total for any balance >= 0
  - Monotonic: a higher balance never yields a lower-ranked tier
  - Bands are [min, nextMin): lower bound inclusive, upper exclusive

BANDS:
  [0, 100)        Basic     0%
  [100, 250)      Bronze    5%
  [250, 1000)     Silver   10%
  [1000, 5000)    Gold     15%
  [5000, 25000)   Platinum 20%
  [25000, 50000)  Diamond  25%
  [50000, inf)    Legend   30%
*/
package tier

import "github.com/shopspring/decimal"

// Tier is the derived classification for a balance.
type Tier struct {
	Name         string          `json:"name"`
	BonusPercent int64           `json:"bonus_percent"`
	Progress     decimal.Decimal `json:"progress"`       // fraction toward next tier, in [0,1]
	NextName     string          `json:"next_name"`      // empty at the terminal tier
	AmountToNext decimal.Decimal `json:"amount_to_next"` // zero at the terminal tier
}

type band struct {
	name  string
	min   decimal.Decimal
	bonus int64
}

// bands is ordered by ascending minimum balance. TierFor depends on
// that ordering.
var bands = []band{
	{"Basic", decimal.NewFromInt(0), 0},
	{"Bronze", decimal.NewFromInt(100), 5},
	{"Silver", decimal.NewFromInt(250), 10},
	{"Gold", decimal.NewFromInt(1000), 15},
	{"Platinum", decimal.NewFromInt(5000), 20},
	{"Diamond", decimal.NewFromInt(25000), 25},
	{"Legend", decimal.NewFromInt(50000), 30},
}

var (
	one  = decimal.NewFromInt(1)
	zero = decimal.Zero
)

// TierFor returns the tier for a balance. Negative balances cannot occur
// under the ledger's invariants; they are clamped to the first band so
// the function stays total.
func TierFor(balance decimal.Decimal) Tier {
	idx := 0
	for i := len(bands) - 1; i >= 0; i-- {
		if balance.GreaterThanOrEqual(bands[i].min) {
			idx = i
			break
		}
	}

	current := bands[idx]
	t := Tier{
		Name:         current.name,
		BonusPercent: current.bonus,
	}

	// Terminal tier: progress pegged at 1, nothing left to reach.
	if idx == len(bands)-1 {
		t.Progress = one
		t.AmountToNext = zero
		return t
	}

	next := bands[idx+1]
	t.NextName = next.name
	t.AmountToNext = next.min.Sub(balance)
	if t.AmountToNext.IsNegative() {
		t.AmountToNext = zero
	}

	span := next.min.Sub(current.min)
	progress := balance.Sub(current.min).Div(span)
	t.Progress = clamp01(progress)
	return t
}

// BonusPercentFor is a convenience for callers that only need the
// percentage.
func BonusPercentFor(balance decimal.Decimal) int64 {
	return TierFor(balance).BonusPercent
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}
