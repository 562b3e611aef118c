package tier_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/token-ledger/tier"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// BOUNDARY EXACTNESS
// =============================================================================

func TestTierFor_Boundaries(t *testing.T) {
	// Bands are [min, nextMin): the lower bound belongs to the tier,
	// the upper bound to the next one.
	cases := []struct {
		balance string
		name    string
		bonus   int64
	}{
		{"0", "Basic", 0},
		{"99", "Basic", 0},
		{"99.99", "Basic", 0},
		{"100", "Bronze", 5},
		{"249.99", "Bronze", 5},
		{"250", "Silver", 10},
		{"999.99", "Silver", 10},
		{"1000", "Gold", 15},
		{"4999.99", "Gold", 15},
		{"5000", "Platinum", 20},
		{"24999.99", "Platinum", 20},
		{"25000", "Diamond", 25},
		{"49999.99", "Diamond", 25},
		{"50000", "Legend", 30},
		{"1000000", "Legend", 30},
	}

	for _, tc := range cases {
		t.Run(tc.balance, func(t *testing.T) {
			got := tier.TierFor(dec(tc.balance))
			assert.Equal(t, tc.name, got.Name)
			assert.Equal(t, tc.bonus, got.BonusPercent)
		})
	}
}

// =============================================================================
// PROGRESS
// =============================================================================

func TestTierFor_ProgressWithinBand(t *testing.T) {
	// GIVEN: balance 175, halfway through Bronze [100, 250)
	got := tier.TierFor(dec("175"))

	assert.Equal(t, "Bronze", got.Name)
	assert.Equal(t, "Silver", got.NextName)
	assert.True(t, got.Progress.Equal(dec("0.5")), "progress was %s", got.Progress)
	assert.True(t, got.AmountToNext.Equal(dec("75")), "to next was %s", got.AmountToNext)
}

func TestTierFor_ProgressAtLowerBound(t *testing.T) {
	got := tier.TierFor(dec("250"))

	assert.Equal(t, "Silver", got.Name)
	assert.True(t, got.Progress.IsZero(), "progress was %s", got.Progress)
	assert.True(t, got.AmountToNext.Equal(dec("750")))
}

func TestTierFor_TerminalTier(t *testing.T) {
	// THEN: progress pinned at 1, nothing left to reach
	got := tier.TierFor(dec("80000"))

	assert.Equal(t, "Legend", got.Name)
	assert.Empty(t, got.NextName)
	assert.True(t, got.Progress.Equal(decimal.NewFromInt(1)))
	assert.True(t, got.AmountToNext.IsZero())
}

// =============================================================================
// MONOTONICITY
// =============================================================================

func TestTierFor_Monotonic(t *testing.T) {
	// A higher balance never yields a lower-ranked tier.
	rank := map[string]int{
		"Basic": 0, "Bronze": 1, "Silver": 2, "Gold": 3,
		"Platinum": 4, "Diamond": 5, "Legend": 6,
	}

	prev := -1
	for _, balance := range []string{
		"0", "50", "100", "180", "250", "600", "1000", "3000",
		"5000", "20000", "25000", "40000", "50000", "90000",
	} {
		got := tier.TierFor(dec(balance))
		r, ok := rank[got.Name]
		require.True(t, ok, "unknown tier %q", got.Name)
		assert.GreaterOrEqual(t, r, prev, "tier rank dropped at balance %s", balance)
		prev = r
	}
}

func TestTierFor_NegativeClampedToFirstBand(t *testing.T) {
	got := tier.TierFor(dec("-5"))

	assert.Equal(t, "Basic", got.Name)
	assert.True(t, got.Progress.IsZero())
}
