package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/config"
	"github.com/jtheoc80/permit-leads/internal/model"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		RecencyWeight:     3,
		TradeWeight:       2,
		ValueWeight:       2,
		PropertyAgeWeight: 1,
		OwnerTypeWeight:   1,
		RecencyMaxAgeDays: 180,
		HighValueTrades: map[string]float64{
			"roofing": 25,
			"hvac":    20,
			"solar":   22,
		},
		HotThreshold:  70,
		WarmThreshold: 40,
	}
}

func ptr[T any](v T) *T { return &v }

func TestScore_EmptyInputsScoresZero(t *testing.T) {
	result := Score(Inputs{Now: time.Now().UTC()}, testScoringConfig())
	assert.Equal(t, 0, result.Score)
	assert.Empty(t, result.Reasons)
	assert.Len(t, result.Components, 5)
}

func TestScore_ClampedToHundred(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	result := Score(Inputs{
		Now:       now,
		IssuedAt:  ptr(now),
		TradeTags: []string{"roofing"},
		Value:     ptr(250_000.0),
		YearBuilt: 1950,
		LeadType:  model.LeadOwner,
	}, testScoringConfig())
	assert.Equal(t, 100, result.Score)
}

func TestScore_FreshRoofBeatsStaleSmallJob(t *testing.T) {
	cfg := testScoringConfig()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	fresh := Score(Inputs{
		Now:       now,
		IssuedAt:  ptr(now),
		TradeTags: []string{"roofing"},
		Value:     ptr(45_000.0),
	}, cfg)

	stale := Score(Inputs{
		Now:      now,
		IssuedAt: ptr(now.AddDate(-2, 0, 0)),
		Value:    ptr(5_000.0),
	}, cfg)

	assert.Greater(t, fresh.Score, stale.Score)
	assert.NotEmpty(t, fresh.Reasons)
	assert.Contains(t, fresh.Reasons[0], "permit issued 0 days ago")

	// A two-year-old permit is past the recency ceiling.
	for _, r := range stale.Reasons {
		assert.NotContains(t, r, "permit issued")
	}
}

func TestScore_Deterministic(t *testing.T) {
	cfg := testScoringConfig()
	in := Inputs{
		Now:       time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
		IssuedAt:  ptr(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
		TradeTags: []string{"hvac", "solar"},
		Value:     ptr(30_000.0),
		YearBuilt: 1990,
		LeadType:  model.LeadContractor,
	}

	a := Score(in, cfg)
	b := Score(in, cfg)
	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Reasons, b.Reasons)
}

func TestScore_ReasonsOrderedByContribution(t *testing.T) {
	cfg := testScoringConfig()
	cfg.RecencyWeight = 1
	cfg.TradeWeight = 1
	cfg.ValueWeight = 1
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	result := Score(Inputs{
		Now:       now,
		IssuedAt:  ptr(now.Add(-90 * 24 * time.Hour)), // half the ceiling: 12.5 pts
		TradeTags: []string{"hvac"},                   // 20 pts
		Value:     ptr(5_000.0),                       // 6 pts
		YearBuilt: 1980,                               // 46 years: 15 pts
		LeadType:  model.LeadOwner,                    // 10 pts
	}, cfg)

	require.Equal(t, []string{
		"high-value trade (hvac): +20 points",
		"property is 46 years old: +15 points",
		"permit issued 90 days ago: +12.5 points",
		"owner contact available: +10 points",
		"project value $5000: +6 points",
	}, result.Reasons)
	assert.Equal(t, 64, result.Score)
}

func TestScore_TradePicksBestTag(t *testing.T) {
	cfg := testScoringConfig()
	result := Score(Inputs{
		Now:       time.Now().UTC(),
		TradeTags: []string{"hvac", "roofing"},
	}, cfg)
	require.NotEmpty(t, result.Reasons)
	assert.Contains(t, result.Reasons[0], "high-value trade (roofing)")
}

func TestScore_ValueBuckets(t *testing.T) {
	cfg := testScoringConfig()
	cfg.ValueWeight = 1
	now := time.Now().UTC()

	for value, want := range map[float64]float64{
		150_000: 25,
		60_000:  20,
		30_000:  15,
		12_000:  10,
		6_000:   6,
		500:     3,
	} {
		result := Score(Inputs{Now: now, Value: ptr(value)}, cfg)
		var got float64
		for _, c := range result.Components {
			if c.Name == "value" {
				got = c.Points
			}
		}
		assert.Equal(t, want, got, "value %v", value)
	}
}

func TestLabel(t *testing.T) {
	cfg := testScoringConfig()
	assert.Equal(t, "hot", Label(85, cfg))
	assert.Equal(t, "hot", Label(70, cfg))
	assert.Equal(t, "warm", Label(55, cfg))
	assert.Equal(t, "cool", Label(20, cfg))
}

func TestConfigHash_ChangesWithConfig(t *testing.T) {
	a := ConfigHash(testScoringConfig())
	cfg := testScoringConfig()
	cfg.HotThreshold = 80
	b := ConfigHash(cfg)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}
