package usecase

import (
	"testing"

	"MarketPulse/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplanationBuilder_Build(t *testing.T) {
	e, err := NewCMSEngine(defaultWeights)
	require.NoError(t, err)

	state := readyState(0.6,
		models.TechnicalSignals{RSI: models.ReadingOversold, MACD: models.ReadingNeutral, BB: models.ReadingNeutral},
		models.MarketRegime{Type: models.RegimeTrendingUp, Confidence: 0.8, Volatility: 0.15, TrendStrength: 0.7},
	)
	state.Events = []models.MarketEvent{
		{ID: "e1", Type: models.EventEarnings, Severity: 0.9, Keywords: []string{"beat"}},
		{ID: "e2", Type: models.EventRegulatory, Severity: 0.3},
	}
	score, err := e.Compute(state)
	require.NoError(t, err)

	ex := NewExplanationBuilder().Build(state, score, models.SignalHold)

	assert.Equal(t, "HOLD signal generated with CMS of 50.67. Sentiment: 18.00, Technical: 16.67, Regime: 16.00", ex.Summary)
	assert.Equal(t, "News sentiment is strongly positive with a score of 0.60", ex.SentimentDetails)
	assert.Equal(t, "RSI indicates oversold conditions (potential buy). MACD shows no clear crossover. Price is within Bollinger Bands", ex.TechnicalDetails)
	assert.Equal(t, "Market is upward trending with 80.0% confidence. Volatility: 0.15, Trend strength: 0.70", ex.RegimeDetails)
	assert.Equal(t, "Detected 1 high-severity event(s): earnings", ex.EventDetails)

	require.Len(t, ex.Components, 3)
	assert.Equal(t, "sentiment", ex.Components[0].Category)
	assert.Equal(t, "technical", ex.Components[1].Category)
	assert.Equal(t, "regime", ex.Components[2].Category)
	assert.InDelta(t, 16.0, ex.Components[2].Contribution, 1e-9)
	assert.Contains(t, ex.Components[1].Detail, "rsi=oversold(+1)")

	require.Len(t, ex.Events, 2)
	assert.Equal(t, "e1", ex.Events[0].ID)
	assert.Equal(t, []string{"beat"}, ex.Events[0].Keywords)
}

func TestDescribeSentiment(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.8, "News sentiment is strongly positive with a score of 0.80"},
		{0.3, "News sentiment is moderately positive with a score of 0.30"},
		{0.0, "News sentiment is neutral with a score of 0.00"},
		{-0.3, "News sentiment is moderately negative with a score of -0.30"},
		{-0.9, "News sentiment is strongly negative with a score of -0.90"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DescribeSentiment(tt.score))
	}
}

func TestDescribeTechnical_Bearish(t *testing.T) {
	got := DescribeTechnical(models.TechnicalSignals{
		RSI:  models.ReadingOverbought,
		MACD: models.ReadingBearishCross,
		BB:   models.ReadingUpperBreach,
	})
	assert.Equal(t, "RSI indicates overbought conditions (potential sell). MACD crossed below signal line (bearish). Price breached upper Bollinger Band (overbought)", got)
}

func TestDescribeRegimeAndEvents(t *testing.T) {
	assert.Equal(t,
		"Market is calm with low volatility with 50.0% confidence. Volatility: 0.05, Trend strength: 0.10",
		DescribeRegime(models.MarketRegime{Type: models.RegimeCalm, Confidence: 0.5, Volatility: 0.05, TrendStrength: 0.1}),
	)
	assert.Equal(t, "No significant market events detected recently", DescribeEvents(nil))
	assert.Equal(t, "Detected 2 low-to-moderate severity event(s)", DescribeEvents([]models.MarketEvent{
		{Type: models.EventMerger, Severity: 0.7},
		{Type: models.EventProductLaunch, Severity: 0.2},
	}))
	assert.Equal(t, "Detected 2 high-severity event(s): merger, bankruptcy", DescribeEvents([]models.MarketEvent{
		{Type: models.EventMerger, Severity: 0.75},
		{Type: models.EventEarnings, Severity: 0.1},
		{Type: models.EventBankruptcy, Severity: 1},
	}))
}
