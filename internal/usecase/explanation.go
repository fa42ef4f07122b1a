package usecase

import (
	"fmt"
	"strings"

	"MarketPulse/internal/domain/models"
)

// HighSeverity is the threshold above which an event is called out by type.
const HighSeverity = 0.7

var regimeDescriptions = map[models.RegimeType]string{
	models.RegimeTrendingUp:   "upward trending",
	models.RegimeTrendingDown: "downward trending",
	models.RegimeRanging:      "range-bound",
	models.RegimeVolatile:     "highly volatile",
	models.RegimeCalm:         "calm with low volatility",
}

// ExplanationBuilder renders the breakdown that accompanies every signal.
type ExplanationBuilder struct{}

func NewExplanationBuilder() *ExplanationBuilder { return &ExplanationBuilder{} }

// Build is deterministic for a given state, score and decision.
func (b *ExplanationBuilder) Build(state models.AggregatedState, score models.CompositeScore, t models.SignalType) models.Explanation {
	ex := models.Explanation{
		Summary: fmt.Sprintf("%s signal generated with CMS of %.2f. Sentiment: %.2f, Technical: %.2f, Regime: %.2f",
			t, score.Score, score.Contributions.Sentiment, score.Contributions.Technical, score.Contributions.Regime),
		EventDetails: DescribeEvents(state.Events),
	}

	sentiment := models.ComponentBreakdown{
		Category:     "sentiment",
		Normalized:   score.Inputs.Sentiment,
		Weight:       score.Weights.Sentiment,
		Contribution: score.Contributions.Sentiment,
	}
	if state.Sentiment != nil {
		ex.SentimentDetails = DescribeSentiment(state.Sentiment.Score)
		sentiment.Detail = fmt.Sprintf("score=%.2f confidence=%.2f", state.Sentiment.Score, state.Sentiment.Confidence)
	}

	technical := models.ComponentBreakdown{
		Category:     "technical",
		Normalized:   score.Inputs.Technical,
		Weight:       score.Weights.Technical,
		Contribution: score.Contributions.Technical,
	}
	if state.Technical != nil {
		ex.TechnicalDetails = DescribeTechnical(*state.Technical)
		technical.Detail = fmt.Sprintf("rsi=%s(%+.0f) macd=%s(%+.0f) bb=%s(%+.0f)",
			state.Technical.RSI, TechnicalValue(state.Technical.RSI),
			state.Technical.MACD, TechnicalValue(state.Technical.MACD),
			state.Technical.BB, TechnicalValue(state.Technical.BB))
	}

	regime := models.ComponentBreakdown{
		Category:     "regime",
		Normalized:   score.Inputs.Regime,
		Weight:       score.Weights.Regime,
		Contribution: score.Contributions.Regime,
	}
	if state.Regime != nil {
		ex.RegimeDetails = DescribeRegime(*state.Regime)
		regime.Detail = fmt.Sprintf("%s base=%+.1f confidence=%.2f",
			state.Regime.Type, RegimeBase(state.Regime.Type), state.Regime.Confidence)
	}

	ex.Components = []models.ComponentBreakdown{sentiment, technical, regime}

	for _, e := range state.Events {
		kw := make([]string, len(e.Keywords))
		copy(kw, e.Keywords)
		ex.Events = append(ex.Events, models.EventNote{
			ID:       e.ID,
			Type:     e.Type,
			Severity: e.Severity,
			Keywords: kw,
		})
	}
	return ex
}

// DescribeSentiment bands a sentiment score.
func DescribeSentiment(score float64) string {
	var band string
	switch {
	case score > 0.5:
		band = "strongly positive"
	case score > 0.2:
		band = "moderately positive"
	case score > -0.2:
		band = "neutral"
	case score > -0.5:
		band = "moderately negative"
	default:
		band = "strongly negative"
	}
	return fmt.Sprintf("News sentiment is %s with a score of %.2f", band, score)
}

// DescribeTechnical renders one sentence per indicator.
func DescribeTechnical(s models.TechnicalSignals) string {
	parts := make([]string, 0, 3)

	switch s.RSI {
	case models.ReadingOversold:
		parts = append(parts, "RSI indicates oversold conditions (potential buy)")
	case models.ReadingOverbought:
		parts = append(parts, "RSI indicates overbought conditions (potential sell)")
	default:
		parts = append(parts, "RSI is in neutral territory")
	}

	switch s.MACD {
	case models.ReadingBullishCross:
		parts = append(parts, "MACD crossed above signal line (bullish)")
	case models.ReadingBearishCross:
		parts = append(parts, "MACD crossed below signal line (bearish)")
	default:
		parts = append(parts, "MACD shows no clear crossover")
	}

	switch s.BB {
	case models.ReadingLowerBreach:
		parts = append(parts, "Price breached lower Bollinger Band (oversold)")
	case models.ReadingUpperBreach:
		parts = append(parts, "Price breached upper Bollinger Band (overbought)")
	default:
		parts = append(parts, "Price is within Bollinger Bands")
	}

	return strings.Join(parts, ". ")
}

// DescribeRegime renders the regime with its confidence, volatility and trend strength.
func DescribeRegime(r models.MarketRegime) string {
	desc, ok := regimeDescriptions[r.Type]
	if !ok {
		desc = "unknown"
	}
	return fmt.Sprintf("Market is %s with %.1f%% confidence. Volatility: %.2f, Trend strength: %.2f",
		desc, r.Confidence*100, r.Volatility, r.TrendStrength)
}

// DescribeEvents summarizes the recent event window.
func DescribeEvents(events []models.MarketEvent) string {
	if len(events) == 0 {
		return "No significant market events detected recently"
	}
	var high []string
	for _, e := range events {
		if e.Severity > HighSeverity {
			high = append(high, string(e.Type))
		}
	}
	if len(high) > 0 {
		return fmt.Sprintf("Detected %d high-severity event(s): %s", len(high), strings.Join(high, ", "))
	}
	return fmt.Sprintf("Detected %d low-to-moderate severity event(s)", len(events))
}
