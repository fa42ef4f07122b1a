package usecase

import (
	"fmt"
	"math"

	"MarketPulse/internal/domain/models"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.
const WeightTolerance = 1e-6

var regimeBase = map[models.RegimeType]float64{
	models.RegimeTrendingUp:   1.0,
	models.RegimeTrendingDown: -1.0,
	models.RegimeRanging:      0.0,
	models.RegimeVolatile:     -0.3,
	models.RegimeCalm:         0.2,
}

// RegimeBase returns the fixed directional score of a regime type.
func RegimeBase(t models.RegimeType) float64 {
	return regimeBase[t]
}

// TechnicalValue maps an indicator reading to +1 (bullish), -1 (bearish) or 0.
func TechnicalValue(r models.TechnicalReading) float64 {
	switch r {
	case models.ReadingOversold, models.ReadingBullishCross, models.ReadingLowerBreach:
		return 1
	case models.ReadingOverbought, models.ReadingBearishCross, models.ReadingUpperBreach:
		return -1
	default:
		return 0
	}
}

// CMSEngine computes the Composite Market Score.
type CMSEngine struct {
	weights models.ComponentValues
}

// NewCMSEngine validates that weights sum to 1 within WeightTolerance.
func NewCMSEngine(weights models.ComponentValues) (*CMSEngine, error) {
	if sum := weights.Sum(); math.Abs(sum-1) > WeightTolerance {
		return nil, fmt.Errorf("cms weights must sum to 1.0, got %.9f", sum)
	}
	if weights.Sentiment < 0 || weights.Technical < 0 || weights.Regime < 0 {
		return nil, fmt.Errorf("cms weights must be non-negative")
	}
	return &CMSEngine{weights: weights}, nil
}

// Weights returns the configured weights.
func (e *CMSEngine) Weights() models.ComponentValues { return e.weights }

// Compute scores a Ready state. It returns ErrIncomplete when a required category is missing.
// Confidence is left for the signal generator.
func (e *CMSEngine) Compute(state models.AggregatedState) (models.CompositeScore, error) {
	if state.Sentiment == nil || state.Technical == nil || state.Regime == nil {
		return models.CompositeScore{}, fmt.Errorf("%w: %s missing %v", ErrIncomplete, state.Symbol, state.Missing)
	}

	in := models.ComponentValues{
		Sentiment: clampUnit(state.Sentiment.Score),
		Technical: (TechnicalValue(state.Technical.RSI) +
			TechnicalValue(state.Technical.MACD) +
			TechnicalValue(state.Technical.BB)) / 3,
		Regime: RegimeBase(state.Regime.Type) * clamp(state.Regime.Confidence, 0, 1),
	}
	contrib := models.ComponentValues{
		Sentiment: 100 * e.weights.Sentiment * in.Sentiment,
		Technical: 100 * e.weights.Technical * in.Technical,
		Regime:    100 * e.weights.Regime * in.Regime,
	}

	return models.CompositeScore{
		Score:         clamp(contrib.Sum(), -100, 100),
		Inputs:        in,
		Weights:       e.weights,
		Contributions: contrib,
	}, nil
}

func clampUnit(v float64) float64 { return clamp(v, -1, 1) }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
