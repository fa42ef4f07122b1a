package usecase

import (
	"fmt"
	"math"

	"MarketPulse/internal/domain/models"
)

// SignalGenerator classifies a CMS against fixed thresholds. It keeps no state.
type SignalGenerator struct {
	buy  float64
	sell float64
}

// NewSignalGenerator requires buy > sell.
func NewSignalGenerator(buy, sell float64) (*SignalGenerator, error) {
	if buy <= sell {
		return nil, fmt.Errorf("buy threshold %.2f must be greater than sell threshold %.2f", buy, sell)
	}
	return &SignalGenerator{buy: buy, sell: sell}, nil
}

// Thresholds returns (buy, sell).
func (g *SignalGenerator) Thresholds() (float64, float64) { return g.buy, g.sell }

// Classify returns BUY above the buy threshold, SELL below the sell threshold, otherwise HOLD.
func (g *SignalGenerator) Classify(cms float64) models.SignalType {
	switch {
	case cms > g.buy:
		return models.SignalBuy
	case cms < g.sell:
		return models.SignalSell
	default:
		return models.SignalHold
	}
}

// Confidence is min(1, |cms|/100) scaled by the regime confidence.
func (g *SignalGenerator) Confidence(cms, regimeConfidence float64) float64 {
	strength := math.Min(1, math.Abs(cms)/100)
	return clamp(strength*clamp(regimeConfidence, 0, 1), 0, 1)
}

// Generate classifies score and fills its confidence.
func (g *SignalGenerator) Generate(score models.CompositeScore, regime models.MarketRegime) (models.SignalType, models.CompositeScore) {
	score.Confidence = g.Confidence(score.Score, regime.Confidence)
	return g.Classify(score.Score), score
}
