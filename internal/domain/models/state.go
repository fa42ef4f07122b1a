package models

import "time"

// AggregationStatus is the per-symbol readiness state.
type AggregationStatus string

const (
	StatusIncomplete AggregationStatus = "incomplete"
	StatusReady      AggregationStatus = "ready"
)

// AggregatedState is a consistent copy of the fused inputs for one symbol.
type AggregatedState struct {
	Symbol    string            `json:"symbol"`
	Status    AggregationStatus `json:"status"`
	Sentiment *SentimentScore   `json:"sentiment,omitempty"`
	Technical *TechnicalSignals `json:"technical,omitempty"`
	Regime    *MarketRegime     `json:"regime,omitempty"`
	Events    []MarketEvent     `json:"events"`
	LastPrice *PriceTick        `json:"last_price,omitempty"`
	Missing   []string          `json:"missing,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Ready reports whether sentiment, technical and regime have all been observed.
func (s AggregatedState) Ready() bool {
	return s.Status == StatusReady
}
