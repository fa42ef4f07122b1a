package models

import "time"

// SignalType is the trading decision.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Valid reports whether t is one of BUY, SELL, HOLD.
func (t SignalType) Valid() bool {
	return t == SignalBuy || t == SignalSell || t == SignalHold
}

// ComponentValues holds one number per CMS category.
type ComponentValues struct {
	Sentiment float64 `json:"sentiment"`
	Technical float64 `json:"technical"`
	Regime    float64 `json:"regime"`
}

// Sum returns the sum of the three categories.
func (v ComponentValues) Sum() float64 {
	return v.Sentiment + v.Technical + v.Regime
}

// CompositeScore is the CMS with its breakdown.
// Inputs are the normalized category values in [-1, 1]; Contributions are 100*weight*input.
type CompositeScore struct {
	Score         float64         `json:"cms_score"`
	Confidence    float64         `json:"confidence"`
	Inputs        ComponentValues `json:"normalized_inputs"`
	Weights       ComponentValues `json:"weights"`
	Contributions ComponentValues `json:"component_contributions"`
}

// ComponentBreakdown is one category line of an Explanation.
type ComponentBreakdown struct {
	Category     string  `json:"category"`
	Normalized   float64 `json:"normalized"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail"`
}

// EventNote is an event that was in the window when the signal was computed.
type EventNote struct {
	ID       string    `json:"id"`
	Type     EventType `json:"event_type"`
	Severity float64   `json:"severity"`
	Keywords []string  `json:"keywords"`
}

// Explanation is the human-auditable account of a signal.
type Explanation struct {
	Summary          string               `json:"summary"`
	SentimentDetails string               `json:"sentiment_details"`
	TechnicalDetails string               `json:"technical_details"`
	RegimeDetails    string               `json:"regime_details"`
	EventDetails     string               `json:"event_details"`
	Components       []ComponentBreakdown `json:"components"`
	Events           []EventNote          `json:"events,omitempty"`
}

// Signal is the emitted decision. It is never mutated after publication.
type Signal struct {
	ID     string     `json:"id"`
	Symbol string     `json:"symbol"`
	Type   SignalType `json:"signal_type"`
	CompositeScore
	Explanation Explanation `json:"explanation"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SignalTransition records a change of decision for a symbol.
type SignalTransition struct {
	Symbol     string     `json:"symbol"`
	From       SignalType `json:"from_type"`
	To         SignalType `json:"to_type"`
	FromScore  float64    `json:"from_score"`
	ToScore    float64    `json:"to_score"`
	ScoreDelta float64    `json:"score_delta"`
	// milliseconds the previous decision was held
	DurationMs int64     `json:"duration_since_last_change_ms"`
	At         time.Time `json:"timestamp"`
}

// Duration returns how long the previous decision was held.
func (t SignalTransition) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

// SymbolStats counts decisions for a symbol.
type SymbolStats struct {
	Symbol       string     `json:"symbol"`
	Buy          int64      `json:"buy"`
	Sell         int64      `json:"sell"`
	Hold         int64      `json:"hold"`
	Transitions  int64      `json:"transitions"`
	LastType     SignalType `json:"last_type,omitempty"`
	LastScore    float64    `json:"last_score"`
	LastSignalAt time.Time  `json:"last_signal_at"`
}

// Total returns the number of signals counted.
func (s SymbolStats) Total() int64 {
	return s.Buy + s.Sell + s.Hold
}
