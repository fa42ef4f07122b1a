package models

import "time"

// TechnicalReading is the discrete classification reported by an indicator.
type TechnicalReading string

const (
	ReadingOversold     TechnicalReading = "oversold"
	ReadingOverbought   TechnicalReading = "overbought"
	ReadingBullishCross TechnicalReading = "bullish_cross"
	ReadingBearishCross TechnicalReading = "bearish_cross"
	ReadingLowerBreach  TechnicalReading = "lower_breach"
	ReadingUpperBreach  TechnicalReading = "upper_breach"
	ReadingNeutral      TechnicalReading = "neutral"
)

// RegimeType is the market-condition classification.
type RegimeType string

const (
	RegimeTrendingUp   RegimeType = "trending_up"
	RegimeTrendingDown RegimeType = "trending_down"
	RegimeRanging      RegimeType = "ranging"
	RegimeVolatile     RegimeType = "volatile"
	RegimeCalm         RegimeType = "calm"
)

// EventType classifies a detected market event.
type EventType string

const (
	EventEarnings         EventType = "earnings"
	EventMerger           EventType = "merger"
	EventAcquisition      EventType = "acquisition"
	EventBankruptcy       EventType = "bankruptcy"
	EventRegulatory       EventType = "regulatory"
	EventProductLaunch    EventType = "product_launch"
	EventLeadershipChange EventType = "leadership_change"
)

// Payload is the decoded content of one inbound channel message.
// Implementations: SentimentScore, TechnicalSignals, MarketRegime, MarketEvent, PriceTick.
type Payload interface {
	PayloadSymbol() string
	isPayload()
}

// SentimentScore is the latest news sentiment for a symbol.
type SentimentScore struct {
	Symbol     string    `json:"symbol"`
	Score      float64   `json:"score"`      // [-1, 1]
	Confidence float64   `json:"confidence"` // [0, 1]
	Timestamp  time.Time `json:"timestamp"`
}

// TechnicalSignals holds the three indicator readings.
type TechnicalSignals struct {
	Symbol    string           `json:"symbol"`
	RSI       TechnicalReading `json:"rsi_signal"`
	MACD      TechnicalReading `json:"macd_signal"`
	BB        TechnicalReading `json:"bb_signal"`
	Timestamp time.Time        `json:"timestamp"`
}

// MarketRegime is the current regime classification.
type MarketRegime struct {
	Symbol        string     `json:"symbol"`
	Type          RegimeType `json:"regime_type"`
	Confidence    float64    `json:"confidence"`
	Volatility    float64    `json:"volatility"`
	TrendStrength float64    `json:"trend_strength"`
	Timestamp     time.Time  `json:"timestamp"`
}

// MarketEvent is a detected news event.
type MarketEvent struct {
	Symbol    string    `json:"symbol"`
	ID        string    `json:"id"`
	ArticleID string    `json:"article_id,omitempty"`
	Type      EventType `json:"event_type"`
	Severity  float64   `json:"severity"` // [0, 1]
	Keywords  []string  `json:"keywords"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceTick is the last traded price.
type PriceTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

func (p SentimentScore) PayloadSymbol() string   { return p.Symbol }
func (p TechnicalSignals) PayloadSymbol() string { return p.Symbol }
func (p MarketRegime) PayloadSymbol() string     { return p.Symbol }
func (p MarketEvent) PayloadSymbol() string      { return p.Symbol }
func (p PriceTick) PayloadSymbol() string        { return p.Symbol }

func (SentimentScore) isPayload()   {}
func (TechnicalSignals) isPayload() {}
func (MarketRegime) isPayload()     {}
func (MarketEvent) isPayload()      {}
func (PriceTick) isPayload()        {}
