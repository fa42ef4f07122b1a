package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketPulse/pkg/bus"
	"MarketPulse/pkg/util"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Inbound wire shapes. Pointers distinguish a missing field from a zero value;
// timestamps are strings so zone-less ISO values still parse.

type sentimentWire struct {
	Symbol     string   `json:"symbol"`
	Score      *float64 `json:"score" validate:"required,gte=-1,lte=1"`
	Confidence *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	Timestamp  string   `json:"timestamp"`
}

type indicatorsWire struct {
	Symbol    string `json:"symbol"`
	RSI       string `json:"rsi_signal" validate:"required,oneof=oversold overbought neutral"`
	MACD      string `json:"macd_signal" validate:"required,oneof=bullish_cross bearish_cross neutral"`
	BB        string `json:"bb_signal" validate:"required,oneof=lower_breach upper_breach neutral"`
	Timestamp string `json:"timestamp"`
}

type regimeWire struct {
	Symbol        string   `json:"symbol"`
	Type          string   `json:"regime_type" validate:"required,oneof=trending_up trending_down ranging volatile calm"`
	Confidence    *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	Volatility    float64  `json:"volatility" validate:"gte=0"`
	TrendStrength float64  `json:"trend_strength"`
	Timestamp     string   `json:"timestamp"`
}

type eventWire struct {
	Symbol    string   `json:"symbol"`
	ID        string   `json:"id" validate:"required"`
	ArticleID string   `json:"article_id"`
	Type      string   `json:"event_type" validate:"required,oneof=earnings merger acquisition bankruptcy regulatory product_launch leadership_change"`
	Severity  *float64 `json:"severity" validate:"required,gte=0,lte=1"`
	Keywords  []string `json:"keywords"`
	Timestamp string   `json:"timestamp"`
}

type priceWire struct {
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price" validate:"required,gt=0"`
	Volume    float64  `json:"volume" validate:"gte=0"`
	Timestamp string   `json:"timestamp"`
}

// DecodePayload parses and validates the payload of a message received on ch.
// A missing symbol becomes defaultSymbol and a missing timestamp becomes at.
// Every failure wraps bus.ErrSerialization.
func DecodePayload(ch bus.Channel, raw []byte, defaultSymbol string, at time.Time) (Payload, error) {
	switch ch {
	case bus.ChannelSentiment:
		var w sentimentWire
		if err := unmarshalValid(ch, raw, &w); err != nil {
			return nil, err
		}
		p := SentimentScore{
			Symbol:    NormalizeSymbol(w.Symbol, defaultSymbol),
			Score:     *w.Score,
			Timestamp: stamp(w.Timestamp, at),
		}
		if w.Confidence != nil {
			p.Confidence = *w.Confidence
		}
		return p, nil

	case bus.ChannelIndicators:
		var w indicatorsWire
		if err := unmarshalValid(ch, raw, &w); err != nil {
			return nil, err
		}
		return TechnicalSignals{
			Symbol:    NormalizeSymbol(w.Symbol, defaultSymbol),
			RSI:       TechnicalReading(w.RSI),
			MACD:      TechnicalReading(w.MACD),
			BB:        TechnicalReading(w.BB),
			Timestamp: stamp(w.Timestamp, at),
		}, nil

	case bus.ChannelRegime:
		var w regimeWire
		if err := unmarshalValid(ch, raw, &w); err != nil {
			return nil, err
		}
		return MarketRegime{
			Symbol:        NormalizeSymbol(w.Symbol, defaultSymbol),
			Type:          RegimeType(w.Type),
			Confidence:    *w.Confidence,
			Volatility:    w.Volatility,
			TrendStrength: w.TrendStrength,
			Timestamp:     stamp(w.Timestamp, at),
		}, nil

	case bus.ChannelEvents:
		var w eventWire
		if err := unmarshalValid(ch, raw, &w); err != nil {
			return nil, err
		}
		kw := w.Keywords
		if kw == nil {
			kw = []string{}
		}
		return MarketEvent{
			Symbol:    NormalizeSymbol(w.Symbol, defaultSymbol),
			ID:        w.ID,
			ArticleID: w.ArticleID,
			Type:      EventType(w.Type),
			Severity:  *w.Severity,
			Keywords:  kw,
			Timestamp: stamp(w.Timestamp, at),
		}, nil

	case bus.ChannelPrices:
		var w priceWire
		if err := unmarshalValid(ch, raw, &w); err != nil {
			return nil, err
		}
		return PriceTick{
			Symbol:    NormalizeSymbol(w.Symbol, defaultSymbol),
			Price:     *w.Price,
			Volume:    w.Volume,
			Timestamp: stamp(w.Timestamp, at),
		}, nil
	}
	return nil, fmt.Errorf("%w: no inbound payload type for channel %q", bus.ErrSerialization, ch)
}

// NormalizeSymbol trims and upper-cases s, falling back to def when empty.
func NormalizeSymbol(s, def string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return strings.ToUpper(strings.TrimSpace(def))
	}
	return s
}

func unmarshalValid(ch bus.Channel, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", bus.ErrSerialization, ch, err)
	}
	if err := payloadValidator().Struct(dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", bus.ErrSerialization, ch, err)
	}
	return nil
}

func stamp(ts string, fallback time.Time) time.Time {
	return util.ParseTimeDefault(ts, fallback).UTC()
}
