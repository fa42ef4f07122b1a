package models

import (
	"errors"
	"testing"
	"time"

	"MarketPulse/pkg/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func TestDecodeSentiment(t *testing.T) {
	p, err := DecodePayload(bus.ChannelSentiment, []byte(`{"symbol":" aapl ","score":-0.4,"confidence":0.9}`), "MARKET", at)
	require.NoError(t, err)
	s, ok := p.(SentimentScore)
	require.True(t, ok)
	assert.Equal(t, "AAPL", s.Symbol)
	assert.Equal(t, -0.4, s.Score)
	assert.Equal(t, 0.9, s.Confidence)
	assert.Equal(t, at, s.Timestamp)

	p, err = DecodePayload(bus.ChannelSentiment, []byte(`{"score":0}`), "market", at)
	require.NoError(t, err)
	assert.Equal(t, "MARKET", p.PayloadSymbol())
}

func TestDecodeRejectsOutOfRange(t *testing.T) {
	cases := map[bus.Channel]string{
		bus.ChannelSentiment:  `{"score":1.5}`,
		bus.ChannelIndicators: `{"rsi_signal":"bullish_cross","macd_signal":"neutral","bb_signal":"neutral"}`,
		bus.ChannelRegime:     `{"regime_type":"sideways","confidence":0.5}`,
		bus.ChannelEvents:     `{"id":"e1","event_type":"earnings","severity":2}`,
		bus.ChannelPrices:     `{"price":-3}`,
	}
	for ch, raw := range cases {
		_, err := DecodePayload(ch, []byte(raw), "MARKET", at)
		assert.True(t, errors.Is(err, bus.ErrSerialization), "channel %s", ch)
	}
}

func TestDecodeRequiresFields(t *testing.T) {
	_, err := DecodePayload(bus.ChannelSentiment, []byte(`{"symbol":"AAPL"}`), "MARKET", at)
	assert.True(t, errors.Is(err, bus.ErrSerialization))

	_, err = DecodePayload(bus.ChannelRegime, []byte(`{"regime_type":"calm"}`), "MARKET", at)
	assert.True(t, errors.Is(err, bus.ErrSerialization))

	_, err = DecodePayload(bus.ChannelEvents, []byte(`{"event_type":"merger","severity":0.3}`), "MARKET", at)
	assert.True(t, errors.Is(err, bus.ErrSerialization))

	_, err = DecodePayload(bus.ChannelIndicators, []byte(`[1,2,3]`), "MARKET", at)
	assert.True(t, errors.Is(err, bus.ErrSerialization))

	_, err = DecodePayload(bus.ChannelSignals, []byte(`{}`), "MARKET", at)
	assert.True(t, errors.Is(err, bus.ErrSerialization))
}

func TestDecodeIndicatorsAndRegime(t *testing.T) {
	p, err := DecodePayload(bus.ChannelIndicators,
		[]byte(`{"symbol":"MSFT","rsi_signal":"oversold","macd_signal":"bearish_cross","bb_signal":"neutral"}`), "MARKET", at)
	require.NoError(t, err)
	ts := p.(TechnicalSignals)
	assert.Equal(t, ReadingOversold, ts.RSI)
	assert.Equal(t, ReadingBearishCross, ts.MACD)
	assert.Equal(t, ReadingNeutral, ts.BB)

	p, err = DecodePayload(bus.ChannelRegime,
		[]byte(`{"symbol":"MSFT","regime_type":"trending_up","confidence":0.8,"volatility":0.12,"trend_strength":0.7,"timestamp":"2024-05-06T10:00:00"}`), "MARKET", at)
	require.NoError(t, err)
	r := p.(MarketRegime)
	assert.Equal(t, RegimeTrendingUp, r.Type)
	assert.Equal(t, 0.8, r.Confidence)
	assert.Equal(t, time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC), r.Timestamp)
}

func TestDecodeEventAndPrice(t *testing.T) {
	p, err := DecodePayload(bus.ChannelEvents,
		[]byte(`{"symbol":"TSLA","id":"ev-1","article_id":"a-9","event_type":"leadership_change","severity":0.85,"keywords":["ceo","resigns"],"timestamp":"2024-05-06T09:00:00Z"}`), "MARKET", at)
	require.NoError(t, err)
	e := p.(MarketEvent)
	assert.Equal(t, EventLeadershipChange, e.Type)
	assert.Equal(t, []string{"ceo", "resigns"}, e.Keywords)
	assert.Equal(t, "a-9", e.ArticleID)

	p, err = DecodePayload(bus.ChannelEvents, []byte(`{"id":"ev-2","event_type":"earnings","severity":0.1}`), "MARKET", at)
	require.NoError(t, err)
	assert.NotNil(t, p.(MarketEvent).Keywords)

	p, err = DecodePayload(bus.ChannelPrices, []byte(`{"symbol":"TSLA","price":201.5,"volume":1200}`), "MARKET", at)
	require.NoError(t, err)
	assert.Equal(t, 201.5, p.(PriceTick).Price)
}

func TestSignalTypeAndStats(t *testing.T) {
	assert.True(t, SignalBuy.Valid())
	assert.False(t, SignalType("buy").Valid())

	st := SymbolStats{Buy: 2, Sell: 1, Hold: 4}
	assert.Equal(t, int64(7), st.Total())

	tr := SignalTransition{DurationMs: 1500}
	assert.Equal(t, 1500*time.Millisecond, tr.Duration())
}
