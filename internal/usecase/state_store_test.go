package usecase

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_ReadyOnlyAfterAllCategories(t *testing.T) {
	s := NewStateStore(0)
	ts := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

	st, err := s.Apply(models.SentimentScore{Symbol: "AAPL", Score: 0.4, Timestamp: ts})
	require.NoError(t, err)
	assert.False(t, st.Ready())
	assert.Equal(t, []string{"technical", "regime"}, st.Missing)

	st, err = s.Apply(models.MarketEvent{Symbol: "AAPL", ID: "e1", Type: models.EventEarnings, Severity: 0.9})
	require.NoError(t, err)
	assert.False(t, st.Ready())

	st, err = s.Apply(models.TechnicalSignals{Symbol: "AAPL", RSI: models.ReadingNeutral, MACD: models.ReadingNeutral, BB: models.ReadingNeutral})
	require.NoError(t, err)
	assert.False(t, st.Ready())
	assert.Equal(t, []string{"regime"}, st.Missing)

	st, err = s.Apply(models.MarketRegime{Symbol: "AAPL", Type: models.RegimeCalm, Confidence: 0.5})
	require.NoError(t, err)
	assert.True(t, st.Ready())
	assert.Empty(t, st.Missing)
	assert.Len(t, st.Events, 1)

	// Other symbols are independent.
	other, err := s.Apply(models.MarketRegime{Symbol: "MSFT", Type: models.RegimeCalm, Confidence: 0.5})
	require.NoError(t, err)
	assert.False(t, other.Ready())
	assert.Equal(t, []string{"AAPL", "MSFT"}, s.Symbols())
	assert.Equal(t, 2, s.Len())
}

func TestStateStore_LastWriteWins(t *testing.T) {
	s := NewStateStore(3)
	_, err := s.Apply(models.SentimentScore{Symbol: "AAPL", Score: 0.1})
	require.NoError(t, err)
	st, err := s.Apply(models.SentimentScore{Symbol: "AAPL", Score: -0.7})
	require.NoError(t, err)
	assert.Equal(t, -0.7, st.Sentiment.Score)

	_, err = s.Apply(models.PriceTick{Symbol: "AAPL", Price: 190.5})
	require.NoError(t, err)
	snap, ok := s.Snapshot("AAPL")
	require.True(t, ok)
	require.NotNil(t, snap.LastPrice)
	assert.Equal(t, 190.5, snap.LastPrice.Price)
}

func TestStateStore_EventWindow(t *testing.T) {
	s := NewStateStore(3)
	for i := 0; i < 5; i++ {
		_, err := s.Apply(models.MarketEvent{Symbol: "AAPL", ID: fmt.Sprintf("e%d", i), Type: models.EventMerger, Keywords: []string{"deal"}})
		require.NoError(t, err)
	}
	snap, ok := s.Snapshot("AAPL")
	require.True(t, ok)
	require.Len(t, snap.Events, 3)
	assert.Equal(t, "e2", snap.Events[0].ID)
	assert.Equal(t, "e4", snap.Events[2].ID)

	// Snapshots are copies.
	snap.Events[0].Keywords[0] = "changed"
	again, _ := s.Snapshot("AAPL")
	assert.Equal(t, "deal", again.Events[0].Keywords[0])
}

func TestStateStore_Errors(t *testing.T) {
	s := NewStateStore(0)
	_, err := s.Apply(models.SentimentScore{Score: 1})
	assert.Error(t, err)

	_, ok := s.Snapshot("NOPE")
	assert.False(t, ok)
}

func TestStateStore_ConcurrentApply(t *testing.T) {
	s := NewStateStore(10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := fmt.Sprintf("S%d", i%5)
			_, _ = s.Apply(models.SentimentScore{Symbol: sym, Score: 0.1})
			_, _ = s.Apply(models.TechnicalSignals{Symbol: sym, RSI: models.ReadingNeutral, MACD: models.ReadingNeutral, BB: models.ReadingNeutral})
			_, _ = s.Apply(models.MarketRegime{Symbol: sym, Type: models.RegimeRanging, Confidence: 1})
			_, _ = s.Snapshot(sym)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, s.Len())
	for _, sym := range s.Symbols() {
		snap, ok := s.Snapshot(sym)
		require.True(t, ok)
		assert.True(t, snap.Ready())
	}
}
