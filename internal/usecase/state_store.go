package usecase

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/util"
)

// ErrIncomplete means sentiment, technical or regime has not been observed yet for a symbol.
var ErrIncomplete = errors.New("aggregation state incomplete")

// DefaultEventWindow is the number of recent events kept per symbol.
const DefaultEventWindow = 10

type symbolState struct {
	mu        sync.RWMutex
	sentiment *models.SentimentScore
	technical *models.TechnicalSignals
	regime    *models.MarketRegime
	events    *util.Ring[models.MarketEvent]
	lastPrice *models.PriceTick
	status    models.AggregationStatus
	updatedAt time.Time
}

// StateStore holds one AggregatedState per symbol, created on first message.
// Each symbol has its own lock; writers and snapshot readers never see a partial update.
type StateStore struct {
	mu          sync.RWMutex
	symbols     map[string]*symbolState
	eventWindow int
	now         func() time.Time
}

// NewStateStore creates a store keeping eventWindow recent events per symbol.
func NewStateStore(eventWindow int) *StateStore {
	if eventWindow <= 0 {
		eventWindow = DefaultEventWindow
	}
	return &StateStore{
		symbols:     make(map[string]*symbolState),
		eventWindow: eventWindow,
		now:         time.Now,
	}
}

func (s *StateStore) get(symbol string, create bool) *symbolState {
	s.mu.RLock()
	st, ok := s.symbols[symbol]
	s.mu.RUnlock()
	if ok || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{
		events: util.NewRing[models.MarketEvent](s.eventWindow),
		status: models.StatusIncomplete,
	}
	s.symbols[symbol] = st
	return st
}

// Apply writes p into its slot (last write wins) and returns the resulting snapshot,
// taken under the same lock as the write.
func (s *StateStore) Apply(p models.Payload) (models.AggregatedState, error) {
	symbol := p.PayloadSymbol()
	if symbol == "" {
		return models.AggregatedState{}, fmt.Errorf("apply %T: empty symbol", p)
	}
	st := s.get(symbol, true)

	st.mu.Lock()
	defer st.mu.Unlock()

	switch v := p.(type) {
	case models.SentimentScore:
		st.sentiment = &v
	case models.TechnicalSignals:
		st.technical = &v
	case models.MarketRegime:
		st.regime = &v
	case models.MarketEvent:
		st.events.Push(v)
	case models.PriceTick:
		st.lastPrice = &v
	default:
		return models.AggregatedState{}, fmt.Errorf("apply: unsupported payload %T", p)
	}
	st.updatedAt = s.now().UTC()

	if st.status == models.StatusIncomplete && st.sentiment != nil && st.technical != nil && st.regime != nil {
		st.status = models.StatusReady
	}
	return st.snapshotLocked(symbol), nil
}

// Snapshot returns a consistent copy of the state for symbol.
func (s *StateStore) Snapshot(symbol string) (models.AggregatedState, bool) {
	st := s.get(symbol, false)
	if st == nil {
		return models.AggregatedState{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshotLocked(symbol), true
}

// Symbols lists tracked symbols, sorted.
func (s *StateStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked symbols.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}

func (st *symbolState) snapshotLocked(symbol string) models.AggregatedState {
	snap := models.AggregatedState{
		Symbol:    symbol,
		Status:    st.status,
		Events:    st.events.Slice(),
		UpdatedAt: st.updatedAt,
	}
	if st.sentiment != nil {
		v := *st.sentiment
		snap.Sentiment = &v
	} else {
		snap.Missing = append(snap.Missing, "sentiment")
	}
	if st.technical != nil {
		v := *st.technical
		snap.Technical = &v
	} else {
		snap.Missing = append(snap.Missing, "technical")
	}
	if st.regime != nil {
		v := *st.regime
		snap.Regime = &v
	} else {
		snap.Missing = append(snap.Missing, "regime")
	}
	if st.lastPrice != nil {
		v := *st.lastPrice
		snap.LastPrice = &v
	}
	for i := range snap.Events {
		kw := make([]string, len(snap.Events[i].Keywords))
		copy(kw, snap.Events[i].Keywords)
		snap.Events[i].Keywords = kw
	}
	return snap
}
