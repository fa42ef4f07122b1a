package usecase

import (
	"sort"
	"sync"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/util"
)

// DefaultTransitionLog is the number of transitions kept per symbol.
const DefaultTransitionLog = 100

type symbolStats struct {
	stats       models.SymbolStats
	transitions *util.Ring[models.SignalTransition]
}

// StatsTracker counts emitted signals and keeps the recent transitions per symbol.
type StatsTracker struct {
	mu      sync.RWMutex
	symbols map[string]*symbolStats
	logSize int
}

func NewStatsTracker(logSize int) *StatsTracker {
	if logSize <= 0 {
		logSize = DefaultTransitionLog
	}
	return &StatsTracker{symbols: make(map[string]*symbolStats), logSize: logSize}
}

func (t *StatsTracker) entryLocked(symbol string) *symbolStats {
	e, ok := t.symbols[symbol]
	if !ok {
		e = &symbolStats{
			stats:       models.SymbolStats{Symbol: symbol},
			transitions: util.NewRing[models.SignalTransition](t.logSize),
		}
		t.symbols[symbol] = e
	}
	return e
}

// RecordSignal counts sig.
func (t *StatsTracker) RecordSignal(sig *models.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryLocked(sig.Symbol)
	switch sig.Type {
	case models.SignalBuy:
		e.stats.Buy++
	case models.SignalSell:
		e.stats.Sell++
	default:
		e.stats.Hold++
	}
	e.stats.LastType = sig.Type
	e.stats.LastScore = sig.Score
	e.stats.LastSignalAt = sig.Timestamp
}

// RecordTransition appends tr to its symbol's log.
func (t *StatsTracker) RecordTransition(tr models.SignalTransition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryLocked(tr.Symbol)
	e.stats.Transitions++
	e.transitions.Push(tr)
}

// Stats returns the counters for symbol.
func (t *StatsTracker) Stats(symbol string) (models.SymbolStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.symbols[symbol]
	if !ok {
		return models.SymbolStats{}, false
	}
	return e.stats, true
}

// All returns the counters of every symbol, sorted by symbol.
func (t *StatsTracker) All() []models.SymbolStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.SymbolStats, 0, len(t.symbols))
	for _, e := range t.symbols {
		out = append(out, e.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Transitions returns up to limit transitions for symbol, newest first.
func (t *StatsTracker) Transitions(symbol string, limit int) []models.SignalTransition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.symbols[symbol]
	if !ok {
		return []models.SignalTransition{}
	}
	all := e.transitions.Slice()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]models.SignalTransition, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}
