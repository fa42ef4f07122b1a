package usecase

import (
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
)

type lastDecision struct {
	typ   models.SignalType
	score float64
	since time.Time // when typ was first emitted
}

// TransitionDetector remembers the last decision per symbol and reports changes.
type TransitionDetector struct {
	mu   sync.Mutex
	last map[string]lastDecision
}

func NewTransitionDetector() *TransitionDetector {
	return &TransitionDetector{last: make(map[string]lastDecision)}
}

// Observe records sig and returns a transition when its type differs from the previous one.
// The first signal for a symbol has nothing to compare against and yields no transition.
func (d *TransitionDetector) Observe(sig *models.Signal) (models.SignalTransition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.last[sig.Symbol]
	if !ok {
		d.last[sig.Symbol] = lastDecision{typ: sig.Type, score: sig.Score, since: sig.Timestamp}
		return models.SignalTransition{}, false
	}
	if prev.typ == sig.Type {
		prev.score = sig.Score
		d.last[sig.Symbol] = prev
		return models.SignalTransition{}, false
	}

	held := sig.Timestamp.Sub(prev.since)
	if held < 0 {
		held = 0
	}
	tr := models.SignalTransition{
		Symbol:     sig.Symbol,
		From:       prev.typ,
		To:         sig.Type,
		FromScore:  prev.score,
		ToScore:    sig.Score,
		ScoreDelta: sig.Score - prev.score,
		DurationMs: held.Milliseconds(),
		At:         sig.Timestamp,
	}
	d.last[sig.Symbol] = lastDecision{typ: sig.Type, score: sig.Score, since: sig.Timestamp}
	return tr, true
}

// Last returns the last decision seen for symbol.
func (d *TransitionDetector) Last(symbol string) (models.SignalType, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.last[symbol]
	return prev.typ, ok
}
