package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/cache"
)

// SignalCache keeps the latest signal per symbol under signal:latest:<SYMBOL>.
type SignalCache struct {
	c   cache.Service
	ttl time.Duration
}

func NewSignalCache(c cache.Service, ttl time.Duration) *SignalCache {
	return &SignalCache{c: c, ttl: ttl}
}

var _ domrepo.SignalCache = (*SignalCache)(nil)

func latestKey(symbol string) string {
	return cache.Key("signal", "latest", symbol)
}

func (s *SignalCache) SetLatest(ctx context.Context, sig *models.Signal) error {
	if err := s.c.Set(ctx, latestKey(sig.Symbol), sig, s.ttl); err != nil {
		return fmt.Errorf("cache latest signal %s: %w", sig.Symbol, err)
	}
	return nil
}

func (s *SignalCache) Latest(ctx context.Context, symbol string) (*models.Signal, error) {
	var sig models.Signal
	if err := s.c.Get(ctx, latestKey(symbol), &sig); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("read latest signal %s: %w", symbol, err)
	}
	return &sig, nil
}
