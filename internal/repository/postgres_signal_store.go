package repository

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"

	"github.com/jmoiron/sqlx"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS trading_signals (
	id                  TEXT PRIMARY KEY,
	symbol              TEXT NOT NULL,
	signal_type         TEXT NOT NULL,
	cms_score           DOUBLE PRECISION NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL,
	sentiment_component DOUBLE PRECISION NOT NULL,
	technical_component DOUBLE PRECISION NOT NULL,
	regime_component    DOUBLE PRECISION NOT NULL,
	details             JSONB NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trading_signals_symbol_ts ON trading_signals (symbol, created_at DESC);`

// PGSignalStore persists signals in PostgreSQL.
type PGSignalStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewPGSignalStore(db *sqlx.DB, timeout time.Duration) *PGSignalStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PGSignalStore{db: db, timeout: timeout}
}

var _ domrepo.SignalStore = (*PGSignalStore)(nil)

func (s *PGSignalStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("init trading_signals: %w", err)
	}
	return nil
}

// Store inserts s; a duplicate id is ignored.
func (s *PGSignalStore) Store(ctx context.Context, sig *models.Signal) error {
	row, err := toRow(sig)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const q = `
		INSERT INTO trading_signals
		(id, symbol, signal_type, cms_score, confidence, sentiment_component,
		 technical_component, regime_component, details, created_at)
		VALUES (:id, :symbol, :signal_type, :cms_score, :confidence, :sentiment_component,
		 :technical_component, :regime_component, :details, :created_at)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// Recent returns up to limit signals for symbol created at or after since, newest first.
func (s *PGSignalStore) Recent(ctx context.Context, symbol string, since time.Time, limit int) ([]*models.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const q = `
		SELECT id, symbol, signal_type, cms_score, confidence, sentiment_component,
		       technical_component, regime_component, details, created_at
		FROM trading_signals
		WHERE symbol = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`
	var rows []signalRow
	if err := s.db.SelectContext(ctx, &rows, q, symbol, since.UTC(), limit); err != nil {
		return nil, fmt.Errorf("query signals for %s: %w", symbol, err)
	}
	return rowsToSignals(rows)
}

func (s *PGSignalStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/postgres.
func (s *PGSignalStore) Close() error { return nil }

func rowsToSignals(rows []signalRow) ([]*models.Signal, error) {
	out := make([]*models.Signal, 0, len(rows))
	for _, r := range rows {
		sig, err := r.toSignal()
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}
