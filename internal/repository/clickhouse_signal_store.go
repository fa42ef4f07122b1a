package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	pkgch "MarketPulse/pkg/clickhouse"
	applogger "MarketPulse/pkg/logger"
)

// CHSignalStore is the ClickHouse audit table for emitted signals.
type CHSignalStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHSignalStore(ch *pkgch.Client, table string) *CHSignalStore {
	return newCHSignalStore(ch.DB(), table)
}

func newCHSignalStore(db *sql.DB, table string) *CHSignalStore {
	if table == "" {
		table = "trading_signals"
	}
	return &CHSignalStore{db: db, table: table}
}

var _ domrepo.SignalStore = (*CHSignalStore)(nil)

// SetLogger injects a structured logger.
func (s *CHSignalStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSignalStore) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id String,
            symbol LowCardinality(String),
            signal_type LowCardinality(String),
            cms_score Float64,
            confidence Float64,
            sentiment_component Float64,
            technical_component Float64,
            regime_component Float64,
            details String,
            created_at DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree
        ORDER BY (symbol, created_at, id)
    `, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init %s: %w", s.table, err)
	}
	return nil
}

func (s *CHSignalStore) Store(ctx context.Context, sig *models.Signal) error {
	row, err := toRow(sig)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, symbol, signal_type, cms_score, confidence, sentiment_component, technical_component, regime_component, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, q,
		row.ID,
		row.Symbol,
		row.SignalType,
		row.CMSScore,
		row.Confidence,
		row.Sentiment,
		row.Technical,
		row.Regime,
		string(row.Details),
		row.CreatedAt,
	)
	if err != nil {
		s.logError("clickhouse insert signal error", sig.Symbol, err)
		return fmt.Errorf("insert signal %s: %w", sig.ID, err)
	}
	return nil
}

func (s *CHSignalStore) Recent(ctx context.Context, symbol string, since time.Time, limit int) ([]*models.Signal, error) {
	const qtpl = `
        SELECT id, symbol, signal_type, cms_score, confidence, sentiment_component,
               technical_component, regime_component, details, created_at
        FROM %s FINAL
        WHERE symbol = ? AND created_at >= ?
        ORDER BY created_at DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), symbol, since.UTC(), limit)
	if err != nil {
		s.logError("clickhouse recent signals query error", symbol, err)
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []signalRow
	for rows.Next() {
		var r signalRow
		var details string
		if err := rows.Scan(&r.ID, &r.Symbol, &r.SignalType, &r.CMSScore, &r.Confidence,
			&r.Sentiment, &r.Technical, &r.Regime, &details, &r.CreatedAt); err != nil {
			s.logError("clickhouse recent signals scan error", symbol, err)
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		r.Details = []byte(details)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return rowsToSignals(out)
}

func (s *CHSignalStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.
func (s *CHSignalStore) Close() error { return nil }

func (s *CHSignalStore) logError(msg, symbol string, err error) {
	if s.l == nil {
		return
	}
	s.l.Error(msg,
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.Error(err),
	)
}
