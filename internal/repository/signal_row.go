package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
)

// signalRow is the flattened storage shape shared by the SQL stores.
type signalRow struct {
	ID         string    `db:"id"`
	Symbol     string    `db:"symbol"`
	SignalType string    `db:"signal_type"`
	CMSScore   float64   `db:"cms_score"`
	Confidence float64   `db:"confidence"`
	Sentiment  float64   `db:"sentiment_component"`
	Technical  float64   `db:"technical_component"`
	Regime     float64   `db:"regime_component"`
	Details    []byte    `db:"details"`
	CreatedAt  time.Time `db:"created_at"`
}

// signalDetails holds what has no dedicated column.
type signalDetails struct {
	Inputs      models.ComponentValues `json:"normalized_inputs"`
	Weights     models.ComponentValues `json:"weights"`
	Explanation models.Explanation     `json:"explanation"`
}

func toRow(s *models.Signal) (signalRow, error) {
	details, err := json.Marshal(signalDetails{
		Inputs:      s.Inputs,
		Weights:     s.Weights,
		Explanation: s.Explanation,
	})
	if err != nil {
		return signalRow{}, fmt.Errorf("marshal signal details: %w", err)
	}
	return signalRow{
		ID:         s.ID,
		Symbol:     s.Symbol,
		SignalType: string(s.Type),
		CMSScore:   s.Score,
		Confidence: s.Confidence,
		Sentiment:  s.Contributions.Sentiment,
		Technical:  s.Contributions.Technical,
		Regime:     s.Contributions.Regime,
		Details:    details,
		CreatedAt:  s.Timestamp.UTC(),
	}, nil
}

func (r signalRow) toSignal() (*models.Signal, error) {
	var d signalDetails
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &d); err != nil {
			return nil, fmt.Errorf("unmarshal signal %s details: %w", r.ID, err)
		}
	}
	return &models.Signal{
		ID:     r.ID,
		Symbol: r.Symbol,
		Type:   models.SignalType(r.SignalType),
		CompositeScore: models.CompositeScore{
			Score:      r.CMSScore,
			Confidence: r.Confidence,
			Inputs:     d.Inputs,
			Weights:    d.Weights,
			Contributions: models.ComponentValues{
				Sentiment: r.Sentiment,
				Technical: r.Technical,
				Regime:    r.Regime,
			},
		},
		Explanation: d.Explanation,
		Timestamp:   r.CreatedAt.UTC(),
	}, nil
}
