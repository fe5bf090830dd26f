package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// UpsertTickerRSI writes a batch of fetched RSI values into the shared
// per-ticker cache. Last write wins per ticker; an empty incoming slug
// keeps the stored one.
func (s *Store) UpsertTickerRSI(readings []model.TickerRSI) error {
	if len(readings) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	for _, r := range readings {
		var ts sql.NullString
		if r.DataTimestamp != nil {
			ts = sql.NullString{String: r.DataTimestamp.UTC().Format(timeLayout), Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO ticker_rsi (ticker, tradingview_slug, rsi_14, last_close, data_date, data_timestamp, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(ticker) DO UPDATE SET
				tradingview_slug = COALESCE(NULLIF(excluded.tradingview_slug, ''), ticker_rsi.tradingview_slug),
				rsi_14           = excluded.rsi_14,
				last_close       = excluded.last_close,
				data_date        = excluded.data_date,
				data_timestamp   = excluded.data_timestamp,
				updated_at       = excluded.updated_at`,
			r.Ticker, r.TradingViewSlug, r.RSI14, r.LastClose, r.DataDate, ts, now)
		if err != nil {
			return fmt.Errorf("upsert ticker %s: %w", r.Ticker, err)
		}
	}
	return tx.Commit()
}

type tickerRSIRow struct {
	Ticker        string         `db:"ticker"`
	Slug          string         `db:"tradingview_slug"`
	RSI14         float64        `db:"rsi_14"`
	LastClose     float64        `db:"last_close"`
	DataDate      string         `db:"data_date"`
	DataTimestamp sql.NullString `db:"data_timestamp"`
	UpdatedAt     string         `db:"updated_at"`
}

func (r tickerRSIRow) toModel() model.TickerRSI {
	out := model.TickerRSI{
		Ticker:          r.Ticker,
		TradingViewSlug: r.Slug,
		RSI14:           r.RSI14,
		LastClose:       r.LastClose,
		DataDate:        r.DataDate,
	}
	if t, err := time.Parse(timeLayout, r.UpdatedAt); err == nil {
		out.UpdatedAt = t
	}
	if r.DataTimestamp.Valid {
		if t, err := time.Parse(timeLayout, r.DataTimestamp.String); err == nil {
			out.DataTimestamp = &t
		}
	}
	return out
}

// TickerRSI fetches the cached value for one ticker.
func (s *Store) TickerRSI(ticker string) (model.TickerRSI, error) {
	var row tickerRSIRow
	err := s.db.Get(&row, `SELECT * FROM ticker_rsi WHERE ticker = ?`, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TickerRSI{}, ErrNotFound
	}
	if err != nil {
		return model.TickerRSI{}, err
	}
	return row.toModel(), nil
}

// AllTickerRSI returns the whole cache, newest first.
func (s *Store) AllTickerRSI() ([]model.TickerRSI, error) {
	var rows []tickerRSIRow
	if err := s.db.Select(&rows, `SELECT * FROM ticker_rsi ORDER BY updated_at DESC, ticker`); err != nil {
		return nil, err
	}
	out := make([]model.TickerRSI, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// PurgeTickerRSI deletes cache entries not refreshed within the
// retention window.
func (s *Store) PurgeTickerRSI(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(timeLayout)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM ticker_rsi WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge ticker rsi: %w", err)
	}
	return res.RowsAffected()
}
