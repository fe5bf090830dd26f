package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// ScanMembership returns the guild's stored membership set for one
// (scan_date, condition) cell. A missing row means no scan has run for
// that day yet and comes back as an empty membership.
func (s *Store) ScanMembership(guildID int64, scanDate string, cond model.Condition) (model.ScanMembership, error) {
	var row struct {
		GuildID      int64          `db:"guild_id"`
		ScanDate     string         `db:"scan_date"`
		Condition    string         `db:"condition"`
		TickersJSON  string         `db:"tickers_json"`
		LastScanTime sql.NullString `db:"last_scan_time"`
		PostCount    int            `db:"post_count"`
	}
	err := s.db.Get(&row,
		`SELECT guild_id, scan_date, condition, tickers_json, last_scan_time, post_count
		 FROM auto_scan_state
		 WHERE guild_id = ? AND scan_date = ? AND condition = ?`,
		guildID, scanDate, cond)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanMembership{GuildID: guildID, ScanDate: scanDate, Condition: cond}, nil
	}
	if err != nil {
		return model.ScanMembership{}, err
	}

	m := model.ScanMembership{
		GuildID:   row.GuildID,
		ScanDate:  row.ScanDate,
		Condition: model.Condition(row.Condition),
		PostCount: row.PostCount,
	}
	if err := json.Unmarshal([]byte(row.TickersJSON), &m.Tickers); err != nil {
		// Corrupt row; start the day over rather than fail every scan.
		m.Tickers = nil
	}
	if row.LastScanTime.Valid {
		if t, err := time.Parse(timeLayout, row.LastScanTime.String); err == nil {
			m.LastScanTime = &t
		}
	}
	return m, nil
}

// UpdateScanMembership stores the full membership set for the cell,
// replacing any previous set for the same day. posted bumps the day's
// post counter, an audit trail of how often the guild actually heard
// from a scan.
func (s *Store) UpdateScanMembership(guildID int64, scanDate string, cond model.Condition, tickers []string, posted bool) error {
	sorted := append([]string(nil), tickers...)
	sort.Strings(sorted)
	blob, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("marshal membership: %w", err)
	}

	bump := 0
	if posted {
		bump = 1
	}
	now := time.Now().UTC().Format(timeLayout)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO auto_scan_state (guild_id, scan_date, condition, tickers_json, last_scan_time, post_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(guild_id, scan_date, condition) DO UPDATE SET
			tickers_json   = excluded.tickers_json,
			last_scan_time = excluded.last_scan_time,
			post_count     = auto_scan_state.post_count + ?`,
		guildID, scanDate, cond, string(blob), now, bump, bump)
	if err != nil {
		return fmt.Errorf("update scan membership: %w", err)
	}
	return nil
}

// PurgeScanMemberships deletes membership rows older than the retention
// window. scan_date is YYYY-MM-DD so string comparison orders correctly.
func (s *Store) PurgeScanMemberships(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM auto_scan_state WHERE scan_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge scan memberships: %w", err)
	}
	return res.RowsAffected()
}
