package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// CreateSubscription inserts a rule and its initial state atomically.
// Duplicate (ticker, condition, threshold, period) within a guild is
// rejected; unsupported periods are rejected here so the engine never
// sees them.
func (s *Store) CreateSubscription(guildID int64, ticker string, cond model.Condition, threshold float64, period, cooldownHours int, createdBy int64) (model.Subscription, error) {
	if period != model.DefaultRSIPeriod {
		return model.Subscription{}, ErrUnsupportedPeriod
	}
	if !cond.Valid() {
		return model.Subscription{}, fmt.Errorf("invalid condition %q", cond)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticker = strings.ToUpper(ticker)

	var exists int
	err := s.db.Get(&exists,
		`SELECT COUNT(*) FROM subscriptions
		 WHERE guild_id = ? AND ticker = ? AND condition = ? AND threshold = ? AND period = ?`,
		guildID, ticker, cond, threshold, period)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("check duplicate: %w", err)
	}
	if exists > 0 {
		return model.Subscription{}, ErrDuplicateSubscription
	}

	now := time.Now().UTC()
	nowStr := now.Format(timeLayout)

	tx, err := s.db.Beginx()
	if err != nil {
		return model.Subscription{}, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO subscriptions
		 (guild_id, ticker, condition, threshold, period, cooldown_hours, enabled, created_by_user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		guildID, ticker, cond, threshold, period, cooldownHours, createdBy, nowStr, nowStr)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Subscription{}, err
	}

	// Fresh working memory: never classified, zone counter at zero.
	if _, err := tx.Exec(
		`INSERT INTO subscription_state (subscription_id, last_status, days_in_zone) VALUES (?, 'UNKNOWN', 0)`,
		id); err != nil {
		return model.Subscription{}, fmt.Errorf("insert state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Subscription{}, err
	}

	return model.Subscription{
		ID: id, GuildID: guildID, Ticker: ticker, Condition: cond,
		Threshold: threshold, Period: period, CooldownHours: cooldownHours,
		Enabled: true, CreatedBy: createdBy, CreatedAt: now, UpdatedAt: now,
	}, nil
}

type subscriptionRow struct {
	ID            int64   `db:"id"`
	GuildID       int64   `db:"guild_id"`
	Ticker        string  `db:"ticker"`
	Condition     string  `db:"condition"`
	Threshold     float64 `db:"threshold"`
	Period        int     `db:"period"`
	CooldownHours int     `db:"cooldown_hours"`
	Enabled       bool    `db:"enabled"`
	CreatedBy     int64   `db:"created_by_user_id"`
	CreatedAt     string  `db:"created_at"`
	UpdatedAt     string  `db:"updated_at"`
}

func (r subscriptionRow) toModel() model.Subscription {
	created, _ := time.Parse(timeLayout, r.CreatedAt)
	updated, _ := time.Parse(timeLayout, r.UpdatedAt)
	return model.Subscription{
		ID: r.ID, GuildID: r.GuildID, Ticker: r.Ticker,
		Condition: model.Condition(r.Condition), Threshold: r.Threshold,
		Period: r.Period, CooldownHours: r.CooldownHours, Enabled: r.Enabled,
		CreatedBy: r.CreatedBy, CreatedAt: created, UpdatedAt: updated,
	}
}

// Subscription fetches one rule by id.
func (s *Store) Subscription(id int64) (model.Subscription, error) {
	var row subscriptionRow
	err := s.db.Get(&row, `SELECT * FROM subscriptions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, ErrNotFound
	}
	if err != nil {
		return model.Subscription{}, err
	}
	return row.toModel(), nil
}

// SubscriptionsByGuild lists a guild's rules ordered for display.
func (s *Store) SubscriptionsByGuild(guildID int64, enabledOnly bool) ([]model.Subscription, error) {
	query := `SELECT * FROM subscriptions WHERE guild_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY ticker, condition, threshold`

	var rows []subscriptionRow
	if err := s.db.Select(&rows, query, guildID); err != nil {
		return nil, err
	}
	subs := make([]model.Subscription, len(rows))
	for i, r := range rows {
		subs[i] = r.toModel()
	}
	return subs, nil
}

// DeleteSubscription removes a rule (and, via cascade, its state). The
// guild id must match so one guild cannot delete another's rules.
func (s *Store) DeleteSubscription(id, guildID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM subscriptions WHERE id = ? AND guild_id = ?`, id, guildID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetSubscriptionEnabled soft-disables or re-enables a rule.
func (s *Store) SetSubscriptionEnabled(id, guildID int64, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE subscriptions SET enabled = ?, updated_at = ? WHERE id = ? AND guild_id = ?`,
		enabled, time.Now().UTC().Format(timeLayout), id, guildID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type subscriptionStateRow struct {
	subscriptionRow
	LastRSI     *float64       `db:"last_rsi"`
	LastClose   *float64       `db:"last_close"`
	LastDate    *string        `db:"last_date"`
	LastStatus  sql.NullString `db:"last_status"`
	LastAlertAt sql.NullString `db:"last_alert_at"`
	DaysInZone  sql.NullInt64  `db:"days_in_zone"`
}

// SubscriptionsWithState joins enabled rules with their persisted state.
// guildID == 0 means all guilds. A malformed stored fired-at timestamp is
// logged and treated as absent rather than failing the batch.
func (s *Store) SubscriptionsWithState(guildID int64) ([]model.SubscriptionWithState, error) {
	query := `
		SELECT s.*, st.last_rsi, st.last_close, st.last_date,
		       st.last_status, st.last_alert_at, st.days_in_zone
		FROM subscriptions s
		LEFT JOIN subscription_state st ON s.id = st.subscription_id
		WHERE s.enabled = 1`
	args := []any{}
	if guildID != 0 {
		query += ` AND s.guild_id = ?`
		args = append(args, guildID)
	}
	query += ` ORDER BY s.id`

	var rows []subscriptionStateRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]model.SubscriptionWithState, len(rows))
	for i, r := range rows {
		state := model.SubscriptionState{
			SubscriptionID: r.ID,
			LastRSI:        r.LastRSI,
			LastClose:      r.LastClose,
			LastDate:       r.LastDate,
			LastStatus:     model.StatusUnknown,
			DaysInZone:     int(r.DaysInZone.Int64),
		}
		if r.LastStatus.Valid && r.LastStatus.String != "" {
			state.LastStatus = model.Status(r.LastStatus.String)
		}
		if r.LastAlertAt.Valid && r.LastAlertAt.String != "" {
			if t, err := time.Parse(timeLayout, r.LastAlertAt.String); err == nil {
				state.LastAlertAt = &t
			} else {
				log.Printf("[WARN] subscription %d: malformed last_alert_at %q, ignoring", r.ID, r.LastAlertAt.String)
			}
		}
		out[i] = model.SubscriptionWithState{Subscription: r.subscriptionRow.toModel(), State: state}
	}
	return out, nil
}

// UpdateSubscriptionState applies a partial state write; nil fields keep
// their stored value.
func (s *Store) UpdateSubscriptionState(subscriptionID int64, upd model.StateUpdate) error {
	var sets []string
	var args []any

	if upd.LastRSI != nil {
		sets, args = append(sets, "last_rsi = ?"), append(args, *upd.LastRSI)
	}
	if upd.LastClose != nil {
		sets, args = append(sets, "last_close = ?"), append(args, *upd.LastClose)
	}
	if upd.LastDate != nil {
		sets, args = append(sets, "last_date = ?"), append(args, *upd.LastDate)
	}
	if upd.LastStatus != nil {
		sets, args = append(sets, "last_status = ?"), append(args, string(*upd.LastStatus))
	}
	if upd.LastAlertAt != nil {
		sets, args = append(sets, "last_alert_at = ?"), append(args, upd.LastAlertAt.UTC().Format(timeLayout))
	}
	if upd.DaysInZone != nil {
		sets, args = append(sets, "days_in_zone = ?"), append(args, *upd.DaysInZone)
	}
	if len(sets) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	args = append(args, subscriptionID)
	_, err := s.db.Exec(
		fmt.Sprintf(`UPDATE subscription_state SET %s WHERE subscription_id = ?`, strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return fmt.Errorf("update subscription state %d: %w", subscriptionID, err)
	}
	return nil
}

// SubscriptionState fetches the raw state row for one rule.
func (s *Store) SubscriptionState(subscriptionID int64) (model.SubscriptionState, error) {
	var row struct {
		SubscriptionID int64          `db:"subscription_id"`
		LastRSI        *float64       `db:"last_rsi"`
		LastClose      *float64       `db:"last_close"`
		LastDate       *string        `db:"last_date"`
		LastStatus     string         `db:"last_status"`
		LastAlertAt    sql.NullString `db:"last_alert_at"`
		DaysInZone     int            `db:"days_in_zone"`
	}
	err := s.db.Get(&row, `SELECT * FROM subscription_state WHERE subscription_id = ?`, subscriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubscriptionState{}, ErrNotFound
	}
	if err != nil {
		return model.SubscriptionState{}, err
	}
	state := model.SubscriptionState{
		SubscriptionID: row.SubscriptionID,
		LastRSI:        row.LastRSI,
		LastClose:      row.LastClose,
		LastDate:       row.LastDate,
		LastStatus:     model.Status(row.LastStatus),
		DaysInZone:     row.DaysInZone,
	}
	if row.LastAlertAt.Valid && row.LastAlertAt.String != "" {
		if t, err := time.Parse(timeLayout, row.LastAlertAt.String); err == nil {
			state.LastAlertAt = &t
		}
	}
	return state, nil
}

// UniqueTickers lists distinct tickers across all enabled rules.
func (s *Store) UniqueTickers() ([]string, error) {
	var tickers []string
	err := s.db.Select(&tickers, `SELECT DISTINCT ticker FROM subscriptions WHERE enabled = 1 ORDER BY ticker`)
	return tickers, err
}
