package store

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced to the command layer.
var (
	ErrDuplicateSubscription = errors.New("subscription with these parameters already exists")
	ErrUnsupportedPeriod     = errors.New("unsupported RSI period: only 14 is available")
	ErrNotFound              = errors.New("not found")
)

// timeLayout is how instants are stored (TEXT, UTC).
const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// Store is the SQLite-backed repository for subscriptions, their state,
// guild configuration, auto-scan membership sets, and the per-ticker RSI
// cache.
type Store struct {
	db *sqlx.DB
	mu sync.Mutex
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer; SQLite serializes anyway and this avoids SQLITE_BUSY
	// on the Pi's slow storage.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS guild_config (
			guild_id                  INTEGER PRIMARY KEY,
			default_rsi_period        INTEGER NOT NULL DEFAULT 14,
			default_cooldown_hours    INTEGER NOT NULL DEFAULT 24,
			alert_mode                TEXT NOT NULL DEFAULT 'CROSSING',
			hysteresis                REAL NOT NULL DEFAULT 2.0,
			auto_oversold_threshold   REAL NOT NULL DEFAULT 34,
			auto_overbought_threshold REAL NOT NULL DEFAULT 70,
			schedule_enabled          INTEGER NOT NULL DEFAULT 1,
			oversold_channel_id       TEXT NOT NULL DEFAULT '',
			overbought_channel_id     TEXT NOT NULL DEFAULT '',
			changelog_channel_id      TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id           INTEGER NOT NULL,
			ticker             TEXT NOT NULL,
			condition          TEXT NOT NULL CHECK (condition IN ('UNDER', 'OVER')),
			threshold          REAL NOT NULL,
			period             INTEGER NOT NULL DEFAULT 14,
			cooldown_hours     INTEGER NOT NULL DEFAULT 24,
			enabled            INTEGER NOT NULL DEFAULT 1,
			created_by_user_id INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_guild ON subscriptions(guild_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_ticker ON subscriptions(ticker)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_unique
			ON subscriptions(guild_id, ticker, condition, threshold, period)`,

		`CREATE TABLE IF NOT EXISTS subscription_state (
			subscription_id INTEGER PRIMARY KEY,
			last_rsi        REAL,
			last_close      REAL,
			last_date       TEXT,
			last_status     TEXT NOT NULL DEFAULT 'UNKNOWN',
			last_alert_at   TEXT,
			days_in_zone    INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (subscription_id) REFERENCES subscriptions(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS auto_scan_state (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id       INTEGER NOT NULL,
			scan_date      TEXT NOT NULL,
			condition      TEXT NOT NULL CHECK (condition IN ('UNDER', 'OVER')),
			tickers_json   TEXT NOT NULL DEFAULT '[]',
			last_scan_time TEXT,
			post_count     INTEGER NOT NULL DEFAULT 0,
			UNIQUE(guild_id, scan_date, condition)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auto_scan_guild_date ON auto_scan_state(guild_id, scan_date)`,

		`CREATE TABLE IF NOT EXISTS ticker_rsi (
			ticker           TEXT PRIMARY KEY,
			tradingview_slug TEXT NOT NULL DEFAULT '',
			rsi_14           REAL NOT NULL,
			last_close       REAL NOT NULL DEFAULT 0,
			data_date        TEXT NOT NULL,
			data_timestamp   TEXT,
			updated_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticker_rsi_updated ON ticker_rsi(updated_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %.40q: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
