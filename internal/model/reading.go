package model

import "time"

// Reading is one ticker's indicator snapshot from the quote source for a
// single evaluation cycle. A failed lookup is a Reading with OK=false; the
// engine treats it the same as a missing entry.
type Reading struct {
	Ticker    string
	Name      string
	Values    map[int]float64 // indicator period -> value
	LastClose float64
	LastDate  string // trading date, YYYY-MM-DD
	FetchedAt time.Time
	OK        bool
	Err       string
}

// Value returns the indicator value for the given period.
func (r Reading) Value(period int) (float64, bool) {
	v, ok := r.Values[period]
	return v, ok
}

// TickerRSI is the persisted per-ticker indicator cache, keyed by ticker
// only (not by rule), last-write-wins.
type TickerRSI struct {
	Ticker          string     `db:"ticker"`
	TradingViewSlug string     `db:"tradingview_slug"`
	RSI14           float64    `db:"rsi_14"`
	LastClose       float64    `db:"last_close"`
	DataDate        string     `db:"data_date"`
	DataTimestamp   *time.Time `db:"-"`
	UpdatedAt       time.Time  `db:"-"`
}
