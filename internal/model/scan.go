package model

import "time"

// Region buckets tickers by trading-hours window for scheduled scans.
type Region string

const (
	RegionEurope   Region = "europe"
	RegionUSCanada Region = "us_canada"
	RegionOther    Region = "other"
)

// ScanMembership records which tickers met a guild's catalog-wide threshold
// on a given day. The full current membership is stored each cycle so that
// unchanged members never re-post.
type ScanMembership struct {
	GuildID      int64
	ScanDate     string // YYYY-MM-DD
	Condition    Condition
	Tickers      []string
	LastScanTime *time.Time
	PostCount    int
}
