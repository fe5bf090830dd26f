package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// chartURLTemplate builds the TradingView chart link from a slug in
// EXCHANGE:SYMBOL form.
const chartURLTemplate = "https://www.tradingview.com/chart/?symbol=%s&interval=1D"

// Instrument is one row of the ticker catalog.
type Instrument struct {
	Ticker string
	Name   string
	Slug   string // TradingView slug, e.g. OSL:EQNR
}

// ChartURL returns the TradingView chart link for the instrument, or ""
// when no slug is known.
func (i Instrument) ChartURL() string {
	if i.Slug == "" {
		return ""
	}
	return fmt.Sprintf(chartURLTemplate, i.Slug)
}

// Catalog is the instrument reference table loaded from tickers.csv.
// It is an injected dependency, not a process-wide singleton; Reload
// replaces the table atomically so concurrent readers never see a
// partial view.
type Catalog struct {
	path string

	mu          sync.RWMutex
	instruments map[string]Instrument
}

// Load reads the catalog from the CSV file at path. The file must have a
// header row with columns ticker,name,tradingview_slug.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the CSV from disk and swaps in the new table. On error
// the previous table is kept.
func (c *Catalog) Reload() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read catalog header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"ticker", "name", "tradingview_slug"} {
		if _, ok := col[required]; !ok {
			return fmt.Errorf("catalog missing column %q", required)
		}
	}

	instruments := make(map[string]Instrument)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read catalog row: %w", err)
		}
		ticker := strings.ToUpper(strings.TrimSpace(record[col["ticker"]]))
		name := strings.TrimSpace(record[col["name"]])
		slug := strings.TrimSpace(record[col["tradingview_slug"]])
		if ticker == "" || name == "" {
			continue
		}
		instruments[ticker] = Instrument{Ticker: ticker, Name: name, Slug: slug}
	}

	c.mu.Lock()
	c.instruments = instruments
	c.mu.Unlock()
	return nil
}

// Instrument looks up a ticker.
func (c *Catalog) Instrument(ticker string) (Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in, ok := c.instruments[strings.ToUpper(ticker)]
	return in, ok
}

// Has reports whether the ticker exists in the catalog.
func (c *Catalog) Has(ticker string) bool {
	_, ok := c.Instrument(ticker)
	return ok
}

// Name returns the display name for a ticker, falling back to the ticker
// itself.
func (c *Catalog) Name(ticker string) string {
	if in, ok := c.Instrument(ticker); ok {
		return in.Name
	}
	return ticker
}

// ChartURL returns the chart link for a ticker, or "" when unknown.
func (c *Catalog) ChartURL(ticker string) string {
	if in, ok := c.Instrument(ticker); ok {
		return in.ChartURL()
	}
	return ""
}

// Slug returns the TradingView slug for a ticker, or "" when unknown.
func (c *Catalog) Slug(ticker string) string {
	if in, ok := c.Instrument(ticker); ok {
		return in.Slug
	}
	return ""
}

// Tickers returns all catalog tickers, sorted.
func (c *Catalog) Tickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.instruments))
	for t := range c.instruments {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of instruments.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}
