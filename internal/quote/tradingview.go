package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

const (
	scannerURL = "https://scanner.tradingview.com/global/scan"

	// The scanner rejects oversized symbol lists; 50 is the documented
	// safe ceiling.
	defaultBatchSize = 50
	retryBatchSize   = 10
)

// TradingViewSource fetches pre-computed RSI values from the TradingView
// screener API. Only the 14-period RSI is available through this
// endpoint.
type TradingViewSource struct {
	Client     *http.Client
	Slugs      SlugResolver
	URL        string
	BatchSize  int
	BatchDelay time.Duration
	RetryDelay time.Duration
	Retries    int
}

// NewTradingViewSource creates a screener client. proxyURL may be empty.
func NewTradingViewSource(slugs SlugResolver, proxyURL string) *TradingViewSource {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TradingViewSource{
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Slugs:      slugs,
		BatchSize:  defaultBatchSize,
		BatchDelay: time.Second,
		RetryDelay: 5 * time.Second,
		Retries:    2,
	}
}

func (s *TradingViewSource) Name() string { return "tradingview" }

// scanRequest is the screener POST body. Columns are positional in the
// response.
type scanRequest struct {
	Symbols struct {
		Tickers []string `json:"tickers"`
		Query   struct {
			Types []string `json:"types"`
		} `json:"query"`
	} `json:"symbols"`
	Columns []string `json:"columns"`
}

type scanResponse struct {
	TotalCount int `json:"totalCount"`
	Data       []struct {
		Symbol string `json:"s"`
		Values []any  `json:"d"`
	} `json:"data"`
}

var scanColumns = []string{"name", "close", "RSI", "RSI[1]", "update_mode"}

// Fetch resolves tickers to screener slugs, queries in batches, and
// retries failures in smaller batches. Tickers without a catalog slug
// fail immediately.
func (s *TradingViewSource) Fetch(ctx context.Context, tickers []string) (map[string]model.Reading, error) {
	results := make(map[string]model.Reading, len(tickers))
	if len(tickers) == 0 {
		return results, nil
	}

	now := time.Now().UTC()

	// slug -> exchange ticker, preserving request order for batching.
	type pair struct{ slug, ticker string }
	var pairs []pair
	for _, t := range tickers {
		slug := s.Slugs.Slug(t)
		if slug == "" {
			results[t] = model.Reading{Ticker: t, FetchedAt: now, Err: "no screener slug in catalog"}
			continue
		}
		pairs = append(pairs, pair{slug, t})
	}

	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	fetchBatches := func(batch []pair, size int) []pair {
		var failed []pair
		for i := 0; i < len(batch); i += size {
			end := i + size
			if end > len(batch) {
				end = len(batch)
			}
			chunk := batch[i:end]

			slugToTicker := make(map[string]string, len(chunk))
			slugs := make([]string, len(chunk))
			for j, p := range chunk {
				slugs[j] = p.slug
				slugToTicker[p.slug] = p.ticker
			}

			readings, err := s.fetchBatch(ctx, slugs)
			if err != nil {
				log.Printf("[WARN] tradingview batch of %d failed: %v", len(chunk), err)
				for _, p := range chunk {
					results[p.ticker] = model.Reading{Ticker: p.ticker, FetchedAt: now, Err: err.Error()}
					failed = append(failed, p)
				}
				continue
			}

			for _, p := range chunk {
				r, ok := readings[p.slug]
				if !ok {
					results[p.ticker] = model.Reading{Ticker: p.ticker, FetchedAt: now, Err: "not in screener results"}
					failed = append(failed, p)
					continue
				}
				r.Ticker = p.ticker
				if name := s.Slugs.Name(p.ticker); name != p.ticker {
					// Catalog names are curated; prefer them over screener names.
					r.Name = name
				}
				results[p.ticker] = r
			}

			if end < len(batch) && s.BatchDelay > 0 {
				select {
				case <-ctx.Done():
					return failed
				case <-time.After(s.BatchDelay):
				}
			}
		}
		return failed
	}

	failed := fetchBatches(pairs, batchSize)

	for attempt := 1; attempt <= s.Retries && len(failed) > 0 && ctx.Err() == nil; attempt++ {
		log.Printf("[INFO] tradingview retry %d/%d for %d tickers", attempt, s.Retries, len(failed))
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-time.After(s.RetryDelay):
		}
		failed = fetchBatches(failed, retryBatchSize)
	}

	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	log.Printf("[INFO] tradingview fetch complete: %d ok, %d failed", ok, len(results)-ok)
	return results, nil
}

// fetchBatch runs one screener query and returns readings keyed by slug.
func (s *TradingViewSource) fetchBatch(ctx context.Context, slugs []string) (map[string]model.Reading, error) {
	var reqBody scanRequest
	reqBody.Symbols.Tickers = slugs
	reqBody.Symbols.Query.Types = []string{}
	reqBody.Columns = scanColumns

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	endpoint := s.URL
	if endpoint == "" {
		endpoint = scannerURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tradingview fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tradingview read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tradingview: status %d, body: %.200s", resp.StatusCode, string(body))
	}

	var scan scanResponse
	if err := json.Unmarshal(body, &scan); err != nil {
		return nil, fmt.Errorf("tradingview decode: %w", err)
	}

	return parseScan(scan, time.Now().UTC()), nil
}

// parseScan converts one screener response into readings keyed by slug.
// Rows with a null RSI column become failed readings.
func parseScan(scan scanResponse, fetchedAt time.Time) map[string]model.Reading {
	out := make(map[string]model.Reading, len(scan.Data))
	for _, row := range scan.Data {
		r := model.Reading{
			Ticker:    row.Symbol,
			LastDate:  fetchedAt.Format("2006-01-02"),
			FetchedAt: fetchedAt,
		}
		if len(row.Values) < len(scanColumns) {
			r.Err = "short screener row"
			out[row.Symbol] = r
			continue
		}
		if name, ok := row.Values[0].(string); ok {
			r.Name = name
		}
		if c, ok := asFloat(row.Values[1]); ok {
			r.LastClose = c
		}
		rsi, ok := asFloat(row.Values[2])
		if !ok {
			r.Err = "RSI value not available"
			out[row.Symbol] = r
			continue
		}
		r.Values = map[int]float64{14: rsi}
		r.OK = true
		out[row.Symbol] = r
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
