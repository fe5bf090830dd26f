package quote

import (
	"context"
	"time"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// MockSource returns controllable fixed data for development and testing.
type MockSource struct {
	Readings    map[string]model.Reading
	Err         error
	Calls       int
	LastTickers []string
}

func (m *MockSource) Name() string { return "mock" }

// Fetch returns the canned reading for each requested ticker, or a
// failed reading when none is configured.
func (m *MockSource) Fetch(_ context.Context, tickers []string) (map[string]model.Reading, error) {
	m.Calls++
	m.LastTickers = append([]string(nil), tickers...)
	if m.Err != nil {
		return nil, m.Err
	}
	now := time.Now().UTC()
	out := make(map[string]model.Reading, len(tickers))
	for _, t := range tickers {
		if r, ok := m.Readings[t]; ok {
			out[t] = r
			continue
		}
		out[t] = model.Reading{Ticker: t, FetchedAt: now, Err: "no mock data"}
	}
	return out, nil
}
