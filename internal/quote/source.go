package quote

import (
	"context"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// Source fetches indicator readings for a set of tickers. Implementations
// return one Reading per requested ticker; lookups that fail come back
// with OK=false rather than being dropped, so callers can tell "source
// had no data" from "ticker never requested".
type Source interface {
	Fetch(ctx context.Context, tickers []string) (map[string]model.Reading, error)
	Name() string
}

// SlugResolver maps exchange tickers to the quote source's own symbol
// namespace. The instrument catalog satisfies this.
type SlugResolver interface {
	Slug(ticker string) string
	Name(ticker string) string
}
