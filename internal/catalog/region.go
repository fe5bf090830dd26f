package catalog

import (
	"strings"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// Yahoo Finance suffixes for European exchanges.
var europeanSuffixes = []string{
	".OL", // Oslo
	".ST", // Stockholm
	".CO", // Copenhagen
	".HE", // Helsinki
	".AS", // Amsterdam
	".PA", // Paris
	".DE", // Frankfurt
	".L",  // London
	".MI", // Milan
	".MC", // Madrid
	".SW", // Zurich
	".VI", // Vienna
	".BR", // Brussels
	".LS", // Lisbon
	".AT", // Athens
	".WA", // Warsaw
	".PR", // Prague
}

// Yahoo Finance suffixes for Canadian exchanges. Plain no-suffix tickers
// are US listings and land in the same region.
var usCanadaSuffixes = []string{
	".TO", // Toronto
	".V",  // TSX Venture
	".NE", // NEO
	".CN", // Canadian Securities Exchange
}

// ClassifyRegion maps a ticker symbol to its market region by exchange
// suffix. Pure and total: unrecognized suffixes are RegionOther, which
// scheduled scans skip.
func ClassifyRegion(ticker string) model.Region {
	t := strings.ToUpper(ticker)
	for _, s := range europeanSuffixes {
		if strings.HasSuffix(t, s) {
			return model.RegionEurope
		}
	}
	for _, s := range usCanadaSuffixes {
		if strings.HasSuffix(t, s) {
			return model.RegionUSCanada
		}
	}
	if !strings.Contains(t, ".") {
		return model.RegionUSCanada
	}
	return model.RegionOther
}

// FilterRegion returns the tickers belonging to the given region.
func FilterRegion(tickers []string, region model.Region) []string {
	var out []string
	for _, t := range tickers {
		if ClassifyRegion(t) == region {
			out = append(out, t)
		}
	}
	return out
}
