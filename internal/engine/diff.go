package engine

import "sort"

// Diff returns the members of current that were not in previous, sorted.
// The caller persists the FULL current membership afterwards, so a member
// that stays in the zone across cycles never re-posts, while one that
// drops out and re-enters the same day is reported as new again.
func Diff(current, previous []string) []string {
	seen := make(map[string]struct{}, len(previous))
	for _, t := range previous {
		seen[t] = struct{}{}
	}
	var fresh []string
	for _, t := range current {
		if _, ok := seen[t]; !ok {
			fresh = append(fresh, t)
		}
	}
	sort.Strings(fresh)
	return fresh
}

// Membership collects the tickers from readings whose period-14 value is
// on the given side of the catalog-wide threshold. No hysteresis is
// applied here; the set differ is what suppresses repeats.
func Membership(values map[string]float64, threshold float64, under bool) []string {
	var members []string
	for ticker, v := range values {
		if under && v < threshold {
			members = append(members, ticker)
		}
		if !under && v > threshold {
			members = append(members, ticker)
		}
	}
	sort.Strings(members)
	return members
}
