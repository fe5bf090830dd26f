package model

// Alert is a fully resolved trigger decision, ready for formatting.
// It is never persisted.
type Alert struct {
	SubscriptionID int64
	GuildID        int64
	Ticker         string
	Name           string
	Condition      Condition
	Threshold      float64
	Period         int
	RSIValue       float64
	PreviousRSI    *float64
	LastDate       string
	LastClose      float64
	ChartURL       string
	DaysInZone     int
	JustCrossed    bool
}

// AlertSet groups one cycle's alerts by condition. Under is sorted
// ascending by value (deepest oversold first), Over descending.
type AlertSet struct {
	Under []Alert
	Over  []Alert
}

// Total returns the number of alerts across both conditions.
func (s AlertSet) Total() int { return len(s.Under) + len(s.Over) }

// ForGuild returns the subset of alerts belonging to one guild, keeping
// the per-condition ordering.
func (s AlertSet) ForGuild(guildID int64) AlertSet {
	var out AlertSet
	for _, a := range s.Under {
		if a.GuildID == guildID {
			out.Under = append(out.Under, a)
		}
	}
	for _, a := range s.Over {
		if a.GuildID == guildID {
			out.Over = append(out.Over, a)
		}
	}
	return out
}
