package engine

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// Store is the slice of the repository the engine needs: guild config
// resolution and per-rule state writes.
type Store interface {
	GuildConfig(guildID int64) (model.GuildConfig, error)
	UpdateSubscriptionState(subscriptionID int64, upd model.StateUpdate) error
}

// Catalog resolves display names and chart links for tickers.
type Catalog interface {
	Name(ticker string) string
	ChartURL(ticker string) string
}

// Summary reports what one evaluation cycle did, for changelog/status use.
type Summary struct {
	Subscriptions int
	Skipped       int
	Triggered     int
	Suppressed    int
}

// Engine evaluates subscriptions against a batch of readings and owns the
// state-transition and cooldown logic. It holds no locks; the caller must
// ensure at most one pass is mutating a given rule's state at a time.
type Engine struct {
	store   Store
	catalog Catalog
	now     func() time.Time
}

// New creates an Engine using the wall clock.
func New(store Store, catalog Catalog) *Engine {
	return &Engine{store: store, catalog: catalog, now: time.Now}
}

// NewWithClock creates an Engine with an injected clock, for tests.
func NewWithClock(store Store, catalog Catalog, now func() time.Time) *Engine {
	return &Engine{store: store, catalog: catalog, now: now}
}

// EvaluateSubscriptions runs one evaluation cycle over the given rules.
// Rules whose ticker has no successful reading, or whose period is absent
// from the reading, are skipped with no state mutation. When dryRun is set
// the pass is side-effect free: no state writes and no cooldown
// suppression. A failure on one rule never aborts the others.
func (e *Engine) EvaluateSubscriptions(subs []model.SubscriptionWithState, readings map[string]model.Reading, dryRun bool) (model.AlertSet, Summary) {
	var set model.AlertSet
	sum := Summary{Subscriptions: len(subs)}

	configs := make(map[int64]model.GuildConfig)

	for _, sub := range subs {
		cfg, ok := configs[sub.GuildID]
		if !ok {
			var err error
			cfg, err = e.store.GuildConfig(sub.GuildID)
			if err != nil {
				log.Printf("[ERROR] guild %d config: %v", sub.GuildID, err)
				sum.Skipped++
				continue
			}
			configs[sub.GuildID] = cfg
		}

		alert, res, err := e.evaluateOne(sub, readings, cfg, dryRun)
		if err != nil {
			log.Printf("[ERROR] evaluate subscription %d (%s): %v", sub.ID, sub.Ticker, err)
			continue
		}
		switch res {
		case resultSkipped:
			sum.Skipped++
		case resultSuppressed:
			sum.Suppressed++
		case resultTriggered:
			sum.Triggered++
		}
		if alert != nil {
			if alert.Condition == model.ConditionUnder {
				set.Under = append(set.Under, *alert)
			} else {
				set.Over = append(set.Over, *alert)
			}
		}
	}

	// Deepest oversold first, deepest overbought first.
	sort.SliceStable(set.Under, func(i, j int) bool { return set.Under[i].RSIValue < set.Under[j].RSIValue })
	sort.SliceStable(set.Over, func(i, j int) bool { return set.Over[i].RSIValue > set.Over[j].RSIValue })

	return set, sum
}

type evalResult int

const (
	resultQuiet evalResult = iota
	resultSkipped
	resultSuppressed
	resultTriggered
)

func (e *Engine) evaluateOne(sub model.SubscriptionWithState, readings map[string]model.Reading, cfg model.GuildConfig, dryRun bool) (*model.Alert, evalResult, error) {
	reading, ok := readings[sub.Ticker]
	if !ok || !reading.OK {
		return nil, resultSkipped, nil
	}
	value, ok := reading.Value(sub.Period)
	if !ok {
		return nil, resultSkipped, nil
	}

	prev := sub.State
	curStatus := ClassifyStatus(value, sub.Threshold, sub.Condition, cfg.Hysteresis)

	// Missing stored date counts as a new day: a fresh rule starts its
	// zone counter immediately.
	newDay := prev.LastDate == nil || *prev.LastDate != reading.LastDate

	days, justCrossed := UpdateZoneCounter(value, sub.Threshold, sub.Condition, prev.LastStatus, prev.DaysInZone, newDay)

	triggered := ShouldTrigger(value, sub.Threshold, sub.Condition, prev.LastStatus, curStatus, cfg.AlertMode, prev.Evaluated())

	result := resultQuiet
	if triggered {
		result = resultTriggered
	}

	// Cooldown gate. Dry runs bypass it so previews show every eligible
	// alert.
	if triggered && !dryRun && prev.LastAlertAt != nil {
		cooldown := time.Duration(sub.CooldownHours) * time.Hour
		if e.now().Before(prev.LastAlertAt.Add(cooldown)) {
			triggered = false
			result = resultSuppressed
		}
	}

	if !dryRun {
		upd := model.StateUpdate{
			LastRSI:    &value,
			LastClose:  &reading.LastClose,
			LastDate:   &reading.LastDate,
			LastStatus: &curStatus,
			DaysInZone: &days,
		}
		if triggered {
			firedAt := e.now().UTC()
			upd.LastAlertAt = &firedAt
		}
		if err := e.store.UpdateSubscriptionState(sub.ID, upd); err != nil {
			return nil, result, fmt.Errorf("update state: %w", err)
		}
	}

	if !triggered {
		return nil, result, nil
	}

	return &model.Alert{
		SubscriptionID: sub.ID,
		GuildID:        sub.GuildID,
		Ticker:         sub.Ticker,
		Name:           e.catalog.Name(sub.Ticker),
		Condition:      sub.Condition,
		Threshold:      sub.Threshold,
		Period:         sub.Period,
		RSIValue:       value,
		PreviousRSI:    prev.LastRSI,
		LastDate:       reading.LastDate,
		LastClose:      reading.LastClose,
		ChartURL:       e.catalog.ChartURL(sub.Ticker),
		DaysInZone:     days,
		JustCrossed:    justCrossed,
	}, result, nil
}
