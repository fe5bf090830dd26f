package engine

import (
	"testing"
	"time"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

type fakeStore struct {
	cfg     model.GuildConfig
	updates map[int64][]model.StateUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cfg: model.GuildConfig{
			GuildID:        1,
			DefaultPeriod:  14,
			AlertMode:      model.ModeCrossing,
			Hysteresis:     2.0,
			AutoOversold:   34,
			AutoOverbought: 70,
		},
		updates: make(map[int64][]model.StateUpdate),
	}
}

func (f *fakeStore) GuildConfig(int64) (model.GuildConfig, error) { return f.cfg, nil }

func (f *fakeStore) UpdateSubscriptionState(id int64, upd model.StateUpdate) error {
	f.updates[id] = append(f.updates[id], upd)
	return nil
}

type fakeCatalog struct{}

func (fakeCatalog) Name(ticker string) string     { return "Name of " + ticker }
func (fakeCatalog) ChartURL(ticker string) string { return "https://charts.example/" + ticker }

func reading(ticker string, rsi float64, date string) model.Reading {
	return model.Reading{
		Ticker:    ticker,
		Values:    map[int]float64{14: rsi},
		LastClose: 100,
		LastDate:  date,
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}
}

func sub(id int64, ticker string, cond model.Condition, threshold float64, cooldownHours int, state model.SubscriptionState) model.SubscriptionWithState {
	return model.SubscriptionWithState{
		Subscription: model.Subscription{
			ID: id, GuildID: 1, Ticker: ticker, Condition: cond,
			Threshold: threshold, Period: 14, CooldownHours: cooldownHours, Enabled: true,
		},
		State: state,
	}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestEvaluateFreshCrossing(t *testing.T) {
	// Rule UNDER 30, cooldown 24h, CROSSING, hysteresis 2. Previous
	// status ABOVE, counter 0. Reading 27.5 on a new trading day: below
	// T-h, so the status machine leaves the dead band and classifies
	// BELOW.
	st := newFakeStore()
	now := time.Date(2026, 8, 28, 16, 30, 0, 0, time.UTC)
	e := NewWithClock(st, fakeCatalog{}, fixedClock(now))

	prevRSI := 35.0
	prevDate := "2026-08-27"
	subs := []model.SubscriptionWithState{
		sub(1, "EQNR.OL", model.ConditionUnder, 30, 24, model.SubscriptionState{
			SubscriptionID: 1, LastRSI: &prevRSI, LastDate: &prevDate,
			LastStatus: model.StatusAbove, DaysInZone: 0,
		}),
	}
	readings := map[string]model.Reading{"EQNR.OL": reading("EQNR.OL", 27.5, "2026-08-28")}

	set, sum := e.EvaluateSubscriptions(subs, readings, false)

	if sum.Triggered != 1 || sum.Suppressed != 0 {
		t.Fatalf("summary = %+v, want 1 triggered", sum)
	}
	if len(set.Under) != 1 {
		t.Fatalf("got %d UNDER alerts, want 1", len(set.Under))
	}
	a := set.Under[0]
	if a.RSIValue != 27.5 || a.DaysInZone != 1 || !a.JustCrossed {
		t.Errorf("alert = rsi %v, days %d, crossed %v; want 27.5, 1, true", a.RSIValue, a.DaysInZone, a.JustCrossed)
	}
	if a.Name != "Name of EQNR.OL" || a.ChartURL == "" {
		t.Errorf("alert not resolved through catalog: %+v", a)
	}

	if len(st.updates[1]) != 1 {
		t.Fatalf("got %d state writes, want 1", len(st.updates[1]))
	}
	upd := st.updates[1][0]
	if *upd.LastStatus != model.StatusBelow || *upd.DaysInZone != 1 {
		t.Errorf("state write = %s/%d, want BELOW/1", *upd.LastStatus, *upd.DaysInZone)
	}
	if upd.LastAlertAt == nil || !upd.LastAlertAt.Equal(now) {
		t.Errorf("LastAlertAt = %v, want %v", upd.LastAlertAt, now)
	}
}

func TestEvaluateInsideBandDoesNotCross(t *testing.T) {
	// 28.5 against UNDER 30 with hysteresis 2 sits inside the dead band:
	// status UNKNOWN, no crossing, no alert. The raw zone counter still
	// starts because 28.5 < 30.
	st := newFakeStore()
	e := New(st, fakeCatalog{})

	prevRSI := 35.0
	prevDate := "2026-08-27"
	subs := []model.SubscriptionWithState{
		sub(1, "EQNR.OL", model.ConditionUnder, 30, 24, model.SubscriptionState{
			SubscriptionID: 1, LastRSI: &prevRSI, LastDate: &prevDate,
			LastStatus: model.StatusAbove, DaysInZone: 0,
		}),
	}
	readings := map[string]model.Reading{"EQNR.OL": reading("EQNR.OL", 28.5, "2026-08-28")}

	set, sum := e.EvaluateSubscriptions(subs, readings, false)
	if set.Total() != 0 || sum.Triggered != 0 {
		t.Fatalf("in-band value triggered: %+v", sum)
	}
	upd := st.updates[1][0]
	if *upd.LastStatus != model.StatusUnknown {
		t.Errorf("status = %s, want UNKNOWN inside the band", *upd.LastStatus)
	}
	if *upd.DaysInZone != 1 {
		t.Errorf("DaysInZone = %d, want 1 (raw threshold, not banded)", *upd.DaysInZone)
	}
	if upd.LastAlertAt != nil {
		t.Error("no trigger, LastAlertAt must stay untouched")
	}
}

func TestEvaluateSecondDayNoRetrigger(t *testing.T) {
	// Next day, still below threshold, previous status BELOW: counter
	// advances, no new alert in CROSSING mode.
	st := newFakeStore()
	e := New(st, fakeCatalog{})

	prevRSI := 27.5
	prevDate := "2026-08-28"
	state := model.SubscriptionState{
		SubscriptionID: 1, LastRSI: &prevRSI, LastDate: &prevDate,
		LastStatus: model.StatusBelow, DaysInZone: 1,
	}
	subs := []model.SubscriptionWithState{sub(1, "EQNR.OL", model.ConditionUnder, 30, 24, state)}
	readings := map[string]model.Reading{"EQNR.OL": reading("EQNR.OL", 27.0, "2026-08-29")}

	set, sum := e.EvaluateSubscriptions(subs, readings, false)
	if set.Total() != 0 || sum.Triggered != 0 {
		t.Fatalf("CROSSING re-triggered inside zone: %+v", sum)
	}
	upd := st.updates[1][0]
	if *upd.DaysInZone != 2 {
		t.Errorf("DaysInZone = %d, want 2", *upd.DaysInZone)
	}
	if upd.LastAlertAt != nil {
		t.Error("quiet cycle must not touch LastAlertAt")
	}

	// The same cycle in LEVEL mode does trigger.
	st2 := newFakeStore()
	st2.cfg.AlertMode = model.ModeLevel
	e2 := New(st2, fakeCatalog{})
	set, sum = e2.EvaluateSubscriptions([]model.SubscriptionWithState{sub(1, "EQNR.OL", model.ConditionUnder, 30, 24, state)}, readings, false)
	if sum.Triggered != 1 || len(set.Under) != 1 {
		t.Fatalf("LEVEL mode should trigger every in-zone cycle: %+v", sum)
	}
}

func TestCooldownSuppression(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	firedAt := now.Add(-time.Hour)
	prevRSI := 35.0
	prevDate := "2026-08-27"

	mkState := func() model.SubscriptionState {
		return model.SubscriptionState{
			SubscriptionID: 1, LastRSI: &prevRSI, LastDate: &prevDate,
			LastStatus: model.StatusAbove, LastAlertAt: &firedAt,
		}
	}
	readings := map[string]model.Reading{"EQNR.OL": reading("EQNR.OL", 25, "2026-08-28")}

	// 24h cooldown, fired 1h ago: suppressed.
	st := newFakeStore()
	e := NewWithClock(st, fakeCatalog{}, fixedClock(now))
	set, sum := e.EvaluateSubscriptions([]model.SubscriptionWithState{
		sub(1, "EQNR.OL", model.ConditionUnder, 30, 24, mkState()),
	}, readings, false)
	if set.Total() != 0 || sum.Suppressed != 1 {
		t.Fatalf("want suppression, got %+v", sum)
	}
	// Suppressed cycles still update status but never the fired-at mark.
	if upd := st.updates[1][0]; upd.LastAlertAt != nil {
		t.Error("suppressed cycle must not refresh LastAlertAt")
	}

	// Zero cooldown: fires.
	st = newFakeStore()
	e = NewWithClock(st, fakeCatalog{}, fixedClock(now))
	set, sum = e.EvaluateSubscriptions([]model.SubscriptionWithState{
		sub(1, "EQNR.OL", model.ConditionUnder, 30, 0, mkState()),
	}, readings, false)
	if sum.Triggered != 1 || set.Total() != 1 {
		t.Fatalf("zero cooldown should fire, got %+v", sum)
	}

	// Cooldown expired: fires.
	st = newFakeStore()
	e = NewWithClock(st, fakeCatalog{}, fixedClock(now.Add(25*time.Hour)))
	_, sum = e.EvaluateSubscriptions([]model.SubscriptionWithState{
		sub(1, "EQNR.OL", model.ConditionUnder, 30, 24, mkState()),
	}, readings, false)
	if sum.Triggered != 1 {
		t.Fatalf("expired cooldown should fire, got %+v", sum)
	}
}

func TestMissingDataIsNoOp(t *testing.T) {
	st := newFakeStore()
	e := New(st, fakeCatalog{})

	subs := []model.SubscriptionWithState{
		sub(1, "NODATA.OL", model.ConditionUnder, 30, 24, model.SubscriptionState{SubscriptionID: 1}),
		sub(2, "FAILED.OL", model.ConditionUnder, 30, 24, model.SubscriptionState{SubscriptionID: 2}),
	}
	readings := map[string]model.Reading{
		"FAILED.OL": {Ticker: "FAILED.OL", Err: "timeout"},
	}

	set, sum := e.EvaluateSubscriptions(subs, readings, false)
	if set.Total() != 0 {
		t.Fatalf("alerts from missing data: %d", set.Total())
	}
	if sum.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", sum.Skipped)
	}
	if len(st.updates) != 0 {
		t.Errorf("state written for skipped rules: %v", st.updates)
	}
}

func TestDryRunPurity(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	e := NewWithClock(st, fakeCatalog{}, fixedClock(now))

	firedAt := now.Add(-time.Hour)
	prevRSI := 35.0
	prevDate := "2026-08-27"
	subs := []model.SubscriptionWithState{
		sub(1, "EQNR.OL", model.ConditionUnder, 30, 24, model.SubscriptionState{
			SubscriptionID: 1, LastRSI: &prevRSI, LastDate: &prevDate,
			LastStatus: model.StatusAbove, LastAlertAt: &firedAt,
		}),
	}
	readings := map[string]model.Reading{"EQNR.OL": reading("EQNR.OL", 25, "2026-08-28")}

	first, _ := e.EvaluateSubscriptions(subs, readings, true)
	second, _ := e.EvaluateSubscriptions(subs, readings, true)

	// Identical output both times: dry run bypasses the cooldown (the
	// preview shows the alert the 1h-old fired-at mark would suppress)
	// and writes nothing.
	if first.Total() != 1 || second.Total() != 1 {
		t.Fatalf("dry run totals = %d then %d, want 1 and 1", first.Total(), second.Total())
	}
	if first.Under[0] != second.Under[0] {
		t.Errorf("dry runs diverged:\n%+v\n%+v", first.Under[0], second.Under[0])
	}
	if len(st.updates) != 0 {
		t.Errorf("dry run wrote state: %v", st.updates)
	}
}

func TestAlertOrdering(t *testing.T) {
	st := newFakeStore()
	e := New(st, fakeCatalog{})

	subs := []model.SubscriptionWithState{
		sub(1, "A.OL", model.ConditionUnder, 40, 0, model.SubscriptionState{SubscriptionID: 1}),
		sub(2, "B.OL", model.ConditionUnder, 40, 0, model.SubscriptionState{SubscriptionID: 2}),
		sub(3, "C.OL", model.ConditionOver, 70, 0, model.SubscriptionState{SubscriptionID: 3}),
		sub(4, "D.OL", model.ConditionOver, 70, 0, model.SubscriptionState{SubscriptionID: 4}),
	}
	readings := map[string]model.Reading{
		"A.OL": reading("A.OL", 35, "2026-08-28"),
		"B.OL": reading("B.OL", 22, "2026-08-28"),
		"C.OL": reading("C.OL", 74, "2026-08-28"),
		"D.OL": reading("D.OL", 91, "2026-08-28"),
	}

	set, _ := e.EvaluateSubscriptions(subs, readings, false)
	if len(set.Under) != 2 || len(set.Over) != 2 {
		t.Fatalf("set sizes = %d/%d, want 2/2", len(set.Under), len(set.Over))
	}
	if set.Under[0].Ticker != "B.OL" {
		t.Errorf("deepest oversold first: got %s", set.Under[0].Ticker)
	}
	if set.Over[0].Ticker != "D.OL" {
		t.Errorf("deepest overbought first: got %s", set.Over[0].Ticker)
	}
}
