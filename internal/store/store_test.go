package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGuildConfigCreatedWithDefaults(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.GuildConfig(42)
	if err != nil {
		t.Fatalf("GuildConfig: %v", err)
	}
	if cfg.DefaultPeriod != 14 {
		t.Errorf("DefaultPeriod = %d, want 14", cfg.DefaultPeriod)
	}
	if cfg.DefaultCooldownHrs != 24 {
		t.Errorf("DefaultCooldownHrs = %d, want 24", cfg.DefaultCooldownHrs)
	}
	if cfg.AlertMode != model.ModeCrossing {
		t.Errorf("AlertMode = %q, want CROSSING", cfg.AlertMode)
	}
	if cfg.Hysteresis != 2.0 {
		t.Errorf("Hysteresis = %v, want 2.0", cfg.Hysteresis)
	}
	if cfg.AutoOversold != 34 || cfg.AutoOverbought != 70 {
		t.Errorf("auto thresholds = %v/%v, want 34/70", cfg.AutoOversold, cfg.AutoOverbought)
	}
	if !cfg.ScheduleEnabled {
		t.Error("ScheduleEnabled = false, want true")
	}
	if cfg.OversoldChannelID != "" {
		t.Errorf("OversoldChannelID = %q, want empty", cfg.OversoldChannelID)
	}

	ids, err := s.GuildIDs()
	if err != nil {
		t.Fatalf("GuildIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != 42 {
		t.Errorf("GuildIDs = %v, want [42]", ids)
	}
}

func TestUpdateGuildConfigPartial(t *testing.T) {
	s := newTestStore(t)

	hyst := 3.5
	channel := "123456789"
	cfg, err := s.UpdateGuildConfig(42, model.GuildConfigUpdate{
		Hysteresis:        &hyst,
		OversoldChannelID: &channel,
	})
	if err != nil {
		t.Fatalf("UpdateGuildConfig: %v", err)
	}
	if cfg.Hysteresis != 3.5 {
		t.Errorf("Hysteresis = %v, want 3.5", cfg.Hysteresis)
	}
	if cfg.OversoldChannelID != channel {
		t.Errorf("OversoldChannelID = %q, want %q", cfg.OversoldChannelID, channel)
	}
	// Untouched fields keep the defaults.
	if cfg.DefaultCooldownHrs != 24 {
		t.Errorf("DefaultCooldownHrs = %d, want 24", cfg.DefaultCooldownHrs)
	}
	if cfg.AlertMode != model.ModeCrossing {
		t.Errorf("AlertMode = %q, want CROSSING", cfg.AlertMode)
	}
}

func TestCreateSubscription(t *testing.T) {
	s := newTestStore(t)

	sub, err := s.CreateSubscription(1, "eqnr.ol", model.ConditionUnder, 40, 14, 24, 99)
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if sub.Ticker != "EQNR.OL" {
		t.Errorf("Ticker = %q, want uppercased EQNR.OL", sub.Ticker)
	}
	if !sub.Enabled {
		t.Error("new subscription should be enabled")
	}

	// The initial state row exists with the never-evaluated markers.
	state, err := s.SubscriptionState(sub.ID)
	if err != nil {
		t.Fatalf("SubscriptionState: %v", err)
	}
	if state.Evaluated() {
		t.Error("fresh subscription should not be evaluated")
	}
	if state.LastStatus != model.StatusUnknown {
		t.Errorf("LastStatus = %q, want UNKNOWN", state.LastStatus)
	}
	if state.DaysInZone != 0 {
		t.Errorf("DaysInZone = %d, want 0", state.DaysInZone)
	}
}

func TestCreateSubscriptionRejections(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateSubscription(1, "AAPL", model.ConditionUnder, 40, 21, 24, 0); !errors.Is(err, ErrUnsupportedPeriod) {
		t.Errorf("period 21: err = %v, want ErrUnsupportedPeriod", err)
	}
	if _, err := s.CreateSubscription(1, "AAPL", "SIDEWAYS", 40, 14, 24, 0); err == nil {
		t.Error("invalid condition accepted")
	}

	if _, err := s.CreateSubscription(1, "AAPL", model.ConditionUnder, 40, 14, 24, 0); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateSubscription(1, "AAPL", model.ConditionUnder, 40, 14, 24, 0); !errors.Is(err, ErrDuplicateSubscription) {
		t.Errorf("duplicate: err = %v, want ErrDuplicateSubscription", err)
	}
	// Different threshold is a different rule.
	if _, err := s.CreateSubscription(1, "AAPL", model.ConditionUnder, 35, 14, 24, 0); err != nil {
		t.Errorf("distinct threshold rejected: %v", err)
	}
	// Same rule in another guild is fine.
	if _, err := s.CreateSubscription(2, "AAPL", model.ConditionUnder, 40, 14, 24, 0); err != nil {
		t.Errorf("same rule in other guild rejected: %v", err)
	}
}

func TestDeleteSubscriptionGuildScoped(t *testing.T) {
	s := newTestStore(t)

	sub, err := s.CreateSubscription(1, "AAPL", model.ConditionOver, 70, 14, 24, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.DeleteSubscription(sub.ID, 2)
	if err != nil {
		t.Fatalf("delete wrong guild: %v", err)
	}
	if ok {
		t.Error("delete with wrong guild id succeeded")
	}

	ok, err = s.DeleteSubscription(sub.ID, 1)
	if err != nil || !ok {
		t.Fatalf("delete = (%v, %v), want (true, nil)", ok, err)
	}

	// State row cascades.
	if _, err := s.SubscriptionState(sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("state after delete: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateSubscriptionStateRoundtrip(t *testing.T) {
	s := newTestStore(t)

	sub, err := s.CreateSubscription(1, "EQNR.OL", model.ConditionUnder, 40, 14, 24, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rsi, lastClose := 37.4, 251.30
	date := "2026-08-28"
	status := model.StatusBelow
	days := 3
	firedAt := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	err = s.UpdateSubscriptionState(sub.ID, model.StateUpdate{
		LastRSI: &rsi, LastClose: &lastClose, LastDate: &date,
		LastStatus: &status, LastAlertAt: &firedAt, DaysInZone: &days,
	})
	if err != nil {
		t.Fatalf("update state: %v", err)
	}

	state, err := s.SubscriptionState(sub.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !state.Evaluated() || *state.LastRSI != 37.4 {
		t.Errorf("LastRSI = %v, want 37.4", state.LastRSI)
	}
	if state.LastStatus != model.StatusBelow || state.DaysInZone != 3 {
		t.Errorf("state = %q/%d, want BELOW/3", state.LastStatus, state.DaysInZone)
	}
	if state.LastAlertAt == nil || !state.LastAlertAt.Equal(firedAt) {
		t.Errorf("LastAlertAt = %v, want %v", state.LastAlertAt, firedAt)
	}

	// Partial write leaves everything else alone.
	days = 4
	if err := s.UpdateSubscriptionState(sub.ID, model.StateUpdate{DaysInZone: &days}); err != nil {
		t.Fatalf("partial update: %v", err)
	}
	state, _ = s.SubscriptionState(sub.ID)
	if state.DaysInZone != 4 || *state.LastRSI != 37.4 {
		t.Errorf("after partial update: days=%d rsi=%v, want 4/37.4", state.DaysInZone, *state.LastRSI)
	}
}

func TestSubscriptionsWithStateMalformedTimestamp(t *testing.T) {
	s := newTestStore(t)

	sub, err := s.CreateSubscription(1, "AAPL", model.ConditionUnder, 40, 14, 24, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.db.Exec(
		`UPDATE subscription_state SET last_alert_at = 'not-a-timestamp' WHERE subscription_id = ?`,
		sub.ID); err != nil {
		t.Fatalf("seed malformed timestamp: %v", err)
	}

	subs, err := s.SubscriptionsWithState(1)
	if err != nil {
		t.Fatalf("SubscriptionsWithState: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subs))
	}
	if subs[0].State.LastAlertAt != nil {
		t.Error("malformed last_alert_at should read back as absent")
	}
}

func TestScanMembershipLifecycle(t *testing.T) {
	s := newTestStore(t)
	const day = "2026-08-28"

	m, err := s.ScanMembership(1, day, model.ConditionUnder)
	if err != nil {
		t.Fatalf("empty get: %v", err)
	}
	if len(m.Tickers) != 0 || m.PostCount != 0 {
		t.Errorf("fresh cell = %v/%d, want empty/0", m.Tickers, m.PostCount)
	}

	// First scan posts two newcomers.
	if err := s.UpdateScanMembership(1, day, model.ConditionUnder, []string{"NHY.OL", "EQNR.OL"}, true); err != nil {
		t.Fatalf("first update: %v", err)
	}
	m, _ = s.ScanMembership(1, day, model.ConditionUnder)
	if len(m.Tickers) != 2 || m.Tickers[0] != "EQNR.OL" {
		t.Errorf("tickers = %v, want sorted [EQNR.OL NHY.OL]", m.Tickers)
	}
	if m.PostCount != 1 {
		t.Errorf("PostCount = %d, want 1", m.PostCount)
	}
	if m.LastScanTime == nil {
		t.Error("LastScanTime not recorded")
	}

	// Second scan, nothing new to post: membership replaced, counter held.
	if err := s.UpdateScanMembership(1, day, model.ConditionUnder, []string{"EQNR.OL"}, false); err != nil {
		t.Fatalf("second update: %v", err)
	}
	m, _ = s.ScanMembership(1, day, model.ConditionUnder)
	if len(m.Tickers) != 1 || m.PostCount != 1 {
		t.Errorf("after quiet scan = %v/%d, want [EQNR.OL]/1", m.Tickers, m.PostCount)
	}

	// Conditions are independent cells.
	over, _ := s.ScanMembership(1, day, model.ConditionOver)
	if len(over.Tickers) != 0 {
		t.Errorf("OVER cell = %v, want empty", over.Tickers)
	}
}

func TestPurgeScanMemberships(t *testing.T) {
	s := newTestStore(t)

	old := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02")
	today := time.Now().UTC().Format("2006-01-02")
	if err := s.UpdateScanMembership(1, old, model.ConditionUnder, []string{"AAPL"}, true); err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if err := s.UpdateScanMembership(1, today, model.ConditionUnder, []string{"MSFT"}, true); err != nil {
		t.Fatalf("seed today: %v", err)
	}

	n, err := s.PurgeScanMemberships(7)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	m, _ := s.ScanMembership(1, today, model.ConditionUnder)
	if len(m.Tickers) != 1 {
		t.Error("today's membership purged")
	}
}

func TestTickerRSIUpsert(t *testing.T) {
	s := newTestStore(t)

	batch := []model.TickerRSI{
		{Ticker: "EQNR.OL", TradingViewSlug: "OSL:EQNR", RSI14: 37.4, LastClose: 251.3, DataDate: "2026-08-28"},
		{Ticker: "AAPL", TradingViewSlug: "NASDAQ:AAPL", RSI14: 61.2, LastClose: 232.1, DataDate: "2026-08-28"},
	}
	if err := s.UpsertTickerRSI(batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Re-fetch with a newer value and no slug: value replaced, slug kept.
	if err := s.UpsertTickerRSI([]model.TickerRSI{
		{Ticker: "EQNR.OL", RSI14: 39.1, LastClose: 255.0, DataDate: "2026-08-29"},
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.TickerRSI("EQNR.OL")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RSI14 != 39.1 || got.DataDate != "2026-08-29" {
		t.Errorf("got %v/%s, want 39.1/2026-08-29", got.RSI14, got.DataDate)
	}
	if got.TradingViewSlug != "OSL:EQNR" {
		t.Errorf("slug = %q, want stored OSL:EQNR kept", got.TradingViewSlug)
	}

	all, err := s.AllTickerRSI()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("cache size = %d, want 2", len(all))
	}

	if _, err := s.TickerRSI("MISSING"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing ticker: err = %v, want ErrNotFound", err)
	}
}
