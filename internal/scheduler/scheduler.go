package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/siverbl/rsi-pi-bot/internal/catalog"
	"github.com/siverbl/rsi-pi-bot/internal/engine"
	"github.com/siverbl/rsi-pi-bot/internal/metrics"
	"github.com/siverbl/rsi-pi-bot/internal/model"
	"github.com/siverbl/rsi-pi-bot/internal/notifier"
	"github.com/siverbl/rsi-pi-bot/internal/quote"
	"github.com/siverbl/rsi-pi-bot/internal/store"
)

// ChannelDefaults are the fallback alert channels used for guilds that
// have not configured their own routing yet.
type ChannelDefaults struct {
	Oversold   string
	Overbought string
	Changelog  string
}

// Scheduler manages all cron tasks: hourly region scans, the daily
// subscription check, and nightly retention purges.
type Scheduler struct {
	Cron     *cron.Cron
	Store    *store.Store
	Catalog  *catalog.Catalog
	Source   quote.Source
	Engine   *engine.Engine
	Notifier notifier.Notifier
	Metrics  metrics.MetricsCollector
	Defaults ChannelDefaults
	Location *time.Location
	Ctx      context.Context
}

// New creates a Scheduler whose cron clock runs in loc.
func New(ctx context.Context, loc *time.Location, st *store.Store, cat *catalog.Catalog, src quote.Source, eng *engine.Engine, n notifier.Notifier, m metrics.MetricsCollector, defaults ChannelDefaults) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		Store:    st,
		Catalog:  cat,
		Source:   src,
		Engine:   eng,
		Notifier: n,
		Metrics:  m,
		Defaults: defaults,
		Location: loc,
		Ctx:      ctx,
	}
}

// RegisterAll registers the region scans, daily check, and nightly purge.
func (s *Scheduler) RegisterAll(europeCron, usCanadaCron, dailyCron, purgeCron string) error {
	if _, err := s.Cron.AddFunc(europeCron, func() { s.RunAutoScan(model.RegionEurope) }); err != nil {
		return fmt.Errorf("register europe scan: %w", err)
	}
	if _, err := s.Cron.AddFunc(usCanadaCron, func() { s.RunAutoScan(model.RegionUSCanada) }); err != nil {
		return fmt.Errorf("register us/canada scan: %w", err)
	}
	if _, err := s.Cron.AddFunc(dailyCron, s.runDailyCheck); err != nil {
		return fmt.Errorf("register daily check: %w", err)
	}
	if _, err := s.Cron.AddFunc(purgeCron, s.nightlyPurge); err != nil {
		return fmt.Errorf("register purge: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] scheduler stopped")
}

// RunAutoScan runs one region's scan cycle: fetch the region's catalog
// and subscription tickers, persist RSI values, evaluate subscriptions
// once, then post per guild with membership change detection.
func (s *Scheduler) RunAutoScan(region model.Region) {
	runID := uuid.NewString()[:8]
	start := time.Now().In(s.Location)
	today := start.Format("2006-01-02")

	log.Printf("[INFO] auto-scan %s start: region=%s", runID, region)
	s.Metrics.RecordScanRun(string(region))
	defer func() {
		d := time.Since(start)
		s.Metrics.RecordScanDuration(string(region), d)
		log.Printf("[INFO] auto-scan %s done in %.1fs", runID, d.Seconds())
	}()

	catalogTickers := catalog.FilterRegion(s.Catalog.Tickers(), region)

	enabledGuilds, err := s.enabledGuildConfigs()
	if err != nil {
		log.Printf("[ERROR] auto-scan %s: load guild configs: %v", runID, err)
		return
	}

	allSubs, err := s.Store.SubscriptionsWithState(0)
	if err != nil {
		log.Printf("[ERROR] auto-scan %s: load subscriptions: %v", runID, err)
		return
	}
	var regionSubs []model.SubscriptionWithState
	for _, sub := range allSubs {
		if _, ok := enabledGuilds[sub.GuildID]; !ok {
			continue
		}
		if catalog.ClassifyRegion(sub.Ticker) == region {
			regionSubs = append(regionSubs, sub)
		}
	}

	tickers := unionTickers(catalogTickers, regionSubs)
	if len(tickers) == 0 {
		log.Printf("[INFO] auto-scan %s: no %s tickers, skipping", runID, region)
		return
	}

	readings, err := s.Source.Fetch(s.Ctx, tickers)
	if err != nil {
		log.Printf("[ERROR] auto-scan %s: fetch: %v", runID, err)
		return
	}

	okCount, failedTickers := splitResults(tickers, readings)
	s.Metrics.RecordQuoteResults(okCount, len(failedTickers))
	log.Printf("[INFO] auto-scan %s: fetched %d/%d tickers", runID, okCount, len(tickers))

	dataTimestamp := s.persistReadings(readings, today)

	// One evaluation pass for the whole region; posting is grouped per
	// guild afterwards.
	alertSet, sum := s.Engine.EvaluateSubscriptions(regionSubs, readings, false)
	s.Metrics.RecordAlerts(string(model.ConditionUnder), len(alertSet.Under))
	s.Metrics.RecordAlerts(string(model.ConditionOver), len(alertSet.Over))
	s.Metrics.RecordSuppressed(sum.Suppressed)
	log.Printf("[INFO] auto-scan %s: %d subscriptions, %d triggered, %d suppressed",
		runID, sum.Subscriptions, sum.Triggered, sum.Suppressed)

	for guildID, cfg := range enabledGuilds {
		s.processGuildScan(guildScanInput{
			cfg:            cfg,
			region:         region,
			today:          today,
			start:          start,
			readings:       readings,
			catalogTickers: catalogTickers,
			subs:           guildSubs(regionSubs, guildID),
			alerts:         alertSet.ForGuild(guildID),
			failedTickers:  failedTickers,
			dataTimestamp:  dataTimestamp,
		})
	}
}

type guildScanInput struct {
	cfg            model.GuildConfig
	region         model.Region
	today          string
	start          time.Time
	readings       map[string]model.Reading
	catalogTickers []string
	subs           []model.SubscriptionWithState
	alerts         model.AlertSet
	failedTickers  []string
	dataTimestamp  *time.Time
}

// processGuildScan applies membership change detection for one guild and
// posts whatever is new, then always posts the changelog status.
func (s *Scheduler) processGuildScan(in guildScanInput) {
	guildID := in.cfg.GuildID

	values := catalogValues(in.catalogTickers, in.readings)
	curUnder := engine.Membership(values, in.cfg.AutoOversold, true)
	curOver := engine.Membership(values, in.cfg.AutoOverbought, false)

	prevUnder, err := s.Store.ScanMembership(guildID, in.today, model.ConditionUnder)
	if err != nil {
		log.Printf("[ERROR] guild %d: load UNDER membership: %v", guildID, err)
		return
	}
	prevOver, err := s.Store.ScanMembership(guildID, in.today, model.ConditionOver)
	if err != nil {
		log.Printf("[ERROR] guild %d: load OVER membership: %v", guildID, err)
		return
	}

	newUnder := engine.Diff(curUnder, prevUnder.Tickers)
	newOver := engine.Diff(curOver, prevOver.Tickers)

	log.Printf("[INFO] guild %d change detection: oversold %d total (%d new), overbought %d total (%d new)",
		guildID, len(curUnder), len(newUnder), len(curOver), len(newOver))

	hasNewUnder := len(newUnder) > 0 || len(in.alerts.Under) > 0
	hasNewOver := len(newOver) > 0 || len(in.alerts.Over) > 0

	oversoldCh, overboughtCh, changelogCh := s.resolveChannels(in.cfg)
	messagesSent := 0

	if hasNewUnder && oversoldCh != "" {
		msgs := notifier.FormatCombinedReport(in.region, model.ConditionUnder, in.cfg.AutoOversold,
			s.catalogHits(newUnder, values, true), in.alerts.Under, in.dataTimestamp)
		messagesSent += s.sendAll(oversoldCh, msgs, true)
	}
	if hasNewOver && overboughtCh != "" {
		msgs := notifier.FormatCombinedReport(in.region, model.ConditionOver, in.cfg.AutoOverbought,
			s.catalogHits(newOver, values, false), in.alerts.Over, in.dataTimestamp)
		messagesSent += s.sendAll(overboughtCh, msgs, true)
	}
	s.Metrics.RecordMessagesSent(messagesSent)

	// Membership stores the full current sets, so unchanged members do
	// not re-post on the next cycle.
	if err := s.Store.UpdateScanMembership(guildID, in.today, model.ConditionUnder, curUnder, hasNewUnder); err != nil {
		log.Printf("[ERROR] guild %d: update UNDER membership: %v", guildID, err)
	}
	if err := s.Store.UpdateScanMembership(guildID, in.today, model.ConditionOver, curOver, hasNewOver); err != nil {
		log.Printf("[ERROR] guild %d: update OVER membership: %v", guildID, err)
	}

	if changelogCh == "" {
		return
	}

	status := notifier.ScanStatus{
		Region:              in.region,
		Start:               in.start,
		End:                 time.Now().In(s.Location),
		DataTimestamp:       in.dataTimestamp,
		CatalogTotal:        len(in.catalogTickers),
		CatalogOK:           countFetched(in.catalogTickers, in.readings),
		CatalogFailed:       intersect(in.failedTickers, in.catalogTickers),
		SubTotal:            len(in.subs),
		SubOK:               countSubsFetched(in.subs, in.readings),
		SubFailed:           intersect(in.failedTickers, subTickers(in.subs)),
		OversoldThreshold:   in.cfg.AutoOversold,
		OversoldTotal:       len(curUnder),
		OversoldNew:         len(newUnder),
		OversoldSubAlerts:   len(in.alerts.Under),
		OverboughtThreshold: in.cfg.AutoOverbought,
		OverboughtTotal:     len(curOver),
		OverboughtNew:       len(newOver),
		OverboughtSubAlerts: len(in.alerts.Over),
		MessagesSent:        messagesSent,
		PostedOversold:      hasNewUnder,
		PostedOverbought:    hasNewOver,
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, changelogCh, notifier.FormatScanStatus(status), false, sendRetries); err != nil {
		log.Printf("[ERROR] guild %d: changelog post: %v", guildID, err)
	}
}

// runDailyCheck evaluates every enabled guild's subscriptions regardless
// of region and posts plain alert lists.
func (s *Scheduler) runDailyCheck() {
	start := time.Now().In(s.Location)
	log.Printf("[INFO] daily check start")

	enabledGuilds, err := s.enabledGuildConfigs()
	if err != nil {
		log.Printf("[ERROR] daily check: load guild configs: %v", err)
		return
	}

	allSubs, err := s.Store.SubscriptionsWithState(0)
	if err != nil {
		log.Printf("[ERROR] daily check: load subscriptions: %v", err)
		return
	}
	var subs []model.SubscriptionWithState
	for _, sub := range allSubs {
		if _, ok := enabledGuilds[sub.GuildID]; ok {
			subs = append(subs, sub)
		}
	}
	if len(subs) == 0 {
		log.Printf("[INFO] daily check: no active subscriptions")
		return
	}

	tickers := unionTickers(nil, subs)
	readings, err := s.Source.Fetch(s.Ctx, tickers)
	if err != nil {
		log.Printf("[ERROR] daily check: fetch: %v", err)
		return
	}
	okCount, failed := splitResults(tickers, readings)
	s.Metrics.RecordQuoteResults(okCount, len(failed))

	s.persistReadings(readings, start.Format("2006-01-02"))

	alertSet, sum := s.Engine.EvaluateSubscriptions(subs, readings, false)
	s.Metrics.RecordAlerts(string(model.ConditionUnder), len(alertSet.Under))
	s.Metrics.RecordAlerts(string(model.ConditionOver), len(alertSet.Over))
	s.Metrics.RecordSuppressed(sum.Suppressed)

	sent := 0
	for guildID, cfg := range enabledGuilds {
		if len(guildSubs(subs, guildID)) == 0 {
			continue
		}
		guildAlerts := alertSet.ForGuild(guildID)
		oversoldCh, overboughtCh, _ := s.resolveChannels(cfg)

		// Quiet days still get a summary line per condition.
		underMsgs := notifier.FormatAlertList(guildAlerts.Under, model.ConditionUnder)
		if underMsgs == nil {
			underMsgs = []string{notifier.FormatNoAlerts(model.ConditionUnder)}
		}
		overMsgs := notifier.FormatAlertList(guildAlerts.Over, model.ConditionOver)
		if overMsgs == nil {
			overMsgs = []string{notifier.FormatNoAlerts(model.ConditionOver)}
		}
		if oversoldCh != "" {
			sent += s.sendAll(oversoldCh, underMsgs, true)
		}
		if overboughtCh != "" {
			sent += s.sendAll(overboughtCh, overMsgs, true)
		}
	}
	s.Metrics.RecordMessagesSent(sent)

	log.Printf("[INFO] daily check complete in %.1fs: tickers %d/%d, subscriptions %d, alerts %d, messages %d",
		time.Since(start).Seconds(), okCount, len(tickers), len(subs), alertSet.Total(), sent)
}

// GuildRunResult summarizes an on-demand run for one guild.
type GuildRunResult struct {
	Subscriptions  int
	TickersFetched int
	TickersFailed  int
	Alerts         model.AlertSet
	Summary        engine.Summary
}

// RunForGuild evaluates one guild's subscriptions on demand. With dryRun
// set no state is written and no cooldown applies, so the result shows
// every rule that currently holds.
func (s *Scheduler) RunForGuild(guildID int64, dryRun bool) (GuildRunResult, error) {
	subs, err := s.Store.SubscriptionsWithState(guildID)
	if err != nil {
		return GuildRunResult{}, fmt.Errorf("load subscriptions: %w", err)
	}
	res := GuildRunResult{Subscriptions: len(subs)}
	if len(subs) == 0 {
		return res, nil
	}

	tickers := unionTickers(nil, subs)
	readings, err := s.Source.Fetch(s.Ctx, tickers)
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	ok, failed := splitResults(tickers, readings)
	res.TickersFetched = ok
	res.TickersFailed = len(failed)

	res.Alerts, res.Summary = s.Engine.EvaluateSubscriptions(subs, readings, dryRun)
	return res, nil
}

// nightlyPurge trims change-detection rows and the RSI cache to their
// retention windows.
func (s *Scheduler) nightlyPurge() {
	if n, err := s.Store.PurgeScanMemberships(model.ScanStateRetentionDays); err != nil {
		log.Printf("[ERROR] purge scan memberships: %v", err)
	} else if n > 0 {
		log.Printf("[INFO] purged %d scan membership rows", n)
	}
	if n, err := s.Store.PurgeTickerRSI(model.TickerRSIRetentionDays); err != nil {
		log.Printf("[ERROR] purge ticker rsi: %v", err)
	} else if n > 0 {
		log.Printf("[INFO] purged %d ticker rsi rows", n)
	}
}

// persistReadings upserts successful readings into the shared RSI cache
// and returns the batch's data timestamp.
func (s *Scheduler) persistReadings(readings map[string]model.Reading, fallbackDate string) *time.Time {
	var batch []model.TickerRSI
	var dataTimestamp *time.Time
	for _, r := range readings {
		if !r.OK {
			continue
		}
		v, ok := r.Value(model.DefaultRSIPeriod)
		if !ok {
			continue
		}
		if dataTimestamp == nil && !r.FetchedAt.IsZero() {
			t := r.FetchedAt
			dataTimestamp = &t
		}
		date := r.LastDate
		if date == "" {
			date = fallbackDate
		}
		fetchedAt := r.FetchedAt
		batch = append(batch, model.TickerRSI{
			Ticker:          r.Ticker,
			TradingViewSlug: s.Catalog.Slug(r.Ticker),
			RSI14:           v,
			LastClose:       r.LastClose,
			DataDate:        date,
			DataTimestamp:   &fetchedAt,
		})
	}
	if len(batch) > 0 {
		if err := s.Store.UpsertTickerRSI(batch); err != nil {
			log.Printf("[ERROR] persist rsi batch: %v", err)
		} else {
			log.Printf("[INFO] persisted RSI values for %d tickers", len(batch))
		}
	}
	return dataTimestamp
}

// enabledGuildConfigs returns configs for all guilds with scheduling on.
func (s *Scheduler) enabledGuildConfigs() (map[int64]model.GuildConfig, error) {
	ids, err := s.Store.GuildIDs()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]model.GuildConfig, len(ids))
	for _, id := range ids {
		cfg, err := s.Store.GuildConfig(id)
		if err != nil {
			log.Printf("[ERROR] guild %d config: %v", id, err)
			continue
		}
		if !cfg.ScheduleEnabled {
			log.Printf("[INFO] guild %d: schedule disabled, skipping", id)
			continue
		}
		out[id] = cfg
	}
	return out, nil
}

func (s *Scheduler) resolveChannels(cfg model.GuildConfig) (oversold, overbought, changelog string) {
	oversold, overbought, changelog = cfg.OversoldChannelID, cfg.OverboughtChannelID, cfg.ChangelogChannelID
	if oversold == "" {
		oversold = s.Defaults.Oversold
	}
	if overbought == "" {
		overbought = s.Defaults.Overbought
	}
	if changelog == "" {
		changelog = s.Defaults.Changelog
	}
	return oversold, overbought, changelog
}

// sendRetries is the per-message retry budget for scheduled posts.
const sendRetries = 2

func (s *Scheduler) sendAll(channelID string, messages []string, suppressEmbeds bool) int {
	sent := 0
	for _, msg := range messages {
		if err := s.Notifier.SendWithRetry(s.Ctx, channelID, msg, suppressEmbeds, sendRetries); err != nil {
			log.Printf("[ERROR] send to channel %s: %v", channelID, err)
			continue
		}
		sent++
	}
	return sent
}

// catalogHits resolves newly entered tickers into display rows, deepest
// first.
func (s *Scheduler) catalogHits(tickers []string, values map[string]float64, under bool) []notifier.CatalogHit {
	hits := make([]notifier.CatalogHit, 0, len(tickers))
	for _, t := range tickers {
		hits = append(hits, notifier.CatalogHit{
			Ticker:   t,
			Name:     s.Catalog.Name(t),
			ChartURL: s.Catalog.ChartURL(t),
			RSI:      values[t],
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if under {
			return hits[i].RSI < hits[j].RSI
		}
		return hits[i].RSI > hits[j].RSI
	})
	return hits
}

func unionTickers(catalogTickers []string, subs []model.SubscriptionWithState) []string {
	seen := make(map[string]struct{}, len(catalogTickers)+len(subs))
	var out []string
	for _, t := range catalogTickers {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, sub := range subs {
		if _, ok := seen[sub.Ticker]; !ok {
			seen[sub.Ticker] = struct{}{}
			out = append(out, sub.Ticker)
		}
	}
	sort.Strings(out)
	return out
}

// catalogValues extracts the RSI14 value for every fetched catalog
// ticker.
func catalogValues(tickers []string, readings map[string]model.Reading) map[string]float64 {
	values := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		r, ok := readings[t]
		if !ok || !r.OK {
			continue
		}
		if v, ok := r.Value(model.DefaultRSIPeriod); ok {
			values[t] = v
		}
	}
	return values
}

func splitResults(tickers []string, readings map[string]model.Reading) (ok int, failed []string) {
	for _, t := range tickers {
		if r, found := readings[t]; found && r.OK {
			ok++
		} else {
			failed = append(failed, t)
		}
	}
	return ok, failed
}

func countFetched(tickers []string, readings map[string]model.Reading) int {
	n := 0
	for _, t := range tickers {
		if r, ok := readings[t]; ok && r.OK {
			n++
		}
	}
	return n
}

func countSubsFetched(subs []model.SubscriptionWithState, readings map[string]model.Reading) int {
	n := 0
	for _, sub := range subs {
		if r, ok := readings[sub.Ticker]; ok && r.OK {
			n++
		}
	}
	return n
}

func guildSubs(subs []model.SubscriptionWithState, guildID int64) []model.SubscriptionWithState {
	var out []model.SubscriptionWithState
	for _, sub := range subs {
		if sub.GuildID == guildID {
			out = append(out, sub)
		}
	}
	return out
}

func subTickers(subs []model.SubscriptionWithState) []string {
	seen := make(map[string]struct{}, len(subs))
	var out []string
	for _, sub := range subs {
		if _, ok := seen[sub.Ticker]; !ok {
			seen[sub.Ticker] = struct{}{}
			out = append(out, sub.Ticker)
		}
	}
	return out
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	var out []string
	for _, t := range a {
		if _, ok := set[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
