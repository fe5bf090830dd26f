package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/siverbl/rsi-pi-bot/internal/catalog"
	"github.com/siverbl/rsi-pi-bot/internal/config"
	"github.com/siverbl/rsi-pi-bot/internal/engine"
	"github.com/siverbl/rsi-pi-bot/internal/metrics"
	"github.com/siverbl/rsi-pi-bot/internal/model"
	"github.com/siverbl/rsi-pi-bot/internal/notifier"
	"github.com/siverbl/rsi-pi-bot/internal/quote"
	"github.com/siverbl/rsi-pi-bot/internal/scheduler"
	"github.com/siverbl/rsi-pi-bot/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] rsi-pi-bot starting...")

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("[INFO] loaded .env")
	}

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Instrument catalog
	cat, err := catalog.Load(cfg.Catalog.TickersFile)
	if err != nil {
		log.Fatalf("[FATAL] load catalog: %v", err)
	}
	log.Printf("[INFO] catalog loaded: %d instruments", cat.Len())

	// SQLite store
	st, err := store.Open(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("[FATAL] open store: %v", err)
	}
	defer st.Close()

	// Quote source
	var src quote.Source
	switch cfg.DataSource.Provider {
	case "mock":
		src = &quote.MockSource{}
	default:
		tv := quote.NewTradingViewSource(cat, cfg.Proxy)
		tv.BatchSize = cfg.DataSource.BatchSize
		tv.Retries = cfg.DataSource.RetryCount
		src = tv
	}
	log.Printf("[INFO] data source: %s", src.Name())

	// Notifier
	var n notifier.Notifier
	if cfg.Discord.BotToken != "" {
		n = notifier.NewDiscordNotifier(cfg.Discord.BotToken, cfg.Proxy)
	} else {
		log.Println("[WARN] no Discord token, using noop notifier")
		n = notifier.NoopNotifier{}
	}

	// Metrics
	var mc metrics.MetricsCollector = metrics.Noop{}
	if cfg.Metrics.ListenAddr != "" {
		reg := prometheus.NewRegistry()
		mc = metrics.NewCollector(reg)
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metrics.Handler(reg)}
		go func() {
			log.Printf("[INFO] metrics listening on %s", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[ERROR] metrics listener: %v", err)
			}
		}()
		defer srv.Close()
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		log.Fatalf("[FATAL] load timezone %q: %v", cfg.Schedule.Timezone, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(st, cat)
	sched := scheduler.New(ctx, loc, st, cat, src, eng, n, mc, scheduler.ChannelDefaults{
		Oversold:   cfg.Discord.OversoldChannelID,
		Overbought: cfg.Discord.OverboughtChannelID,
		Changelog:  cfg.Discord.ChangelogChannelID,
	})
	if err := sched.RegisterAll(cfg.Schedule.EuropeCron, cfg.Schedule.USCanadaCron, cfg.Schedule.DailyCron, cfg.Schedule.PurgeCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, scanning both regions now")
		go func() {
			sched.RunAutoScan(model.RegionEurope)
			sched.RunAutoScan(model.RegionUSCanada)
		}()
	}

	log.Println("[INFO] rsi-pi-bot is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] rsi-pi-bot stopped")
}
