package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Discord struct {
		BotToken string `yaml:"bot_token"`
		// Fallback channels used for a guild until its own routing is
		// configured.
		OversoldChannelID   string `yaml:"oversold_channel_id"`
		OverboughtChannelID string `yaml:"overbought_channel_id"`
		ChangelogChannelID  string `yaml:"changelog_channel_id"`
	} `yaml:"discord"`
	DataSource struct {
		Provider   string `yaml:"provider"` // "tradingview" or "mock"
		BatchSize  int    `yaml:"batch_size"`
		RetryCount int    `yaml:"retry_count"`
	} `yaml:"data_source"`
	Catalog struct {
		TickersFile string `yaml:"tickers_file"`
	} `yaml:"catalog"`
	Schedule struct {
		Timezone     string `yaml:"timezone"`
		EuropeCron   string `yaml:"europe_cron"`
		USCanadaCron string `yaml:"us_canada_cron"`
		DailyCron    string `yaml:"daily_cron"`
		PurgeCron    string `yaml:"purge_cron"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Metrics struct {
		ListenAddr string `yaml:"listen_addr"` // empty disables the listener
	} `yaml:"metrics"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Discord.BotToken = v
	}
	if v := os.Getenv("OVERSOLD_CHANNEL_ID"); v != "" {
		cfg.Discord.OversoldChannelID = v
	}
	if v := os.Getenv("OVERBOUGHT_CHANNEL_ID"); v != "" {
		cfg.Discord.OverboughtChannelID = v
	}
	if v := os.Getenv("CHANGELOG_CHANNEL_ID"); v != "" {
		cfg.Discord.ChangelogChannelID = v
	}
	if v := os.Getenv("DATA_PROVIDER"); v != "" {
		cfg.DataSource.Provider = v
	}
	if v := os.Getenv("TV_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DataSource.BatchSize = n
		}
	}
	if v := os.Getenv("TICKERS_FILE"); v != "" {
		cfg.Catalog.TickersFile = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("METRICS_LISTEN_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.DataSource.Provider == "" {
		cfg.DataSource.Provider = "tradingview"
	}
	if cfg.DataSource.BatchSize == 0 {
		cfg.DataSource.BatchSize = 50
	}
	if cfg.DataSource.RetryCount == 0 {
		cfg.DataSource.RetryCount = 2
	}
	if cfg.Catalog.TickersFile == "" {
		cfg.Catalog.TickersFile = "data/tickers.csv"
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "Europe/Oslo"
	}
	// Hourly scans at :30 during each region's trading window, weekdays.
	if cfg.Schedule.EuropeCron == "" {
		cfg.Schedule.EuropeCron = "0 30 9-17 * * 1-5"
	}
	if cfg.Schedule.USCanadaCron == "" {
		cfg.Schedule.USCanadaCron = "0 30 15-22 * * 1-5"
	}
	if cfg.Schedule.DailyCron == "" {
		cfg.Schedule.DailyCron = "0 30 18 * * 1-5"
	}
	if cfg.Schedule.PurgeCron == "" {
		cfg.Schedule.PurgeCron = "0 0 3 * * *"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/rsi_bot.db"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Discord.BotToken == "" {
		return fmt.Errorf("discord.bot_token is required")
	}
	if c.DataSource.Provider != "tradingview" && c.DataSource.Provider != "mock" {
		return fmt.Errorf("data_source.provider must be tradingview or mock, got %q", c.DataSource.Provider)
	}
	if c.Catalog.TickersFile == "" {
		return fmt.Errorf("catalog.tickers_file is required")
	}
	return nil
}
