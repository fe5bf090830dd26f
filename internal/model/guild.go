package model

// Guild config defaults applied on first access.
const (
	DefaultRSIPeriod       = 14
	DefaultCooldownHours   = 24
	DefaultHysteresis      = 2.0
	DefaultAutoOversold    = 34
	DefaultAutoOverbought  = 70
	DefaultScheduleEnabled = true
	DefaultAlertMode       = ModeCrossing
	ScanStateRetentionDays = 7
	TickerRSIRetentionDays = 30
)

// GuildConfig holds per-guild defaults and auto-scan tunables. Channel IDs
// are zero until an admin routes the guild's alerts.
type GuildConfig struct {
	GuildID             int64     `db:"guild_id"`
	DefaultPeriod       int       `db:"default_rsi_period"`
	DefaultCooldownHrs  int       `db:"default_cooldown_hours"`
	AlertMode           AlertMode `db:"alert_mode"`
	Hysteresis          float64   `db:"hysteresis"`
	AutoOversold        float64   `db:"auto_oversold_threshold"`
	AutoOverbought      float64   `db:"auto_overbought_threshold"`
	ScheduleEnabled     bool      `db:"schedule_enabled"`
	OversoldChannelID   string    `db:"oversold_channel_id"`
	OverboughtChannelID string    `db:"overbought_channel_id"`
	ChangelogChannelID  string    `db:"changelog_channel_id"`
}

// GuildConfigUpdate carries a partial config write. Nil fields are left
// untouched.
type GuildConfigUpdate struct {
	DefaultPeriod       *int
	DefaultCooldownHrs  *int
	AlertMode           *AlertMode
	Hysteresis          *float64
	AutoOversold        *float64
	AutoOverbought      *float64
	ScheduleEnabled     *bool
	OversoldChannelID   *string
	OverboughtChannelID *string
	ChangelogChannelID  *string
}
