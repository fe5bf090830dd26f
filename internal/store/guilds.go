package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// GuildConfig returns the guild's configuration, creating a row with the
// documented defaults on first access. There is always exactly one row
// per guild.
func (s *Store) GuildConfig(guildID int64) (model.GuildConfig, error) {
	cfg, err := s.getGuildConfig(guildID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.GuildConfig{}, err
	}

	s.mu.Lock()
	_, err = s.db.Exec(
		`INSERT INTO guild_config
		 (guild_id, default_rsi_period, default_cooldown_hours, alert_mode, hysteresis,
		  auto_oversold_threshold, auto_overbought_threshold, schedule_enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(guild_id) DO NOTHING`,
		guildID, model.DefaultRSIPeriod, model.DefaultCooldownHours,
		string(model.DefaultAlertMode), model.DefaultHysteresis,
		model.DefaultAutoOversold, model.DefaultAutoOverbought,
		boolToInt(model.DefaultScheduleEnabled))
	s.mu.Unlock()
	if err != nil {
		return model.GuildConfig{}, fmt.Errorf("create guild config: %w", err)
	}

	return s.getGuildConfig(guildID)
}

func (s *Store) getGuildConfig(guildID int64) (model.GuildConfig, error) {
	var cfg model.GuildConfig
	err := s.db.Get(&cfg, `SELECT * FROM guild_config WHERE guild_id = ?`, guildID)
	return cfg, err
}

// UpdateGuildConfig applies a partial config write; nil fields keep their
// stored value. The row is created first if the guild is new.
func (s *Store) UpdateGuildConfig(guildID int64, upd model.GuildConfigUpdate) (model.GuildConfig, error) {
	if _, err := s.GuildConfig(guildID); err != nil {
		return model.GuildConfig{}, err
	}

	var sets []string
	var args []any

	if upd.DefaultPeriod != nil {
		sets, args = append(sets, "default_rsi_period = ?"), append(args, *upd.DefaultPeriod)
	}
	if upd.DefaultCooldownHrs != nil {
		sets, args = append(sets, "default_cooldown_hours = ?"), append(args, *upd.DefaultCooldownHrs)
	}
	if upd.AlertMode != nil {
		sets, args = append(sets, "alert_mode = ?"), append(args, string(*upd.AlertMode))
	}
	if upd.Hysteresis != nil {
		sets, args = append(sets, "hysteresis = ?"), append(args, *upd.Hysteresis)
	}
	if upd.AutoOversold != nil {
		sets, args = append(sets, "auto_oversold_threshold = ?"), append(args, *upd.AutoOversold)
	}
	if upd.AutoOverbought != nil {
		sets, args = append(sets, "auto_overbought_threshold = ?"), append(args, *upd.AutoOverbought)
	}
	if upd.ScheduleEnabled != nil {
		sets, args = append(sets, "schedule_enabled = ?"), append(args, boolToInt(*upd.ScheduleEnabled))
	}
	if upd.OversoldChannelID != nil {
		sets, args = append(sets, "oversold_channel_id = ?"), append(args, *upd.OversoldChannelID)
	}
	if upd.OverboughtChannelID != nil {
		sets, args = append(sets, "overbought_channel_id = ?"), append(args, *upd.OverboughtChannelID)
	}
	if upd.ChangelogChannelID != nil {
		sets, args = append(sets, "changelog_channel_id = ?"), append(args, *upd.ChangelogChannelID)
	}

	if len(sets) > 0 {
		s.mu.Lock()
		args = append(args, guildID)
		_, err := s.db.Exec(
			fmt.Sprintf(`UPDATE guild_config SET %s WHERE guild_id = ?`, strings.Join(sets, ", ")),
			args...)
		s.mu.Unlock()
		if err != nil {
			return model.GuildConfig{}, fmt.Errorf("update guild config: %w", err)
		}
	}

	return s.getGuildConfig(guildID)
}

// GuildIDs lists all guilds that have a configuration row.
func (s *Store) GuildIDs() ([]int64, error) {
	var ids []int64
	err := s.db.Select(&ids, `SELECT guild_id FROM guild_config ORDER BY guild_id`)
	return ids, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
