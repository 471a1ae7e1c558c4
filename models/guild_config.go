package models

import "time"

// GuildConfig is the per-guild setup: where the bot logs, where commands are
// allowed, and the optional role granted to members who join via a bot invite.
type GuildConfig struct {
	GuildID         int64     `db:"guild_id"`
	LogsChannelID   int64     `db:"logs_channel_id"`
	BotChannelID    int64     `db:"bot_channel_id"`
	SystemChannelID int64     `db:"system_channel_id"`
	DefaultRoleID   *int64    `db:"default_role_id"`
	SetupCompleted  bool      `db:"setup_completed"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}
