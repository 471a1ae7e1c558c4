package models

import "time"

// InviteRecord is a bot-issued invite link. One row exists per live invite;
// consumption, manual deletion and the orphan sweep all remove it.
type InviteRecord struct {
	ID        int64     `db:"id"`
	GuildID   int64     `db:"guild_id"`
	UserID    int64     `db:"user_id"` // creator
	Code      string    `db:"code"`
	Link      string    `db:"link"`
	MaxUses   int       `db:"max_uses"`
	CreatedAt time.Time `db:"created_at"`

	// TimesUsed is computed from join_attributions when listing.
	TimesUsed int64 `db:"-"`
}
