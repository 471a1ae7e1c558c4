package models

import "time"

// JoinAttribution links a consumed invite to the member who joined through it.
// Rows are append-only and reference the invite record weakly: the record is
// deleted on consumption while the attribution survives.
type JoinAttribution struct {
	ID            int64     `db:"id"`
	GuildID       int64     `db:"guild_id"`
	InviteID      int64     `db:"invite_id"`
	InviterUserID int64     `db:"inviter_user_id"`
	JoinedUserID  int64     `db:"joined_user_id"`
	JoinedAt      time.Time `db:"joined_at"`
}
