package models

import "time"

// RoleQuota is the per-role invite allowance an administrator configured.
type RoleQuota struct {
	ID        int64     `db:"id"`
	GuildID   int64     `db:"guild_id"`
	RoleID    int64     `db:"role_id"`
	Name      string    `db:"name"`
	Max       Balance   `db:"max_invites"`
	CreatedAt time.Time `db:"created_at"`
}
