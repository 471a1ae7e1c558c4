package testutil

import (
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/models"
)

// CreateTestRoleQuota creates a role quota with a finite allowance
func CreateTestRoleQuota(roleID, maxInvites int64) *models.RoleQuota {
	return &models.RoleQuota{
		RoleID: roleID,
		Name:   fmt.Sprintf("role-%d", roleID),
		Max:    models.Finite(maxInvites),
	}
}

// CreateTestUnlimitedRoleQuota creates a role quota with an unlimited allowance
func CreateTestUnlimitedRoleQuota(roleID int64) *models.RoleQuota {
	quota := CreateTestRoleQuota(roleID, 0)
	quota.Max = models.Unlimited()
	return quota
}

// CreateTestBalance creates a user balance row with a finite count
func CreateTestBalance(userID, roleID, remaining int64) *models.UserBalance {
	return &models.UserBalance{
		UserID:    userID,
		RoleID:    roleID,
		Remaining: models.Finite(remaining),
	}
}

// CreateTestUnlimitedBalance creates a user balance row holding the unlimited sentinel
func CreateTestUnlimitedBalance(userID, roleID int64) *models.UserBalance {
	balance := CreateTestBalance(userID, roleID, 0)
	balance.Remaining = models.Unlimited()
	return balance
}

// CreateTestInviteRecord creates an invite record for a single-use invite
func CreateTestInviteRecord(userID int64, code string) *models.InviteRecord {
	return &models.InviteRecord{
		UserID:  userID,
		Code:    code,
		Link:    "https://discord.gg/" + code,
		MaxUses: 1,
	}
}

// CreateTestJoinAttribution creates a join attribution row
func CreateTestJoinAttribution(inviteID, inviterID, joinedID int64) *models.JoinAttribution {
	return &models.JoinAttribution{
		InviteID:      inviteID,
		InviterUserID: inviterID,
		JoinedUserID:  joinedID,
	}
}

// CreateTestGuildConfig creates a completed guild config
func CreateTestGuildConfig(logsChannelID, botChannelID, systemChannelID int64) *models.GuildConfig {
	return &models.GuildConfig{
		LogsChannelID:   logsChannelID,
		BotChannelID:    botChannelID,
		SystemChannelID: systemChannelID,
		SetupCompleted:  true,
	}
}
