package bot

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ZubyWasTaken/refer-a-friend/bot/common"
	"github.com/ZubyWasTaken/refer-a-friend/models"

	"github.com/bwmarrin/discordgo"
)

const (
	resetConfirmID = "reset_confirm"
	resetCancelID  = "reset_cancel"
)

func (b *Bot) handleSetRole(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID, _, err := interactionIDs(i)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	options := i.ApplicationCommandData().Options
	role := options[0].RoleValue(s, i.GuildID)
	amount := options[1].IntValue()

	roleID, err := parseID(role.ID)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	max := models.Finite(amount)
	if amount == models.UnlimitedSentinel {
		max = models.Unlimited()
	}

	if err := b.adminService.SetRoleQuota(ctx, guildID, roleID, role.Name, max); err != nil {
		respondServiceError(s, i, err)
		return
	}

	msg := fmt.Sprintf("Members with **%s** now get **%s** invite(s).", role.Name, max.String())
	if err := common.RespondWithMessage(s, i, msg, true); err != nil {
		log.WithError(err).Error("Failed to send setrole response")
	}
}

func (b *Bot) handleUnsetRole(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID, _, err := interactionIDs(i)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	role := i.ApplicationCommandData().Options[0].RoleValue(s, i.GuildID)
	roleID, err := parseID(role.ID)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	existed, remaining, err := b.adminService.UnsetRoleQuota(ctx, guildID, roleID)
	if err != nil {
		respondServiceError(s, i, err)
		return
	}
	if !existed {
		respondError(s, i, fmt.Sprintf("**%s** had no invite allowance configured.", role.Name))
		return
	}

	msg := fmt.Sprintf("**%s** no longer grants invites.", role.Name)
	if len(remaining) > 0 {
		msg += fmt.Sprintf(" %d role(s) still grant invites.", len(remaining))
	} else {
		msg += " No roles grant invites anymore."
	}
	if err := common.RespondWithMessage(s, i, msg, true); err != nil {
		log.WithError(err).Error("Failed to send unsetrole response")
	}
}

func (b *Bot) handleAddInvites(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID, _, err := interactionIDs(i)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	options := i.ApplicationCommandData().Options
	targetUser := options[0].UserValue(s)
	amount := options[1].IntValue()

	targetID, err := parseID(targetUser.ID)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	result, err := b.adminService.AddInvites(ctx, guildID, targetID, amount)
	if err != nil {
		respondServiceError(s, i, err)
		return
	}

	var msg string
	if result.Unlimited {
		msg = fmt.Sprintf("**%s** already has unlimited invites.", targetUser.Username)
	} else {
		msg = fmt.Sprintf("Added **%d** invite(s) to **%s**, who now has **%d**.", amount, targetUser.Username, result.NewTotal)
	}
	if err := common.RespondWithMessage(s, i, msg, true); err != nil {
		log.WithError(err).Error("Failed to send addinvites response")
	}
}

func (b *Bot) handleRemoveInvites(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID, _, err := interactionIDs(i)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	options := i.ApplicationCommandData().Options
	targetUser := options[0].UserValue(s)
	amount := options[1].IntValue()

	targetID, err := parseID(targetUser.ID)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	var targetRoleIDs []int64
	if member, err := s.GuildMember(i.GuildID, targetUser.ID); err == nil {
		targetRoleIDs = memberRoleIDs(member)
	}

	result, err := b.adminService.RemoveInvites(ctx, guildID, targetID, amount, targetRoleIDs)
	if err != nil {
		respondServiceError(s, i, err)
		return
	}

	var msg string
	if result.Unlimited {
		msg = fmt.Sprintf("**%s** has unlimited invites; there is nothing to remove.", targetUser.Username)
	} else {
		msg = fmt.Sprintf("Removed **%d** invite(s) from **%s**, who now has **%d**.", amount, targetUser.Username, result.NewTotal)
	}
	if err := common.RespondWithMessage(s, i, msg, true); err != nil {
		log.WithError(err).Error("Failed to send removeinvites response")
	}
}

// handleReset asks for confirmation before wiping anything. The buttons
// expire after a short window; an expired confirm is refused.
func (b *Bot) handleReset(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.mu.Lock()
	b.pendingResets[resetKey(i)] = time.Now().Add(b.config.ResetConfirmTimeout)
	b.mu.Unlock()

	embed := &discordgo.MessageEmbed{
		Title: "Reset all invite data?",
		Description: "This revokes every bot-created invite link and deletes all " +
			"balances, role allowances and history for this server. It cannot be undone.",
		Color: 0xED4245,
	}
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Reset everything", Style: discordgo.DangerButton, CustomID: resetConfirmID},
				discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: resetCancelID},
			},
		},
	}

	if err := common.RespondWithEmbed(s, i, embed, components, true); err != nil {
		log.WithError(err).Error("Failed to send reset confirmation")
	}
}

func (b *Bot) handleResetConfirm(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	key := resetKey(i)

	b.mu.Lock()
	expiry, pending := b.pendingResets[key]
	delete(b.pendingResets, key)
	b.mu.Unlock()

	if !pending || time.Now().After(expiry) {
		if err := common.UpdateWithMessage(s, i, "Reset confirmation expired. Run /reset again."); err != nil {
			log.WithError(err).Error("Failed to update expired reset")
		}
		return
	}

	guildID, userID, err := interactionIDs(i)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	result, err := b.adminService.ResetGuild(ctx, guildID, userID)
	if err != nil {
		log.WithError(err).WithField("guild", guildID).Error("Guild reset failed")
		if updErr := common.UpdateWithMessage(s, i, "Reset failed. Please try again."); updErr != nil {
			log.WithError(updErr).Error("Failed to update failed reset")
		}
		return
	}

	msg := fmt.Sprintf("All invite data wiped. Revoked %d live invite link(s). Run /setup to start over.", result.InvitesRevoked)
	if err := common.UpdateWithMessage(s, i, msg); err != nil {
		log.WithError(err).Error("Failed to update completed reset")
	}
}

func (b *Bot) handleResetCancel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.mu.Lock()
	delete(b.pendingResets, resetKey(i))
	b.mu.Unlock()

	if err := common.UpdateWithMessage(s, i, "Reset cancelled. Nothing was changed."); err != nil {
		log.WithError(err).Error("Failed to update cancelled reset")
	}
}

func resetKey(i *discordgo.InteractionCreate) string {
	return i.GuildID + ":" + i.Member.User.ID
}
