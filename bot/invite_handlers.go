package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ZubyWasTaken/refer-a-friend/bot/common"
	"github.com/ZubyWasTaken/refer-a-friend/service"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) handleCreateInvite(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := common.DeferResponse(s, i, true); err != nil {
		log.WithError(err).Error("Failed to defer createinvite")
		return
	}

	guildID, userID, err := interactionIDs(i)
	if err != nil {
		followUpError(s, i, "Something went wrong.")
		return
	}

	config, err := b.configService.Get(ctx, guildID)
	if err != nil {
		followUpServiceError(s, i, err)
		return
	}

	// Invites land on the system channel so joiners arrive somewhere public
	channelID := config.SystemChannelID
	if channelID == 0 {
		channelID, err = parseID(i.ChannelID)
		if err != nil {
			followUpError(s, i, "Something went wrong.")
			return
		}
	}

	result, err := b.inviteService.CreateInvite(ctx, service.CreateInviteRequest{
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: channelID,
		RoleIDs:   memberRoleIDs(i.Member),
		IsAdmin:   memberIsAdmin(i.Member),
		// @everyone shares its ID with the guild; it backs the
		// admin's unlimited balance row
		AdminRoleID: guildID,
	})
	if err != nil {
		followUpServiceError(s, i, err)
		return
	}

	msg := fmt.Sprintf("Here's your invite: %s", result.Record.Link)
	if result.Charged {
		msg += fmt.Sprintf("\nYou have **%d** invite(s) left.", result.Remaining.Remaining())
	}
	if _, err := common.FollowUpWithMessage(s, i, msg, true); err != nil {
		log.WithError(err).Error("Failed to send createinvite response")
	}
}

func (b *Bot) handleDeleteInvite(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := common.DeferResponse(s, i, true); err != nil {
		log.WithError(err).Error("Failed to defer deleteinvite")
		return
	}

	guildID, userID, err := interactionIDs(i)
	if err != nil {
		followUpError(s, i, "Something went wrong.")
		return
	}

	index := int(i.ApplicationCommandData().Options[0].IntValue())

	result, err := b.inviteService.DeleteInviteByIndex(ctx, guildID, userID, index)
	if err != nil {
		followUpServiceError(s, i, err)
		return
	}

	msg := fmt.Sprintf("Deleted invite `%s`.", result.Record.Code)
	if result.Refunded {
		msg += " Your invite has been returned."
	}
	if _, err := common.FollowUpWithMessage(s, i, msg, true); err != nil {
		log.WithError(err).Error("Failed to send deleteinvite response")
	}
}

func (b *Bot) handleInvites(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := common.DeferResponse(s, i, true); err != nil {
		log.WithError(err).Error("Failed to defer invites")
		return
	}

	guildID, userID, err := interactionIDs(i)
	if err != nil {
		followUpError(s, i, "Something went wrong.")
		return
	}

	var adminRoleID int64
	if memberIsAdmin(i.Member) {
		adminRoleID = guildID
	}

	status, err := b.inviteService.ListUserInvites(ctx, guildID, userID, memberRoleIDs(i.Member), adminRoleID)
	if err != nil {
		followUpServiceError(s, i, err)
		return
	}

	embed := statusEmbed(fmt.Sprintf("Invites for %s", i.Member.User.Username), status)
	if _, err := common.FollowUpWithEmbed(s, i, embed, nil, true); err != nil {
		log.WithError(err).Error("Failed to send invites response")
	}
}

func (b *Bot) handleCheckInvites(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := common.DeferResponse(s, i, true); err != nil {
		log.WithError(err).Error("Failed to defer checkinvites")
		return
	}

	guildID, _, err := interactionIDs(i)
	if err != nil {
		followUpError(s, i, "Something went wrong.")
		return
	}

	targetUser := i.ApplicationCommandData().Options[0].UserValue(s)
	targetID, err := parseID(targetUser.ID)
	if err != nil {
		followUpError(s, i, "Something went wrong.")
		return
	}

	targetIsAdmin := false
	if perms, err := s.UserChannelPermissions(targetUser.ID, i.ChannelID); err == nil {
		targetIsAdmin = perms&discordgo.PermissionAdministrator != 0
	}

	status, err := b.inviteService.CheckUserInvites(ctx, guildID, targetID, targetIsAdmin)
	if err != nil {
		followUpServiceError(s, i, err)
		return
	}

	embed := statusEmbed(fmt.Sprintf("Invites for %s", targetUser.Username), status)
	if _, err := common.FollowUpWithEmbed(s, i, embed, nil, true); err != nil {
		log.WithError(err).Error("Failed to send checkinvites response")
	}
}

func (b *Bot) handleHelp(s *discordgo.Session, i *discordgo.InteractionCreate) {
	embed := &discordgo.MessageEmbed{
		Title: "Refer-a-Friend",
		Description: "Earn invite links through your roles and share them with friends.\n\n" +
			"**/createinvite** — spend one invite for a single-use link\n" +
			"**/deleteinvite** — delete one of your links and get the invite back\n" +
			"**/invites** — see your remaining invites and active links\n\n" +
			"Administrators additionally get /checkinvites, /setrole, /unsetrole, " +
			"/addinvites, /removeinvites, /setup, /changedefaults, /currentconfig and /reset.",
		Color: embedColor,
	}
	if err := common.RespondWithEmbed(s, i, embed, nil, true); err != nil {
		log.WithError(err).Error("Failed to send help response")
	}
}

// statusEmbed renders balances and active links the same way for the self
// view and the admin view.
func statusEmbed(title string, status *service.UserInviteStatus) *discordgo.MessageEmbed {
	var balances strings.Builder
	if status.HasUnlimited {
		balances.WriteString("You have **unlimited** invites.\n")
	} else if len(status.Balances) == 0 {
		balances.WriteString("No invite-granting roles.\n")
	} else {
		for _, line := range status.Balances {
			name := line.RoleName
			if name == "" {
				name = fmt.Sprintf("<@&%d>", line.RoleID)
			}
			fmt.Fprintf(&balances, "%s: **%s** remaining\n", name, line.Remaining.String())
		}
	}

	var links strings.Builder
	if len(status.ActiveInvites) == 0 {
		links.WriteString("None.")
	} else {
		for n, record := range status.ActiveInvites {
			fmt.Fprintf(&links, "%d. %s (used %d time(s))\n", n+1, record.Link, record.TimesUsed)
		}
	}

	return &discordgo.MessageEmbed{
		Title: title,
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Invites remaining", Value: balances.String()},
			{Name: "Active links", Value: links.String()},
		},
	}
}

const embedColor = 0x5865F2

func interactionIDs(i *discordgo.InteractionCreate) (guildID, userID int64, err error) {
	guildID, err = parseID(i.GuildID)
	if err != nil {
		return 0, 0, err
	}
	userID, err = parseID(i.Member.User.ID)
	if err != nil {
		return 0, 0, err
	}
	return guildID, userID, nil
}

func memberRoleIDs(member *discordgo.Member) []int64 {
	out := make([]int64, 0, len(member.Roles))
	for _, role := range member.Roles {
		if id, err := parseID(role); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func memberIsAdmin(member *discordgo.Member) bool {
	return member.Permissions&discordgo.PermissionAdministrator != 0
}

func followUpError(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	if _, err := common.FollowUpWithMessage(s, i, message, true); err != nil {
		log.WithError(err).Error("Failed to send error follow-up")
	}
}

// followUpServiceError is respondServiceError for deferred interactions
func followUpServiceError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	var remoteErr *service.RemoteError

	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		followUpError(s, i, "You have no invites left.")
	case errors.Is(err, service.ErrNoInviteRole):
		followUpError(s, i, "None of your roles grant invites.")
	case errors.Is(err, service.ErrInviteNotFound):
		followUpError(s, i, "That invite doesn't exist. Check the number with /invites.")
	case errors.Is(err, service.ErrInsufficientBalance):
		followUpError(s, i, "That user doesn't have enough invites to remove.")
	case errors.Is(err, service.ErrNotConfigured):
		followUpError(s, i, "This server is not set up yet. An administrator needs to run /setup first.")
	case errors.As(err, &remoteErr):
		log.WithError(err).Error("Discord call failed")
		followUpError(s, i, "Discord didn't cooperate. Please try again.")
	default:
		log.WithError(err).Error("Command failed")
		followUpError(s, i, "Something went wrong.")
	}
}
