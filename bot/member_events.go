package bot

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ZubyWasTaken/refer-a-friend/service"

	"github.com/bwmarrin/discordgo"
)

// handleReady seeds the live invite cache for every guild the bot is in.
func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	botID, err := parseID(r.User.ID)
	if err != nil {
		log.WithError(err).Error("Malformed bot user ID")
		return
	}
	b.invites.SetBotUser(botID)

	ctx := context.Background()
	for _, guild := range r.Guilds {
		guildID, err := parseID(guild.ID)
		if err != nil {
			log.WithError(err).WithField("guild", guild.ID).Error("Skipping guild with malformed ID")
			continue
		}
		if err := b.reconciler.SeedGuild(ctx, guildID); err != nil {
			log.WithError(err).WithField("guild", guildID).Error("Failed to seed invite cache")
		}
	}

	log.WithField("guilds", len(r.Guilds)).Info("Ready; invite caches seeded")
}

// handleGuildCreate seeds guilds that appear after startup.
func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	guildID, err := parseID(g.ID)
	if err != nil {
		log.WithError(err).Error("Malformed guild ID on guild create")
		return
	}
	if b.invites.Seeded(guildID) {
		return
	}
	if err := b.reconciler.SeedGuild(context.Background(), guildID); err != nil {
		log.WithError(err).WithField("guild", guildID).Error("Failed to seed invite cache for new guild")
	}
}

func (b *Bot) handleInviteCreate(s *discordgo.Session, e *discordgo.InviteCreate) {
	guildID, err := parseID(e.GuildID)
	if err != nil {
		return
	}

	live := &service.LiveInvite{
		Code: e.Code,
		Link: "https://discord.gg/" + e.Code,
	}
	if e.Inviter != nil {
		if id, err := parseID(e.Inviter.ID); err == nil {
			live.InviterID = id
		}
	}
	if id, err := parseID(e.ChannelID); err == nil {
		live.ChannelID = id
	}

	b.reconciler.HandleInviteCreate(guildID, live)
}

func (b *Bot) handleInviteDelete(s *discordgo.Session, e *discordgo.InviteDelete) {
	guildID, err := parseID(e.GuildID)
	if err != nil {
		return
	}
	b.reconciler.HandleInviteDelete(context.Background(), guildID, e.Code)
}

// handleGuildMemberAdd attributes the join to the invite it consumed and
// applies the configured default role to the joiner.
func (b *Bot) handleGuildMemberAdd(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
	guildID, err := parseID(e.GuildID)
	if err != nil {
		return
	}
	joinedID, err := parseID(e.User.ID)
	if err != nil {
		return
	}

	ctx := context.Background()
	attribution, err := b.reconciler.HandleMemberJoin(ctx, guildID, joinedID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild": guildID,
			"user":  joinedID,
		}).Error("Failed to reconcile member join")
		return
	}
	if attribution == nil {
		// Joined through a vanity URL or an invite we don't track
		return
	}

	config, err := b.configService.Get(ctx, guildID)
	if err != nil {
		if !errors.Is(err, service.ErrNotConfigured) {
			log.WithError(err).Error("Failed to load config after member join")
		}
		return
	}

	if config.DefaultRoleID != nil {
		roleID := formatID(*config.DefaultRoleID)
		if err := s.GuildMemberRoleAdd(e.GuildID, e.User.ID, roleID); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"guild": guildID,
				"user":  joinedID,
				"role":  roleID,
			}).Error("Failed to grant default role to invited joiner")
		}
	}

	if config.SystemChannelID != 0 {
		msg := fmt.Sprintf("Welcome <@%d>! You were invited by <@%d>.", joinedID, attribution.InviterUserID)
		if _, err := s.ChannelMessageSend(formatID(config.SystemChannelID), msg); err != nil {
			log.WithError(err).Error("Failed to send welcome message")
		}
	}
}

// handleGuildMemberUpdate keeps balance rows in step with role changes.
// BeforeUpdate comes from the session state cache; without it there is no
// old role set to compare against, so the update is skipped.
func (b *Bot) handleGuildMemberUpdate(s *discordgo.Session, e *discordgo.GuildMemberUpdate) {
	if e.BeforeUpdate == nil {
		return
	}

	guildID, err := parseID(e.GuildID)
	if err != nil {
		return
	}
	userID, err := parseID(e.User.ID)
	if err != nil {
		return
	}

	oldRoles := memberRoleIDs(e.BeforeUpdate)
	newRoles := memberRoleIDs(e.Member)

	if err := b.memberService.SyncRoles(context.Background(), guildID, userID, oldRoles, newRoles); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild": guildID,
			"user":  userID,
		}).Error("Failed to sync roles after member update")
	}
}
