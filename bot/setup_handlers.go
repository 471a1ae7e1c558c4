package bot

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ZubyWasTaken/refer-a-friend/bot/common"
	"github.com/ZubyWasTaken/refer-a-friend/service"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) handleSetup(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID, _, err := interactionIDs(i)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	guild, err := s.Guild(i.GuildID)
	if err != nil {
		log.WithError(err).Error("Failed to fetch guild during setup")
		respondError(s, i, "Something went wrong.")
		return
	}

	params := service.SetupParams{GuildID: guildID}

	// Joiners land in the guild's system channel; invites are minted there
	if guild.SystemChannelID != "" {
		if id, err := parseID(guild.SystemChannelID); err == nil {
			params.SystemChannelID = id
		}
	}

	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "logs_channel":
			id, err := parseID(opt.ChannelValue(s).ID)
			if err != nil {
				respondError(s, i, "Something went wrong.")
				return
			}
			params.LogsChannelID = id
		case "bot_channel":
			id, err := parseID(opt.ChannelValue(s).ID)
			if err != nil {
				respondError(s, i, "Something went wrong.")
				return
			}
			params.BotChannelID = id
		case "default_role":
			id, err := parseID(opt.RoleValue(s, i.GuildID).ID)
			if err != nil {
				respondError(s, i, "Something went wrong.")
				return
			}
			params.DefaultRoleID = &id
		}
	}

	config, err := b.configService.Setup(ctx, params)
	if err != nil {
		respondServiceError(s, i, err)
		return
	}

	msg := fmt.Sprintf("Setup complete!\nLogs: <#%d>\nBot commands: <#%d>", config.LogsChannelID, config.BotChannelID)
	if config.DefaultRoleID != nil {
		msg += fmt.Sprintf("\nDefault role for invited joiners: <@&%d>", *config.DefaultRoleID)
	}
	msg += "\n\nNext, use /setrole to decide how many invites each role grants."
	if err := common.RespondWithMessage(s, i, msg, true); err != nil {
		log.WithError(err).Error("Failed to send setup response")
	}
}

func (b *Bot) handleChangeDefaults(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID, _, err := interactionIDs(i)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		respondError(s, i, "Pick at least one thing to change.")
		return
	}

	var changes []string
	for _, opt := range options {
		switch opt.Name {
		case "logs_channel":
			id, err := parseID(opt.ChannelValue(s).ID)
			if err != nil {
				respondError(s, i, "Something went wrong.")
				return
			}
			if err := b.configService.SetLogsChannel(ctx, guildID, id); err != nil {
				respondServiceError(s, i, err)
				return
			}
			changes = append(changes, fmt.Sprintf("logs channel is now <#%d>", id))
		case "bot_channel":
			id, err := parseID(opt.ChannelValue(s).ID)
			if err != nil {
				respondError(s, i, "Something went wrong.")
				return
			}
			if err := b.configService.SetBotChannel(ctx, guildID, id); err != nil {
				respondServiceError(s, i, err)
				return
			}
			changes = append(changes, fmt.Sprintf("bot channel is now <#%d>", id))
		case "default_role":
			id, err := parseID(opt.RoleValue(s, i.GuildID).ID)
			if err != nil {
				respondError(s, i, "Something went wrong.")
				return
			}
			if err := b.configService.SetDefaultRole(ctx, guildID, &id); err != nil {
				respondServiceError(s, i, err)
				return
			}
			changes = append(changes, fmt.Sprintf("default role is now <@&%d>", id))
		}
	}

	msg := "Updated: "
	for n, change := range changes {
		if n > 0 {
			msg += "; "
		}
		msg += change
	}
	if err := common.RespondWithMessage(s, i, msg, true); err != nil {
		log.WithError(err).Error("Failed to send changedefaults response")
	}
}

func (b *Bot) handleCurrentConfig(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID, _, err := interactionIDs(i)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return
	}

	config, err := b.configService.Get(ctx, guildID)
	if err != nil {
		respondServiceError(s, i, err)
		return
	}

	defaultRole := "none"
	if config.DefaultRoleID != nil {
		defaultRole = fmt.Sprintf("<@&%d>", *config.DefaultRoleID)
	}

	embed := &discordgo.MessageEmbed{
		Title: "Current configuration",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Logs channel", Value: fmt.Sprintf("<#%d>", config.LogsChannelID), Inline: true},
			{Name: "Bot channel", Value: fmt.Sprintf("<#%d>", config.BotChannelID), Inline: true},
			{Name: "Default role", Value: defaultRole, Inline: true},
		},
	}
	if err := common.RespondWithEmbed(s, i, embed, nil, true); err != nil {
		log.WithError(err).Error("Failed to send currentconfig response")
	}
}
