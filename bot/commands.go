package bot

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ZubyWasTaken/refer-a-friend/bot/common"
	"github.com/ZubyWasTaken/refer-a-friend/service"

	"github.com/bwmarrin/discordgo"
)

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	adminOnly := int64(discordgo.PermissionAdministrator)

	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "createinvite",
			Description: "Create a single-use invite link (uses one of your invites)",
		},
		{
			Name:        "deleteinvite",
			Description: "Delete one of your invite links and get the invite back",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "number",
					Description: "Invite number as shown by /invites",
					Required:    true,
					MinValue:    float64Ptr(1),
				},
			},
		},
		{
			Name:        "invites",
			Description: "Show your remaining invites and active links",
		},
		{
			Name:        "checkinvites",
			Description: "Check another user's invites",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to check",
					Required:    true,
				},
			},
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "setrole",
			Description: "Set how many invites a role grants (-1 for unlimited)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to configure",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "invites",
					Description: "Invites granted by this role (-1 for unlimited)",
					Required:    true,
					MinValue:    float64Ptr(-1),
				},
			},
			DefaultMemberPermissions: &adminOnly,
		},
		{
			// Alias for /setrole
			Name:        "setinvites",
			Description: "Set how many invites a role grants (-1 for unlimited)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to configure",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "invites",
					Description: "Invites granted by this role (-1 for unlimited)",
					Required:    true,
					MinValue:    float64Ptr(-1),
				},
			},
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "unsetrole",
			Description: "Remove a role's invite allowance",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to unconfigure",
					Required:    true,
				},
			},
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "addinvites",
			Description: "Give a user extra invites",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to grant invites to",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "How many invites to add",
					Required:    true,
					MinValue:    float64Ptr(1),
				},
			},
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "removeinvites",
			Description: "Take invites away from a user",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to take invites from",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "How many invites to remove",
					Required:    true,
					MinValue:    float64Ptr(1),
				},
			},
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "setup",
			Description: "First-time setup for this server",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "logs_channel",
					Description: "Channel for invite activity logs",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "bot_channel",
					Description: "Channel where bot commands are allowed",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "default_role",
					Description: "Role given to members who join via a bot invite",
					Required:    false,
				},
			},
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "changedefaults",
			Description: "Change the configured channels or default role",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "logs_channel",
					Description: "New logs channel",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "bot_channel",
					Description: "New bot commands channel",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "default_role",
					Description: "New default role for invited joiners",
					Required:    false,
				},
			},
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     "currentconfig",
			Description:              "Show the current server configuration",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     "reset",
			Description:              "Wipe all invite data for this server",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "help",
			Description: "Show what this bot does and how to use it",
		},
	}

	_, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commands)
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	log.WithField("count", len(commands)).Info("Registered slash commands")
	return nil
}

// handleInteraction dispatches slash commands and component interactions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondError(s, i, "This bot only works inside a server.")
		return
	}

	ctx := context.Background()
	name := i.ApplicationCommandData().Name

	// setup and help run anywhere; everything else is gated to the
	// configured bot channel
	if name != "setup" && name != "help" {
		if err := b.requireCommandChannel(ctx, s, i); err != nil {
			return
		}
	}

	switch name {
	case "createinvite":
		b.handleCreateInvite(ctx, s, i)
	case "deleteinvite":
		b.handleDeleteInvite(ctx, s, i)
	case "invites":
		b.handleInvites(ctx, s, i)
	case "checkinvites":
		b.handleCheckInvites(ctx, s, i)
	case "setrole", "setinvites":
		b.handleSetRole(ctx, s, i)
	case "unsetrole":
		b.handleUnsetRole(ctx, s, i)
	case "addinvites":
		b.handleAddInvites(ctx, s, i)
	case "removeinvites":
		b.handleRemoveInvites(ctx, s, i)
	case "setup":
		b.handleSetup(ctx, s, i)
	case "changedefaults":
		b.handleChangeDefaults(ctx, s, i)
	case "currentconfig":
		b.handleCurrentConfig(ctx, s, i)
	case "reset":
		b.handleReset(ctx, s, i)
	case "help":
		b.handleHelp(s, i)
	default:
		log.WithField("command", name).Warn("Unknown command")
	}
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.MessageComponentData().CustomID {
	case resetConfirmID:
		b.handleResetConfirm(context.Background(), s, i)
	case resetCancelID:
		b.handleResetCancel(s, i)
	}
}

// requireCommandChannel enforces the setup + bot-channel gate, answering the
// interaction itself when the gate rejects.
func (b *Bot) requireCommandChannel(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	guildID, err := parseID(i.GuildID)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return err
	}
	channelID, err := parseID(i.ChannelID)
	if err != nil {
		respondError(s, i, "Something went wrong.")
		return err
	}

	_, err = b.configService.RequireCommandChannel(ctx, guildID, channelID)
	if err != nil {
		var wrongChannel *service.WrongChannelError
		switch {
		case errors.Is(err, service.ErrNotConfigured):
			respondError(s, i, "This server is not set up yet. An administrator needs to run /setup first.")
		case errors.As(err, &wrongChannel):
			respondError(s, i, fmt.Sprintf("Bot commands only work in <#%d>.", wrongChannel.BotChannelID))
		default:
			log.WithError(err).Error("Command channel gate failed")
			respondError(s, i, "Something went wrong.")
		}
		return err
	}
	return nil
}

// respondError sends a short ephemeral failure message
func respondError(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	if err := common.RespondWithMessage(s, i, message, true); err != nil {
		log.WithError(err).Error("Failed to send error response")
	}
}

// respondServiceError translates service errors into user-facing messages
func respondServiceError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	var remoteErr *service.RemoteError

	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		respondError(s, i, "You have no invites left.")
	case errors.Is(err, service.ErrNoInviteRole):
		respondError(s, i, "None of your roles grant invites.")
	case errors.Is(err, service.ErrInviteNotFound):
		respondError(s, i, "That invite doesn't exist. Check the number with /invites.")
	case errors.Is(err, service.ErrInsufficientBalance):
		respondError(s, i, "That user doesn't have enough invites to remove.")
	case errors.Is(err, service.ErrNotConfigured):
		respondError(s, i, "This server is not set up yet. An administrator needs to run /setup first.")
	case errors.Is(err, service.ErrAlreadySetup):
		respondError(s, i, "This server is already set up. Use /changedefaults to adjust the configuration.")
	case errors.As(err, &remoteErr):
		log.WithError(err).Error("Discord call failed")
		respondError(s, i, "Discord didn't cooperate. Please try again.")
	default:
		log.WithError(err).Error("Command failed")
		respondError(s, i, "Something went wrong.")
	}
}

func float64Ptr(v float64) *float64 {
	return &v
}
