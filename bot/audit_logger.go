package bot

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/service"

	"github.com/bwmarrin/discordgo"
)

// subscribeAuditLogger posts every committed balance and invite change to the
// guild's configured logs channel. Handlers run off the event bus after
// commit, so a failed post never affects the transaction that produced it.
func (b *Bot) subscribeAuditLogger() {
	b.eventBus.Subscribe(events.EventTypeBalanceChange, b.onBalanceChange)
	b.eventBus.Subscribe(events.EventTypeInviteCreated, b.onInviteCreated)
	b.eventBus.Subscribe(events.EventTypeInviteDeleted, b.onInviteDeleted)
	b.eventBus.Subscribe(events.EventTypeJoinAttributed, b.onJoinAttributed)
	b.eventBus.Subscribe(events.EventTypeGuildReset, b.onGuildReset)
}

func (b *Bot) onBalanceChange(ctx context.Context, event events.Event) {
	e, ok := event.(events.BalanceChangeEvent)
	if !ok {
		return
	}

	var msg string
	switch e.Reason {
	case "mint":
		msg = fmt.Sprintf("<@%d> spent an invite (%d left)", e.UserID, e.NewRemaining)
	case "refund":
		msg = fmt.Sprintf("<@%d> got an invite back (%d left)", e.UserID, e.NewRemaining)
	case "seed":
		msg = fmt.Sprintf("<@%d> received their role allowance of %d invite(s)", e.UserID, e.NewRemaining)
	case "admin_add":
		msg = fmt.Sprintf("An admin gave <@%d> %d invite(s)", e.UserID, e.ChangeAmount)
	case "admin_remove":
		msg = fmt.Sprintf("An admin removed %d invite(s) from <@%d>", -e.ChangeAmount, e.UserID)
	default:
		msg = fmt.Sprintf("Balance of <@%d> changed by %d", e.UserID, e.ChangeAmount)
	}

	b.postToLogsChannel(ctx, e.GuildID, msg)
}

func (b *Bot) onInviteCreated(ctx context.Context, event events.Event) {
	e, ok := event.(events.InviteCreatedEvent)
	if !ok {
		return
	}
	b.postToLogsChannel(ctx, e.GuildID,
		fmt.Sprintf("<@%d> created invite `%s`", e.UserID, e.Code))
}

func (b *Bot) onInviteDeleted(ctx context.Context, event events.Event) {
	e, ok := event.(events.InviteDeletedEvent)
	if !ok {
		return
	}

	var msg string
	switch e.Reason {
	case "manual":
		msg = fmt.Sprintf("<@%d> deleted invite `%s`", e.UserID, e.Code)
		if e.Refunded {
			msg += " (invite refunded)"
		}
	case "consumed":
		return // the join attribution message covers this
	case "orphan_sweep":
		msg = fmt.Sprintf("Invite `%s` of <@%d> disappeared from Discord; record cleaned up", e.Code, e.UserID)
	default:
		msg = fmt.Sprintf("Invite `%s` of <@%d> removed", e.Code, e.UserID)
	}

	b.postToLogsChannel(ctx, e.GuildID, msg)
}

func (b *Bot) onJoinAttributed(ctx context.Context, event events.Event) {
	e, ok := event.(events.JoinAttributedEvent)
	if !ok {
		return
	}
	b.postToLogsChannel(ctx, e.GuildID,
		fmt.Sprintf("<@%d> joined using invite `%s` from <@%d>", e.JoinedUserID, e.Code, e.InviterID))
}

// onGuildReset uses the channel snapshot carried on the event; the config row
// holding it is gone by the time this runs.
func (b *Bot) onGuildReset(ctx context.Context, event events.Event) {
	e, ok := event.(events.GuildResetEvent)
	if !ok {
		return
	}
	if e.LogsChannelID == 0 {
		return
	}

	msg := fmt.Sprintf("<@%d> reset all invite data (%d live invite(s) revoked)", e.ResetByUserID, e.InvitesRevoked)
	if _, err := b.session.ChannelMessageSend(formatID(e.LogsChannelID), msg); err != nil {
		log.WithError(err).WithField("guild", e.GuildID).Warn("Failed to post reset audit message")
	}
}

func (b *Bot) postToLogsChannel(ctx context.Context, guildID int64, message string) {
	config, err := b.configService.Get(ctx, guildID)
	if err != nil {
		if !errors.Is(err, service.ErrNotConfigured) {
			log.WithError(err).WithField("guild", guildID).Warn("Failed to load config for audit message")
		}
		return
	}
	if config.LogsChannelID == 0 {
		return
	}

	_, err = b.session.ChannelMessageSend(formatID(config.LogsChannelID), message,
		discordgo.WithContext(ctx))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild":   guildID,
			"channel": config.LogsChannelID,
		}).Warn("Failed to post audit message")
	}
}
