package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ZubyWasTaken/refer-a-friend/service"

	"github.com/bwmarrin/discordgo"
)

// inviteGateway adapts the discordgo REST client to service.InviteGateway.
type inviteGateway struct {
	session *discordgo.Session
}

// NewInviteGateway creates the Discord REST adapter for invite operations
func NewInviteGateway(session *discordgo.Session) service.InviteGateway {
	return &inviteGateway{session: session}
}

func (g *inviteGateway) CreateInvite(ctx context.Context, channelID int64, maxUses, maxAgeSeconds int) (*service.LiveInvite, error) {
	invite, err := g.session.ChannelInviteCreate(formatID(channelID), discordgo.Invite{
		MaxAge:  maxAgeSeconds,
		MaxUses: maxUses,
		Unique:  true,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("channel invite create: %w", err)
	}
	return toLiveInvite(invite)
}

func (g *inviteGateway) DeleteInvite(ctx context.Context, code string) error {
	_, err := g.session.InviteDelete(code, discordgo.WithContext(ctx))
	if err != nil {
		if isUnknownInvite(err) {
			return service.ErrInviteGone
		}
		return fmt.Errorf("invite delete: %w", err)
	}
	return nil
}

func (g *inviteGateway) GuildInvites(ctx context.Context, guildID int64) ([]*service.LiveInvite, error) {
	invites, err := g.session.GuildInvites(formatID(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("guild invites: %w", err)
	}

	out := make([]*service.LiveInvite, 0, len(invites))
	for _, invite := range invites {
		live, err := toLiveInvite(invite)
		if err != nil {
			return nil, err
		}
		out = append(out, live)
	}
	return out, nil
}

func toLiveInvite(invite *discordgo.Invite) (*service.LiveInvite, error) {
	live := &service.LiveInvite{
		Code: invite.Code,
		Link: "https://discord.gg/" + invite.Code,
		Uses: invite.Uses,
	}
	if invite.Inviter != nil {
		id, err := parseID(invite.Inviter.ID)
		if err != nil {
			return nil, err
		}
		live.InviterID = id
	}
	if invite.Channel != nil {
		id, err := parseID(invite.Channel.ID)
		if err != nil {
			return nil, err
		}
		live.ChannelID = id
	}
	return live, nil
}

func isUnknownInvite(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownInvite
	}
	return false
}

func parseID(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed discord ID %q: %w", id, err)
	}
	return v, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
