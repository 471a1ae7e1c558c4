package bot

import (
	"testing"

	"github.com/ZubyWasTaken/refer-a-friend/cache"
	"github.com/ZubyWasTaken/refer-a-friend/service"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newEventBot(t *testing.T) (*Bot, *cache.InviteCache, *service.MockReconciler) {
	t.Helper()
	invites, err := cache.New(cache.Config{})
	require.NoError(t, err)
	t.Cleanup(invites.Close)

	reconciler := new(service.MockReconciler)
	b := &Bot{invites: invites, reconciler: reconciler}
	return b, invites, reconciler
}

func TestBot_HandleReady_SeedsGuilds(t *testing.T) {
	b, invites, reconciler := newEventBot(t)

	reconciler.On("SeedGuild", mock.Anything, int64(100)).Return(nil)
	reconciler.On("SeedGuild", mock.Anything, int64(200)).Return(nil)

	b.handleReady(nil, &discordgo.Ready{
		User:   &discordgo.User{ID: "424242"},
		Guilds: []*discordgo.Guild{{ID: "100"}, {ID: "200"}},
	})

	assert.Equal(t, int64(424242), invites.BotUser())
	reconciler.AssertExpectations(t)
}

func TestBot_HandleReady_MalformedBotID(t *testing.T) {
	b, invites, reconciler := newEventBot(t)

	// A bad snowflake must not take the process down; the handler degrades
	// to an unseeded cache
	b.handleReady(nil, &discordgo.Ready{
		User:   &discordgo.User{ID: "not-a-snowflake"},
		Guilds: []*discordgo.Guild{{ID: "100"}},
	})

	assert.Zero(t, invites.BotUser())
	reconciler.AssertNotCalled(t, "SeedGuild", mock.Anything, mock.Anything)
}
