package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guildA  int64 = 1111
	botUser int64 = 9999
)

func newCache(t *testing.T, cfg Config) *InviteCache {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	c.SetBotUser(botUser)
	return c
}

func TestInviteCache_SeedFiltersToBotInvites(t *testing.T) {
	c := newCache(t, Config{})

	c.Seed(guildA, []Invite{
		{Code: "mine", InviterID: botUser},
		{Code: "theirs", InviterID: 123},
	})

	snapshot := c.Snapshot(guildA)
	assert.Contains(t, snapshot, "mine")
	assert.NotContains(t, snapshot, "theirs")
	assert.True(t, c.Seeded(guildA))
	assert.False(t, c.Seeded(guildA+1))
}

func TestInviteCache_OnCreate(t *testing.T) {
	c := newCache(t, Config{})

	c.OnCreate(guildA, Invite{Code: "new1", InviterID: botUser})
	c.OnCreate(guildA, Invite{Code: "alien", InviterID: 777})

	snapshot := c.Snapshot(guildA)
	assert.Contains(t, snapshot, "new1")
	assert.NotContains(t, snapshot, "alien")
}

func TestInviteCache_Diff(t *testing.T) {
	c := newCache(t, Config{})
	c.Seed(guildA, []Invite{
		{Code: "aaa", InviterID: botUser},
		{Code: "bbb", InviterID: botUser},
	})

	missing := c.Diff(guildA, map[string]struct{}{"bbb": {}})
	assert.Equal(t, []string{"aaa"}, missing)

	missing = c.Diff(guildA, map[string]struct{}{"aaa": {}, "bbb": {}})
	assert.Empty(t, missing)
}

func TestInviteCache_OnDeleteBridgesTrackedCodes(t *testing.T) {
	c := newCache(t, Config{})
	c.Seed(guildA, []Invite{{Code: "used1", InviterID: botUser, ChannelID: 55}})

	c.OnDelete(guildA, "used1")
	assert.NotContains(t, c.Snapshot(guildA), "used1")

	matched, ok := c.TakeRecentlyDeleted(guildA)
	require.True(t, ok)
	assert.Equal(t, "used1", matched.Code)
	assert.Equal(t, int64(55), matched.ChannelID)

	// Consumed: one deletion explains at most one join
	_, ok = c.TakeRecentlyDeleted(guildA)
	assert.False(t, ok)
}

func TestInviteCache_OnDeleteIgnoresUntrackedCodes(t *testing.T) {
	c := newCache(t, Config{})
	c.Seed(guildA, nil)

	c.OnDelete(guildA, "never-seen")

	_, ok := c.TakeRecentlyDeleted(guildA)
	assert.False(t, ok)
}

func TestInviteCache_TakeRecentlyDeleted_MatchWindow(t *testing.T) {
	c := newCache(t, Config{MatchWindow: 5 * time.Second, Retention: 30 * time.Second})
	c.Seed(guildA, []Invite{{Code: "stale1", InviterID: botUser}})

	base := time.Now()
	c.now = func() time.Time { return base }
	c.OnDelete(guildA, "stale1")

	// Past the match window the deletion no longer explains a join
	c.now = func() time.Time { return base.Add(6 * time.Second) }
	_, ok := c.TakeRecentlyDeleted(guildA)
	assert.False(t, ok)
}

func TestInviteCache_TakeRecentlyDeleted_OldestFirst(t *testing.T) {
	c := newCache(t, Config{MatchWindow: 5 * time.Second})
	c.Seed(guildA, []Invite{
		{Code: "first", InviterID: botUser},
		{Code: "second", InviterID: botUser},
	})

	base := time.Now()
	c.now = func() time.Time { return base }
	c.OnDelete(guildA, "first")
	c.now = func() time.Time { return base.Add(time.Second) }
	c.OnDelete(guildA, "second")

	matched, ok := c.TakeRecentlyDeleted(guildA)
	require.True(t, ok)
	assert.Equal(t, "first", matched.Code)

	matched, ok = c.TakeRecentlyDeleted(guildA)
	require.True(t, ok)
	assert.Equal(t, "second", matched.Code)
}

func TestInviteCache_RemoveDoesNotBridge(t *testing.T) {
	c := newCache(t, Config{})
	c.Seed(guildA, []Invite{{Code: "gone1", InviterID: botUser}})

	c.Remove(guildA, "gone1")

	assert.NotContains(t, c.Snapshot(guildA), "gone1")
	_, ok := c.TakeRecentlyDeleted(guildA)
	assert.False(t, ok)
}

func TestInviteCache_RemovePurgesBridgedCode(t *testing.T) {
	c := newCache(t, Config{})
	c.Seed(guildA, []Invite{
		{Code: "done1", InviterID: botUser},
		{Code: "other", InviterID: botUser},
	})
	c.OnDelete(guildA, "done1")
	c.OnDelete(guildA, "other")

	// The engine explained done1 elsewhere; its bridge entry must not
	// explain the next join
	c.Remove(guildA, "done1")

	matched, ok := c.TakeRecentlyDeleted(guildA)
	require.True(t, ok)
	assert.Equal(t, "other", matched.Code)
	_, ok = c.TakeRecentlyDeleted(guildA)
	assert.False(t, ok)
}

func TestInviteCache_ConcurrentDeletesAllBridged(t *testing.T) {
	c := newCache(t, Config{})

	const n = 16
	invites := make([]Invite, n)
	for i := range invites {
		invites[i] = Invite{Code: fmt.Sprintf("code%02d", i), InviterID: botUser}
	}
	c.Seed(guildA, invites)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			c.OnDelete(guildA, code)
		}(invites[i].Code)
	}
	wg.Wait()

	taken := 0
	for {
		if _, ok := c.TakeRecentlyDeleted(guildA); !ok {
			break
		}
		taken++
	}
	assert.Equal(t, n, taken)
}

func TestInviteCache_Forget(t *testing.T) {
	c := newCache(t, Config{})
	c.Seed(guildA, []Invite{{Code: "wipe1", InviterID: botUser}})
	c.OnDelete(guildA, "wipe1")

	c.Forget(guildA)

	assert.False(t, c.Seeded(guildA))
	_, ok := c.TakeRecentlyDeleted(guildA)
	assert.False(t, ok)
}

func TestInviteCache_GuildsAreIndependent(t *testing.T) {
	c := newCache(t, Config{})
	c.Seed(guildA, []Invite{{Code: "shared", InviterID: botUser}})
	c.Seed(guildA+1, []Invite{{Code: "shared", InviterID: botUser}})

	c.OnDelete(guildA, "shared")

	assert.NotContains(t, c.Snapshot(guildA), "shared")
	assert.Contains(t, c.Snapshot(guildA+1), "shared")

	_, ok := c.TakeRecentlyDeleted(guildA + 1)
	assert.False(t, ok)
}
