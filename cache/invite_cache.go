// Package cache holds the process-local mirror of each guild's live invite
// set. It is a disposable projection: losing it only forces a slower
// reconciliation path (a live REST fetch), never data loss. Balance decisions
// always go through the persistent stores, not this cache.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Invite is the cached view of one live, bot-authored invite.
type Invite struct {
	Code      string
	Uses      int
	InviterID int64
	ChannelID int64
}

type deletedInvite struct {
	invite    Invite
	deletedAt time.Time
}

// Config tunes the recently-deleted bridge buffer.
type Config struct {
	// MatchWindow is how recent a deletion must be to explain a member join.
	MatchWindow time.Duration
	// Retention bounds how long deleted entries are kept at all.
	Retention time.Duration
}

// InviteCache tracks, per guild, which bot-created invite codes are live,
// plus a short-lived buffer of recently deleted codes. The buffer bridges
// the race between Discord's invite-delete and member-join gateway events:
// a consumed single-use invite vanishes from the live set the instant it is
// used, and the delete event usually beats the join event.
type InviteCache struct {
	// mu guards the live map and every read-modify-write of the deleted
	// buffer; gateway handlers run on separate goroutines.
	mu        sync.RWMutex
	botUserID int64
	live      map[int64]map[string]Invite

	deleted     *ristretto.Cache
	matchWindow time.Duration
	retention   time.Duration

	now func() time.Time
}

// New creates an invite cache. The recently-deleted buffer is TTL-bound and
// best-effort: entries may be evicted early under pressure, in which case
// join attribution falls back to a live-set diff.
func New(cfg Config) (*InviteCache, error) {
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = 5 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * time.Second
	}

	deleted, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recently-deleted buffer: %w", err)
	}

	return &InviteCache{
		live:        make(map[int64]map[string]Invite),
		deleted:     deleted,
		matchWindow: cfg.MatchWindow,
		retention:   cfg.Retention,
		now:         time.Now,
	}, nil
}

// SetBotUser records the bot's own user ID, used to filter invite sets down
// to bot-authored codes. Must be called once the session is identified,
// before any Seed.
func (c *InviteCache) SetBotUser(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.botUserID = id
}

// BotUser returns the configured bot user ID.
func (c *InviteCache) BotUser() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botUserID
}

// Seed replaces a guild's live set with a fresh snapshot, keeping only
// bot-authored invites.
func (c *InviteCache) Seed(guildID int64, invites []Invite) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := make(map[string]Invite, len(invites))
	for _, inv := range invites {
		if inv.InviterID == c.botUserID {
			set[inv.Code] = inv
		}
	}
	c.live[guildID] = set
}

// OnCreate inserts a newly created invite if it is bot-authored.
func (c *InviteCache) OnCreate(guildID int64, inv Invite) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inv.InviterID != c.botUserID {
		return
	}
	set := c.live[guildID]
	if set == nil {
		set = make(map[string]Invite)
		c.live[guildID] = set
	}
	set[inv.Code] = inv
}

// OnDelete removes a code from the live set and, when it was tracked,
// parks it in the recently-deleted buffer so a racing join event can still
// be attributed to it.
func (c *InviteCache) OnDelete(guildID int64, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.live[guildID]
	inv, tracked := set[code]
	if !tracked {
		return
	}
	delete(set, code)

	entries, _ := c.deletedEntries(guildID)
	entries = append(entries, deletedInvite{invite: inv, deletedAt: c.now()})
	c.deleted.SetWithTTL(c.deletedKey(guildID), entries, int64(len(entries)), c.retention)
	c.deleted.Wait()
}

// Remove drops a code from the live set and from the recently-deleted
// buffer. Used when the engine itself already explained the disappearance
// (manual delete, attribution, orphan sweep): a code explained once must not
// linger in the buffer and swallow the next join.
func (c *InviteCache) Remove(guildID int64, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.live[guildID], code)

	entries, ok := c.deletedEntries(guildID)
	if !ok {
		return
	}
	kept := entries[:0:0]
	for _, entry := range entries {
		if entry.invite.Code != code {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(entries) {
		return
	}
	key := c.deletedKey(guildID)
	if len(kept) == 0 {
		c.deleted.Del(key)
	} else {
		c.deleted.SetWithTTL(key, kept, int64(len(kept)), c.retention)
	}
	c.deleted.Wait()
}

// Snapshot returns a copy of the guild's cached live set.
func (c *InviteCache) Snapshot(guildID int64) map[string]Invite {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Invite, len(c.live[guildID]))
	for code, inv := range c.live[guildID] {
		out[code] = inv
	}
	return out
}

// Seeded reports whether the guild has ever been seeded.
func (c *InviteCache) Seeded(guildID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.live[guildID]
	return ok
}

// Diff returns the cached codes that are absent from fresh, i.e. the
// consumption candidates. Order is unspecified.
func (c *InviteCache) Diff(guildID int64, fresh map[string]struct{}) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	for code := range c.live[guildID] {
		if _, ok := fresh[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing
}

// TakeRecentlyDeleted pops the oldest deletion younger than the match
// window for the guild. Consuming the entry prevents one deletion from
// explaining two joins.
func (c *InviteCache) TakeRecentlyDeleted(guildID int64) (Invite, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.deletedEntries(guildID)
	if !ok {
		return Invite{}, false
	}

	cutoff := c.now().Add(-c.matchWindow)
	taken := -1
	for i, entry := range entries {
		if entry.deletedAt.After(cutoff) {
			taken = i
			break
		}
	}
	if taken == -1 {
		return Invite{}, false
	}

	matched := entries[taken]
	remaining := append(entries[:taken:taken], entries[taken+1:]...)
	key := c.deletedKey(guildID)
	if len(remaining) == 0 {
		c.deleted.Del(key)
	} else {
		c.deleted.SetWithTTL(key, remaining, int64(len(remaining)), c.retention)
	}
	c.deleted.Wait()

	return matched.invite, true
}

// Forget drops everything the cache holds for a guild.
func (c *InviteCache) Forget(guildID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.live, guildID)
	c.deleted.Del(c.deletedKey(guildID))
	c.deleted.Wait()
}

// Close releases the underlying TTL buffer.
func (c *InviteCache) Close() {
	c.deleted.Close()
}

func (c *InviteCache) deletedKey(guildID int64) string {
	return fmt.Sprintf("deleted:%d", guildID)
}

func (c *InviteCache) deletedEntries(guildID int64) ([]deletedInvite, bool) {
	v, ok := c.deleted.Get(c.deletedKey(guildID))
	if !ok {
		return nil, false
	}
	entries, ok := v.([]deletedInvite)
	return entries, ok
}
