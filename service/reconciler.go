package service

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/cache"
	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type reconciler struct {
	uowFactory UnitOfWorkFactory
	gateway    InviteGateway
	invites    *cache.InviteCache

	// Dedupes concurrent live fetches per guild: a burst of near-simultaneous
	// joins costs one REST call, not one per join.
	fetches singleflight.Group
}

// NewReconciler creates a new reconciler
func NewReconciler(uowFactory UnitOfWorkFactory, gateway InviteGateway, invites *cache.InviteCache) Reconciler {
	return &reconciler{
		uowFactory: uowFactory,
		gateway:    gateway,
		invites:    invites,
	}
}

// SeedGuild primes the live cache from a full REST fetch.
func (r *reconciler) SeedGuild(ctx context.Context, guildID int64) error {
	live, err := r.fetchLive(ctx, guildID)
	if err != nil {
		return &RemoteError{Op: "fetch_invites", Err: err}
	}

	r.invites.Seed(guildID, toCacheInvites(live))
	log.WithFields(log.Fields{
		"guild":   guildID,
		"invites": len(live),
	}).Debug("Seeded live invite cache")
	return nil
}

// HandleInviteCreate folds a gateway invite-create event into the cache.
func (r *reconciler) HandleInviteCreate(guildID int64, invite *LiveInvite) {
	r.invites.OnCreate(guildID, cache.Invite{
		Code:      invite.Code,
		Uses:      invite.Uses,
		InviterID: invite.InviterID,
		ChannelID: invite.ChannelID,
	})
}

// HandleInviteDelete folds a gateway invite-delete event into the cache.
// Codes that still have a record are bridged into the recently-deleted
// buffer: the deletion usually means the single-use invite was just
// consumed, and the join event racing behind it needs the code to attribute.
// Codes without a record were already explained and are simply dropped.
func (r *reconciler) HandleInviteDelete(ctx context.Context, guildID int64, code string) {
	record, err := r.recordForCode(ctx, guildID, code)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild": guildID,
			"code":  code,
		}).Warn("Failed to look up record for deleted invite; bridging anyway")
		record = &models.InviteRecord{}
	}

	if record != nil {
		r.invites.OnDelete(guildID, code)
	} else {
		r.invites.Remove(guildID, code)
	}
}

func (r *reconciler) recordForCode(ctx context.Context, guildID int64, code string) (*models.InviteRecord, error) {
	uow := r.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	record, err := uow.InviteRecordRepository().GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

// HandleMemberJoin attributes a join to the invite it consumed. The
// recently-deleted buffer is checked first; failing that, the cached live
// set is diffed against a fresh fetch and the first unexplained
// disappearance wins. A join no invite can explain returns nil: the member
// arrived through a vanity URL or someone else's invite.
func (r *reconciler) HandleMemberJoin(ctx context.Context, guildID, joinedUserID int64) (*models.JoinAttribution, error) {
	for {
		matched, ok := r.invites.TakeRecentlyDeleted(guildID)
		if !ok {
			break
		}
		attribution, err := r.attribute(ctx, guildID, matched.Code, joinedUserID)
		if err != nil {
			return nil, err
		}
		if attribution != nil {
			return attribution, nil
		}
		// Stale entry whose record is already gone; keep draining and, if
		// nothing in the buffer explains the join, fall through to the diff
	}

	live, err := r.fetchLive(ctx, guildID)
	if err != nil {
		return nil, &RemoteError{Op: "fetch_invites", Err: err}
	}

	fresh := make(map[string]struct{}, len(live))
	for _, inv := range live {
		fresh[inv.Code] = struct{}{}
	}
	missing := r.invites.Diff(guildID, fresh)
	r.invites.Seed(guildID, toCacheInvites(live))

	if len(missing) == 0 {
		return nil, nil
	}
	if len(missing) > 1 {
		log.WithFields(log.Fields{
			"guild":      guildID,
			"candidates": len(missing),
		}).Warn("Multiple invites disappeared at once; attributing the first match")
	}

	for _, code := range missing {
		attribution, err := r.attribute(ctx, guildID, code, joinedUserID)
		if err != nil {
			return nil, err
		}
		if attribution != nil {
			return attribution, nil
		}
	}
	return nil, nil
}

// attribute appends the join to the log and consumes the invite record.
// Returns nil without error when the record is already gone, which just
// means another path explained this code first.
func (r *reconciler) attribute(ctx context.Context, guildID int64, code string, joinedUserID int64) (*models.JoinAttribution, error) {
	uow := r.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	record, err := uow.InviteRecordRepository().GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load record for code %s: %w", code, err)
	}
	if record == nil {
		return nil, nil
	}

	attribution := &models.JoinAttribution{
		GuildID:       guildID,
		InviteID:      record.ID,
		InviterUserID: record.UserID,
		JoinedUserID:  joinedUserID,
	}
	if err := uow.JoinAttributionRepository().Create(ctx, attribution); err != nil {
		return nil, fmt.Errorf("failed to append attribution: %w", err)
	}

	// Single-use invites are spent on first join; the record goes with them
	if _, err := uow.InviteRecordRepository().DeleteByCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to consume invite record: %w", err)
	}

	uow.EventBus().Publish(events.JoinAttributedEvent{
		GuildID:      guildID,
		InviterID:    record.UserID,
		JoinedUserID: joinedUserID,
		Code:         code,
	})
	uow.EventBus().Publish(events.InviteDeletedEvent{
		GuildID: guildID,
		UserID:  record.UserID,
		Code:    code,
		Reason:  "consumed",
	})

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit attribution: %w", err)
	}

	r.invites.Remove(guildID, code)
	return attribution, nil
}

// SweepOrphans deletes records whose codes are no longer live. No refund:
// an orphaned record means the invite disappeared without the engine
// noticing, and handing invites back for unexplained disappearances would
// let users farm refunds by deleting links themselves.
func (r *reconciler) SweepOrphans(ctx context.Context, guildID int64) (int, error) {
	live, err := r.fetchLive(ctx, guildID)
	if err != nil {
		return 0, &RemoteError{Op: "fetch_invites", Err: err}
	}

	liveCodes := make(map[string]struct{}, len(live))
	for _, inv := range live {
		liveCodes[inv.Code] = struct{}{}
	}
	r.invites.Seed(guildID, toCacheInvites(live))

	uow := r.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	records, err := uow.InviteRecordRepository().GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	swept := 0
	var sweptCodes []string
	for _, record := range records {
		if _, stillLive := liveCodes[record.Code]; stillLive {
			continue
		}
		deleted, err := uow.InviteRecordRepository().DeleteByCode(ctx, record.Code)
		if err != nil {
			return 0, fmt.Errorf("failed to sweep record %s: %w", record.Code, err)
		}
		if deleted == nil {
			continue
		}
		swept++
		sweptCodes = append(sweptCodes, record.Code)
		uow.EventBus().Publish(events.InviteDeletedEvent{
			GuildID: guildID,
			UserID:  record.UserID,
			Code:    record.Code,
			Reason:  "orphan_sweep",
		})
	}

	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sweep: %w", err)
	}

	// Swept codes are explained; drop any lingering bridge entries so they
	// cannot soak up a later join
	for _, code := range sweptCodes {
		r.invites.Remove(guildID, code)
	}

	if swept > 0 {
		log.WithFields(log.Fields{
			"guild": guildID,
			"swept": swept,
		}).Info("Swept orphaned invite records")
	}
	return swept, nil
}

func (r *reconciler) fetchLive(ctx context.Context, guildID int64) ([]*LiveInvite, error) {
	v, err, _ := r.fetches.Do(fmt.Sprintf("invites:%d", guildID), func() (any, error) {
		return r.gateway.GuildInvites(ctx, guildID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*LiveInvite), nil
}

func toCacheInvites(live []*LiveInvite) []cache.Invite {
	out := make([]cache.Invite, 0, len(live))
	for _, inv := range live {
		out = append(out, cache.Invite{
			Code:      inv.Code,
			Uses:      inv.Uses,
			InviterID: inv.InviterID,
			ChannelID: inv.ChannelID,
		})
	}
	return out
}
