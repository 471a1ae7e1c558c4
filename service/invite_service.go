package service

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/cache"
	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	log "github.com/sirupsen/logrus"
)

type inviteService struct {
	uowFactory UnitOfWorkFactory
	gateway    InviteGateway
	invites    *cache.InviteCache
	reconciler Reconciler
}

// NewInviteService creates a new invite service
func NewInviteService(uowFactory UnitOfWorkFactory, gateway InviteGateway, invites *cache.InviteCache, reconciler Reconciler) InviteService {
	return &inviteService{
		uowFactory: uowFactory,
		gateway:    gateway,
		invites:    invites,
		reconciler: reconciler,
	}
}

// CreateInvite charges the caller's balance, then mints a single-use invite.
// The charge is reserved before the remote call and refunded if Discord
// refuses; the alternative order would hand out free invites whenever the
// process dies between the two steps.
func (s *inviteService) CreateInvite(ctx context.Context, req CreateInviteRequest) (*CreateInviteResult, error) {
	charged, chargedRole, remaining, err := s.reserve(ctx, req)
	if err != nil {
		return nil, err
	}

	live, err := s.gateway.CreateInvite(ctx, req.ChannelID, 1, 0)
	if err != nil {
		if charged {
			s.refund(ctx, req.GuildID, req.UserID, chargedRole, "refund")
		}
		return nil, &RemoteError{Op: "create_invite", Err: err}
	}

	record := &models.InviteRecord{
		GuildID: req.GuildID,
		UserID:  req.UserID,
		Code:    live.Code,
		Link:    live.Link,
		MaxUses: 1,
	}
	if err := s.recordMint(ctx, req, record, charged, chargedRole, remaining); err != nil {
		// The remote invite exists but we could not remember it. Revoke it
		// and give the charge back rather than leak an untracked link.
		if delErr := s.gateway.DeleteInvite(ctx, live.Code); delErr != nil && delErr != ErrInviteGone {
			log.WithError(delErr).WithField("code", live.Code).
				Error("Failed to revoke invite after record insert failed")
		}
		if charged {
			s.refund(ctx, req.GuildID, req.UserID, chargedRole, "refund")
		}
		return nil, err
	}

	s.invites.OnCreate(req.GuildID, cache.Invite{
		Code:      live.Code,
		Uses:      live.Uses,
		InviterID: s.invites.BotUser(),
		ChannelID: req.ChannelID,
	})

	result := &CreateInviteResult{
		Record:  record,
		Charged: charged,
	}
	if charged {
		result.Remaining = models.Finite(remaining)
	} else {
		result.Remaining = models.Unlimited()
	}
	return result, nil
}

// reserve seeds the caller's ledger if needed and pre-decrements the
// chargeable row. Returns whether a charge happened, which role paid, and
// the count left on that row.
func (s *inviteService) reserve(ctx context.Context, req CreateInviteRequest) (charged bool, chargedRole int64, remaining int64, err error) {
	uow := s.uowFactory.CreateForGuild(req.GuildID)
	if err := uow.Begin(ctx); err != nil {
		return false, 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	balances, err := ensureInitialized(ctx, uow, req.UserID, req.RoleIDs, req.IsAdmin, req.AdminRoleID)
	if err != nil {
		return false, 0, 0, err
	}

	elig, err := resolveEligibility(balances)
	if err != nil {
		return false, 0, 0, err
	}

	if !elig.unlimited {
		ok, err := uow.BalanceRepository().Reserve(ctx, req.UserID, elig.chargeable.RoleID)
		if err != nil {
			return false, 0, 0, fmt.Errorf("failed to reserve invite: %w", err)
		}
		if !ok {
			// A concurrent mint drained the row between read and update
			return false, 0, 0, ErrQuotaExceeded
		}
		charged = true
		chargedRole = elig.chargeable.RoleID
		remaining = elig.chargeable.Remaining.Remaining() - 1

		uow.EventBus().Publish(events.BalanceChangeEvent{
			GuildID:      req.GuildID,
			UserID:       req.UserID,
			RoleID:       chargedRole,
			OldRemaining: remaining + 1,
			NewRemaining: remaining,
			ChangeAmount: -1,
			Reason:       "mint",
		})
	}

	if err := uow.Commit(); err != nil {
		return false, 0, 0, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return charged, chargedRole, remaining, nil
}

// recordMint persists the invite record for a successful remote create.
func (s *inviteService) recordMint(ctx context.Context, req CreateInviteRequest, record *models.InviteRecord, charged bool, chargedRole, remaining int64) error {
	uow := s.uowFactory.CreateForGuild(req.GuildID)
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.InviteRecordRepository().Create(ctx, record); err != nil {
		return fmt.Errorf("failed to record minted invite: %w", err)
	}

	uow.EventBus().Publish(events.InviteCreatedEvent{
		GuildID: req.GuildID,
		UserID:  req.UserID,
		Code:    record.Code,
		Link:    record.Link,
		MaxUses: record.MaxUses,
	})

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit minted invite: %w", err)
	}
	return nil
}

// refund is the compensating increment for a reservation whose remote call
// failed. Best-effort: a refund that cannot land is logged, not surfaced,
// because the caller already has a more useful error to report.
func (s *inviteService) refund(ctx context.Context, guildID, userID, roleID int64, reason string) {
	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		log.WithError(err).Error("Failed to begin refund transaction")
		return
	}
	defer uow.Rollback()

	ok, err := uow.BalanceRepository().Release(ctx, userID, roleID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild": guildID, "user": userID, "role": roleID,
		}).Error("Failed to refund reserved invite")
		return
	}
	if ok {
		uow.EventBus().Publish(events.BalanceChangeEvent{
			GuildID:      guildID,
			UserID:       userID,
			RoleID:       roleID,
			ChangeAmount: 1,
			Reason:       reason,
		})
	}

	if err := uow.Commit(); err != nil {
		log.WithError(err).Error("Failed to commit refund")
	}
}

// DeleteInviteByIndex revokes the caller's n-th invite and refunds the
// charge. The remote revoke happens first; a Discord-side 404 means someone
// beat us to it and only the local cleanup remains.
func (s *inviteService) DeleteInviteByIndex(ctx context.Context, guildID, userID int64, index int) (*DeleteInviteResult, error) {
	code, err := s.codeAtIndex(ctx, guildID, userID, index)
	if err != nil {
		return nil, err
	}

	alreadyGone := false
	if err := s.gateway.DeleteInvite(ctx, code); err != nil {
		if err != ErrInviteGone {
			return nil, &RemoteError{Op: "delete_invite", Err: err}
		}
		alreadyGone = true
	}

	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	record, err := uow.InviteRecordRepository().DeleteByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to delete invite record: %w", err)
	}
	if record == nil {
		// A reconciliation path consumed the record between listing and now
		return nil, ErrInviteNotFound
	}

	refunded, err := refundOwner(ctx, uow, guildID, record.UserID)
	if err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.InviteDeletedEvent{
		GuildID:  guildID,
		UserID:   record.UserID,
		Code:     code,
		Refunded: refunded,
		Reason:   "manual",
	})

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invite deletion: %w", err)
	}

	s.invites.Remove(guildID, code)

	return &DeleteInviteResult{
		Record:      record,
		Refunded:    refunded,
		AlreadyGone: alreadyGone,
	}, nil
}

func (s *inviteService) codeAtIndex(ctx context.Context, guildID, userID int64, index int) (string, error) {
	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	records, err := uow.InviteRecordRepository().GetByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to list invites: %w", err)
	}
	if index < 1 || index > len(records) {
		return "", ErrInviteNotFound
	}

	code := records[index-1].Code
	if err := uow.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return code, nil
}

// refundOwner gives one invite back to the record owner's lowest finite
// balance row. Owners holding an unlimited row get nothing back; there is
// nothing to restore.
func refundOwner(ctx context.Context, uow UnitOfWork, guildID, ownerID int64) (bool, error) {
	balances, err := uow.BalanceRepository().GetByUser(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to load owner balances: %w", err)
	}
	if hasUnlimited(balances) {
		return false, nil
	}

	row := lowestFiniteRow(balances)
	if row == nil {
		return false, nil
	}

	ok, err := uow.BalanceRepository().Release(ctx, ownerID, row.RoleID)
	if err != nil {
		return false, fmt.Errorf("failed to refund owner: %w", err)
	}
	if ok {
		uow.EventBus().Publish(events.BalanceChangeEvent{
			GuildID:      guildID,
			UserID:       ownerID,
			RoleID:       row.RoleID,
			OldRemaining: row.Remaining.Remaining(),
			NewRemaining: row.Remaining.Remaining() + 1,
			ChangeAmount: 1,
			Reason:       "refund",
		})
	}
	return ok, nil
}

// ListUserInvites reports a user's balances and live invite links. Orphaned
// records are swept first so the listing never shows dead links.
func (s *inviteService) ListUserInvites(ctx context.Context, guildID, userID int64, roleIDs []int64, adminRoleID int64) (*UserInviteStatus, error) {
	if _, err := s.reconciler.SweepOrphans(ctx, guildID); err != nil {
		log.WithError(err).WithField("guild", guildID).Warn("Orphan sweep before listing failed")
	}

	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	isAdmin := adminRoleID != 0
	balances, err := ensureInitialized(ctx, uow, userID, roleIDs, isAdmin, adminRoleID)
	if err != nil {
		return nil, err
	}

	status, err := buildStatus(ctx, uow, userID, balances)
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return status, nil
}

// CheckUserInvites is the admin view of another user's standing. Unlike the
// self view it never seeds: a target who was never initialized shows up
// empty instead of acquiring rows as a side effect of being looked at.
func (s *inviteService) CheckUserInvites(ctx context.Context, guildID, targetID int64, targetIsAdmin bool) (*UserInviteStatus, error) {
	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	balances, err := uow.BalanceRepository().GetByUser(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}

	status, err := buildStatus(ctx, uow, targetID, balances)
	if err != nil {
		return nil, err
	}
	if targetIsAdmin {
		status.HasUnlimited = true
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return status, nil
}

func buildStatus(ctx context.Context, uow UnitOfWork, userID int64, balances []*models.UserBalance) (*UserInviteStatus, error) {
	status := &UserInviteStatus{
		HasUnlimited:   hasUnlimited(balances),
		TotalRemaining: finiteTotal(balances),
	}

	for _, b := range balances {
		line := BalanceLine{RoleID: b.RoleID, Remaining: b.Remaining}
		quota, err := uow.RoleQuotaRepository().GetByRole(ctx, b.RoleID)
		if err != nil {
			return nil, fmt.Errorf("failed to load quota for role %d: %w", b.RoleID, err)
		}
		if quota != nil {
			line.RoleName = quota.Name
		}
		status.Balances = append(status.Balances, line)
	}

	records, err := uow.InviteRecordRepository().GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invite records: %w", err)
	}
	status.ActiveInvites = records

	return status, nil
}
