package service

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/cache"
	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	log "github.com/sirupsen/logrus"
)

type adminService struct {
	uowFactory UnitOfWorkFactory
	gateway    InviteGateway
	invites    *cache.InviteCache
}

// NewAdminService creates a new admin service
func NewAdminService(uowFactory UnitOfWorkFactory, gateway InviteGateway, invites *cache.InviteCache) AdminService {
	return &adminService{
		uowFactory: uowFactory,
		gateway:    gateway,
		invites:    invites,
	}
}

// AddInvites grants invites to the target's lowest finite balance row, the
// same row mints drain first. Targets holding an unlimited row are left
// untouched.
func (s *adminService) AddInvites(ctx context.Context, guildID, targetID, amount int64) (*AdjustResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	balances, err := uow.BalanceRepository().GetByUser(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target balances: %w", err)
	}
	if hasUnlimited(balances) {
		return &AdjustResult{Unlimited: true}, uow.Commit()
	}

	row := lowestFiniteRow(balances)
	if row == nil {
		return nil, ErrNoInviteRole
	}

	updated, err := uow.BalanceRepository().Add(ctx, targetID, row.RoleID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to add invites: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("balance row vanished during adjustment")
	}

	uow.EventBus().Publish(events.BalanceChangeEvent{
		GuildID:      guildID,
		UserID:       targetID,
		RoleID:       row.RoleID,
		OldRemaining: row.Remaining.Remaining(),
		NewRemaining: updated.Remaining.Remaining(),
		ChangeAmount: amount,
		Reason:       "admin_add",
	})

	newTotal := finiteTotal(balances) + amount
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &AdjustResult{NewTotal: newTotal}, nil
}

// RemoveInvites takes invites away from the target, refusing to overdraw
// any single row. Targets with no rows yet are seeded first so the removal
// applies against their role allowance rather than silently no-opping.
func (s *adminService) RemoveInvites(ctx context.Context, guildID, targetID, amount int64, targetRoleIDs []int64) (*AdjustResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	balances, err := ensureInitialized(ctx, uow, targetID, targetRoleIDs, false, 0)
	if err != nil {
		return nil, err
	}
	if hasUnlimited(balances) {
		return &AdjustResult{Unlimited: true}, uow.Commit()
	}

	// Take from the fullest row; small allowances survive longest
	var row *models.UserBalance
	for _, b := range balances {
		if b.Remaining.IsUnlimited() {
			continue
		}
		if row == nil || b.Remaining.Remaining() > row.Remaining.Remaining() {
			row = b
		}
	}
	if row == nil {
		return nil, ErrNoInviteRole
	}

	ok, err := uow.BalanceRepository().RemoveIfEnough(ctx, targetID, row.RoleID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to remove invites: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}

	uow.EventBus().Publish(events.BalanceChangeEvent{
		GuildID:      guildID,
		UserID:       targetID,
		RoleID:       row.RoleID,
		OldRemaining: row.Remaining.Remaining(),
		NewRemaining: row.Remaining.Remaining() - amount,
		ChangeAmount: -amount,
		Reason:       "admin_remove",
	})

	newTotal := finiteTotal(balances) - amount
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &AdjustResult{NewTotal: newTotal}, nil
}

// SetRoleQuota configures (or reconfigures) a role's invite allowance.
// Existing balance rows keep their counts; the quota only governs future
// seeding.
func (s *adminService) SetRoleQuota(ctx context.Context, guildID, roleID int64, name string, max models.Balance) error {
	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	quota := &models.RoleQuota{
		RoleID: roleID,
		Name:   name,
		Max:    max,
	}
	if err := uow.RoleQuotaRepository().Upsert(ctx, quota); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit quota: %w", err)
	}

	log.WithFields(log.Fields{
		"guild": guildID,
		"role":  roleID,
		"max":   max.String(),
	}).Info("Configured role quota")
	return nil
}

// UnsetRoleQuota removes a role's quota without touching balances already
// seeded from it. Returns whether the quota existed and the quotas left.
func (s *adminService) UnsetRoleQuota(ctx context.Context, guildID, roleID int64) (bool, []*models.RoleQuota, error) {
	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	existed, err := uow.RoleQuotaRepository().Delete(ctx, roleID)
	if err != nil {
		return false, nil, err
	}

	remaining, err := uow.RoleQuotaRepository().GetAll(ctx)
	if err != nil {
		return false, nil, err
	}

	if err := uow.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit: %w", err)
	}
	return existed, remaining, nil
}

// ResetGuild revokes every live bot invite and wipes the guild's data. The
// remote revokes run first so the wipe never leaves working links that no
// record explains.
func (s *adminService) ResetGuild(ctx context.Context, guildID, byUserID int64) (*ResetResult, error) {
	live, err := s.gateway.GuildInvites(ctx, guildID)
	if err != nil {
		return nil, &RemoteError{Op: "fetch_invites", Err: err}
	}

	revoked := 0
	botUser := s.invites.BotUser()
	for _, inv := range live {
		if inv.InviterID != botUser {
			continue
		}
		if err := s.gateway.DeleteInvite(ctx, inv.Code); err != nil && err != ErrInviteGone {
			return nil, &RemoteError{Op: "delete_invite", Err: err}
		}
		revoked++
	}

	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	var logsChannelID int64
	if config, err := uow.GuildConfigRepository().Get(ctx); err != nil {
		return nil, err
	} else if config != nil {
		logsChannelID = config.LogsChannelID
	}

	if err := uow.JoinAttributionRepository().DeleteAll(ctx); err != nil {
		return nil, err
	}
	if err := uow.InviteRecordRepository().DeleteAll(ctx); err != nil {
		return nil, err
	}
	if err := uow.BalanceRepository().DeleteAll(ctx); err != nil {
		return nil, err
	}
	if err := uow.RoleQuotaRepository().DeleteAll(ctx); err != nil {
		return nil, err
	}
	if err := uow.GuildConfigRepository().Delete(ctx); err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.GuildResetEvent{
		GuildID:        guildID,
		ResetByUserID:  byUserID,
		InvitesRevoked: revoked,
		LogsChannelID:  logsChannelID,
	})

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reset: %w", err)
	}

	s.invites.Forget(guildID)

	log.WithFields(log.Fields{
		"guild":   guildID,
		"by":      byUserID,
		"revoked": revoked,
	}).Warn("Guild data reset")

	return &ResetResult{
		InvitesRevoked: revoked,
		LogsChannelID:  logsChannelID,
	}, nil
}
