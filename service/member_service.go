package service

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	log "github.com/sirupsen/logrus"
)

type memberService struct {
	uowFactory UnitOfWorkFactory
}

// NewMemberService creates a new member service
func NewMemberService(uowFactory UnitOfWorkFactory) MemberService {
	return &memberService{uowFactory: uowFactory}
}

// SyncRoles reconciles a member's balance rows after their role set changed.
// Gaining a role with an unlimited quota supersedes everything else the
// member holds. Gaining a finite-quota role seeds a fresh row for it without
// touching existing rows, so spent balances are not replenished by role
// churn. Losing a role drops only that role's row.
func (s *memberService) SyncRoles(ctx context.Context, guildID, userID int64, oldRoleIDs, newRoleIDs []int64) error {
	added, removed := diffRoleSets(oldRoleIDs, newRoleIDs)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if len(added) > 0 {
		quotas, err := uow.RoleQuotaRepository().GetByRoles(ctx, added)
		if err != nil {
			return fmt.Errorf("failed to load quotas for added roles: %w", err)
		}

		for _, quota := range quotas {
			if quota.Max.IsUnlimited() {
				if err := s.grantUnlimited(ctx, uow, guildID, userID, quota.RoleID); err != nil {
					return err
				}
				return uow.Commit()
			}
		}

		for _, quota := range quotas {
			existing, err := uow.BalanceRepository().GetByUserRole(ctx, userID, quota.RoleID)
			if err != nil {
				return fmt.Errorf("failed to check balance for role %d: %w", quota.RoleID, err)
			}
			if existing != nil {
				continue
			}
			seeded := &models.UserBalance{
				UserID:    userID,
				RoleID:    quota.RoleID,
				Remaining: quota.Max,
			}
			if err := uow.BalanceRepository().Create(ctx, seeded); err != nil {
				return fmt.Errorf("failed to seed balance for role %d: %w", quota.RoleID, err)
			}
			uow.EventBus().Publish(events.BalanceChangeEvent{
				GuildID:      guildID,
				UserID:       userID,
				RoleID:       quota.RoleID,
				NewRemaining: quota.Max.Stored(),
				ChangeAmount: quota.Max.Stored(),
				Reason:       "seed",
			})
		}
	}

	for _, roleID := range removed {
		dropped, err := uow.BalanceRepository().DeleteByUserRole(ctx, userID, roleID)
		if err != nil {
			return fmt.Errorf("failed to drop balance for role %d: %w", roleID, err)
		}
		if dropped {
			log.WithFields(log.Fields{
				"guild": guildID,
				"user":  userID,
				"role":  roleID,
			}).Debug("Dropped balance row for removed role")
		}
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit role sync: %w", err)
	}
	return nil
}

func (s *memberService) grantUnlimited(ctx context.Context, uow UnitOfWork, guildID, userID, roleID int64) error {
	if err := uow.BalanceRepository().DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear finite balances: %w", err)
	}
	unlimited := &models.UserBalance{
		UserID:    userID,
		RoleID:    roleID,
		Remaining: models.Unlimited(),
	}
	if err := uow.BalanceRepository().Create(ctx, unlimited); err != nil {
		return fmt.Errorf("failed to grant unlimited balance: %w", err)
	}
	uow.EventBus().Publish(events.BalanceChangeEvent{
		GuildID:      guildID,
		UserID:       userID,
		RoleID:       roleID,
		NewRemaining: models.UnlimitedSentinel,
		Reason:       "seed",
	})
	return nil
}

// diffRoleSets compares two role sets by membership, not size, so a
// simultaneous add and remove is seen as both.
func diffRoleSets(oldRoleIDs, newRoleIDs []int64) (added, removed []int64) {
	oldSet := make(map[int64]struct{}, len(oldRoleIDs))
	for _, id := range oldRoleIDs {
		oldSet[id] = struct{}{}
	}
	newSet := make(map[int64]struct{}, len(newRoleIDs))
	for _, id := range newRoleIDs {
		newSet[id] = struct{}{}
	}

	for id := range newSet {
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range oldSet {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
