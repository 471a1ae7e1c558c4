package service

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/models"
)

// The resolver answers one question for the mint path: may this user create
// an invite right now, and which balance row pays for it. It also owns lazy
// seeding, so a user's ledger rows spring into existence the first time the
// answer matters rather than on every role change.

// ensureInitialized makes sure the user has balance rows matching their
// current standing. Admins get a single unlimited row keyed to their admin
// role, superseding any finite rows. Regular users with no rows yet are
// seeded from the most generous quota among their roles; users who already
// hold finite rows still have their current roles' quotas consulted, so a
// role bumped to unlimited wins over rows seeded when it was finite. Users
// whose roles grant nothing get ErrNoInviteRole.
func ensureInitialized(ctx context.Context, uow UnitOfWork, userID int64, roleIDs []int64, isAdmin bool, adminRoleID int64) ([]*models.UserBalance, error) {
	balanceRepo := uow.BalanceRepository()

	balances, err := balanceRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if hasUnlimited(balances) {
		return balances, nil
	}

	if isAdmin {
		unlimited, err := supersedeWithUnlimited(ctx, uow, userID, adminRoleID)
		if err != nil {
			return nil, err
		}
		return []*models.UserBalance{unlimited}, nil
	}

	if len(balances) > 0 {
		if len(roleIDs) == 0 {
			return balances, nil
		}
		quotas, err := uow.RoleQuotaRepository().GetByRoles(ctx, roleIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve quotas: %w", err)
		}
		for _, q := range quotas {
			if q.Max.IsUnlimited() {
				unlimited, err := supersedeWithUnlimited(ctx, uow, userID, q.RoleID)
				if err != nil {
					return nil, err
				}
				return []*models.UserBalance{unlimited}, nil
			}
		}
		return balances, nil
	}

	quota, err := bestQuota(ctx, uow, roleIDs)
	if err != nil {
		return nil, err
	}
	if quota == nil {
		return nil, ErrNoInviteRole
	}

	seeded := &models.UserBalance{
		UserID:    userID,
		RoleID:    quota.RoleID,
		Remaining: quota.Max,
	}
	if err := balanceRepo.Create(ctx, seeded); err != nil {
		return nil, err
	}
	uow.EventBus().Publish(events.BalanceChangeEvent{
		GuildID:      seeded.GuildID,
		UserID:       userID,
		RoleID:       quota.RoleID,
		NewRemaining: quota.Max.Stored(),
		ChangeAmount: quota.Max.Stored(),
		Reason:       "seed",
	})

	return []*models.UserBalance{seeded}, nil
}

// supersedeWithUnlimited replaces every row the user holds with a single
// unlimited one keyed to roleID.
func supersedeWithUnlimited(ctx context.Context, uow UnitOfWork, userID, roleID int64) (*models.UserBalance, error) {
	if err := uow.BalanceRepository().DeleteByUser(ctx, userID); err != nil {
		return nil, err
	}
	unlimited := &models.UserBalance{
		UserID:    userID,
		RoleID:    roleID,
		Remaining: models.Unlimited(),
	}
	if err := uow.BalanceRepository().Create(ctx, unlimited); err != nil {
		return nil, err
	}
	uow.EventBus().Publish(events.BalanceChangeEvent{
		GuildID:      unlimited.GuildID,
		UserID:       userID,
		RoleID:       roleID,
		NewRemaining: models.UnlimitedSentinel,
		Reason:       "seed",
	})
	return unlimited, nil
}

// bestQuota picks the most generous quota among the given roles: unlimited
// beats everything, otherwise the highest finite allowance wins.
func bestQuota(ctx context.Context, uow UnitOfWork, roleIDs []int64) (*models.RoleQuota, error) {
	quotas, err := uow.RoleQuotaRepository().GetByRoles(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve quotas: %w", err)
	}
	if len(quotas) == 0 {
		return nil, nil
	}

	best := quotas[0]
	for _, q := range quotas[1:] {
		if q.Max.IsUnlimited() {
			return q, nil
		}
		if !best.Max.IsUnlimited() && q.Max.Remaining() > best.Max.Remaining() {
			best = q
		}
	}
	return best, nil
}

// eligibility is the resolver's verdict for one mint attempt.
type eligibility struct {
	unlimited  bool
	total      int64               // sum of finite remaining across rows
	chargeable *models.UserBalance // the row to charge; nil when unlimited
}

// resolveEligibility inspects the user's rows. Any unlimited row
// short-circuits: no charge at all. Otherwise the charge lands on the
// non-empty row with the fewest invites left, draining small allowances
// before large ones. A zero total means the user is exhausted.
func resolveEligibility(balances []*models.UserBalance) (*eligibility, error) {
	var e eligibility
	for _, b := range balances {
		if b.Remaining.IsUnlimited() {
			e.unlimited = true
			return &e, nil
		}
		remaining := b.Remaining.Remaining()
		e.total += remaining
		if remaining > 0 && (e.chargeable == nil || remaining < e.chargeable.Remaining.Remaining()) {
			e.chargeable = b
		}
	}

	if e.chargeable == nil {
		if len(balances) == 0 {
			return nil, ErrNoInviteRole
		}
		return nil, ErrQuotaExceeded
	}
	return &e, nil
}

// lowestFiniteRow picks the finite row with the fewest invites remaining,
// the same row a charge would have come from. Refunds and admin grants land
// there. Nil when the user only holds unlimited rows or none at all.
func lowestFiniteRow(balances []*models.UserBalance) *models.UserBalance {
	var lowest *models.UserBalance
	for _, b := range balances {
		if b.Remaining.IsUnlimited() {
			continue
		}
		if lowest == nil || b.Remaining.Remaining() < lowest.Remaining.Remaining() {
			lowest = b
		}
	}
	return lowest
}

// hasUnlimited reports whether any row is inexhaustible.
func hasUnlimited(balances []*models.UserBalance) bool {
	for _, b := range balances {
		if b.Remaining.IsUnlimited() {
			return true
		}
	}
	return false
}

// finiteTotal sums finite remaining invites across rows.
func finiteTotal(balances []*models.UserBalance) int64 {
	var total int64
	for _, b := range balances {
		if !b.Remaining.IsUnlimited() {
			total += b.Remaining.Remaining()
		}
	}
	return total
}
