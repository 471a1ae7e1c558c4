package repository

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/database"
	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/service"
	"github.com/jackc/pgx/v5"
)

// unitOfWork implements the UnitOfWork interface, scoped to one guild
type unitOfWork struct {
	db               *database.DB
	guildID          int64
	tx               pgx.Tx
	ctx              context.Context
	transactionalBus *events.TransactionalBus
	roleQuotaRepo    service.RoleQuotaRepository
	balanceRepo      service.BalanceRepository
	inviteRecordRepo service.InviteRecordRepository
	attributionRepo  service.JoinAttributionRepository
	guildConfigRepo  service.GuildConfigRepository
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory
func NewUnitOfWorkFactory(db *database.DB, eventBus *events.Bus) service.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:       db,
		eventBus: eventBus,
	}
}

type unitOfWorkFactory struct {
	db       *database.DB
	eventBus *events.Bus
}

func (f *unitOfWorkFactory) CreateForGuild(guildID int64) service.UnitOfWork {
	return &unitOfWork{
		db:               f.db,
		guildID:          guildID,
		transactionalBus: events.NewTransactionalBus(f.eventBus),
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.ctx = ctx

	// Create repositories with the transaction
	u.roleQuotaRepo = newRoleQuotaRepositoryWithTx(tx, u.guildID)
	u.balanceRepo = newBalanceRepositoryWithTx(tx, u.guildID)
	u.inviteRecordRepo = newInviteRecordRepositoryWithTx(tx, u.guildID)
	u.attributionRepo = newJoinAttributionRepositoryWithTx(tx, u.guildID)
	u.guildConfigRepo = newGuildConfigRepositoryWithTx(tx, u.guildID)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.tx = nil

	// Flush pending events after successful commit
	if u.transactionalBus != nil {
		u.transactionalBus.Flush(u.ctx)
	}

	return nil
}

// Rollback rolls back the transaction
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	err := u.tx.Rollback(u.ctx)
	if err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	u.tx = nil

	// Discard pending events on rollback
	if u.transactionalBus != nil {
		u.transactionalBus.Discard()
	}

	return nil
}

// RoleQuotaRepository returns the role quota repository for this unit of work
func (u *unitOfWork) RoleQuotaRepository() service.RoleQuotaRepository {
	if u.roleQuotaRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.roleQuotaRepo
}

// BalanceRepository returns the balance repository for this unit of work
func (u *unitOfWork) BalanceRepository() service.BalanceRepository {
	if u.balanceRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.balanceRepo
}

// InviteRecordRepository returns the invite record repository for this unit of work
func (u *unitOfWork) InviteRecordRepository() service.InviteRecordRepository {
	if u.inviteRecordRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.inviteRecordRepo
}

// JoinAttributionRepository returns the join attribution repository for this unit of work
func (u *unitOfWork) JoinAttributionRepository() service.JoinAttributionRepository {
	if u.attributionRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.attributionRepo
}

// GuildConfigRepository returns the guild config repository for this unit of work
func (u *unitOfWork) GuildConfigRepository() service.GuildConfigRepository {
	if u.guildConfigRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.guildConfigRepo
}

// EventBus returns the transactional event bus for this unit of work
func (u *unitOfWork) EventBus() service.EventPublisher {
	if u.transactionalBus == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionalBus
}
