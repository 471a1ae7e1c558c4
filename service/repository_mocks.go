package service

import (
	"context"

	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/models"

	"github.com/stretchr/testify/mock"
)

// MockRoleQuotaRepository is a mock implementation of RoleQuotaRepository
type MockRoleQuotaRepository struct {
	mock.Mock
}

func (m *MockRoleQuotaRepository) Upsert(ctx context.Context, quota *models.RoleQuota) error {
	args := m.Called(ctx, quota)
	return args.Error(0)
}

func (m *MockRoleQuotaRepository) GetByRole(ctx context.Context, roleID int64) (*models.RoleQuota, error) {
	args := m.Called(ctx, roleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RoleQuota), args.Error(1)
}

func (m *MockRoleQuotaRepository) GetByRoles(ctx context.Context, roleIDs []int64) ([]*models.RoleQuota, error) {
	args := m.Called(ctx, roleIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RoleQuota), args.Error(1)
}

func (m *MockRoleQuotaRepository) GetAll(ctx context.Context) ([]*models.RoleQuota, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RoleQuota), args.Error(1)
}

func (m *MockRoleQuotaRepository) Delete(ctx context.Context, roleID int64) (bool, error) {
	args := m.Called(ctx, roleID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRoleQuotaRepository) DeleteAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockBalanceRepository is a mock implementation of BalanceRepository
type MockBalanceRepository struct {
	mock.Mock
}

func (m *MockBalanceRepository) GetByUserRole(ctx context.Context, userID, roleID int64) (*models.UserBalance, error) {
	args := m.Called(ctx, userID, roleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserBalance), args.Error(1)
}

func (m *MockBalanceRepository) GetByUser(ctx context.Context, userID int64) ([]*models.UserBalance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.UserBalance), args.Error(1)
}

func (m *MockBalanceRepository) Create(ctx context.Context, balance *models.UserBalance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}

func (m *MockBalanceRepository) Reserve(ctx context.Context, userID, roleID int64) (bool, error) {
	args := m.Called(ctx, userID, roleID)
	return args.Bool(0), args.Error(1)
}

func (m *MockBalanceRepository) Release(ctx context.Context, userID, roleID int64) (bool, error) {
	args := m.Called(ctx, userID, roleID)
	return args.Bool(0), args.Error(1)
}

func (m *MockBalanceRepository) Add(ctx context.Context, userID, roleID, amount int64) (*models.UserBalance, error) {
	args := m.Called(ctx, userID, roleID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserBalance), args.Error(1)
}

func (m *MockBalanceRepository) RemoveIfEnough(ctx context.Context, userID, roleID, amount int64) (bool, error) {
	args := m.Called(ctx, userID, roleID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *MockBalanceRepository) SetUnlimited(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockBalanceRepository) DeleteByUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	args := m.Called(ctx, userID, roleID)
	return args.Bool(0), args.Error(1)
}

func (m *MockBalanceRepository) DeleteByUser(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockBalanceRepository) DeleteAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockInviteRecordRepository is a mock implementation of InviteRecordRepository
type MockInviteRecordRepository struct {
	mock.Mock
}

func (m *MockInviteRecordRepository) Create(ctx context.Context, record *models.InviteRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockInviteRecordRepository) GetByCode(ctx context.Context, code string) (*models.InviteRecord, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InviteRecord), args.Error(1)
}

func (m *MockInviteRecordRepository) GetByUser(ctx context.Context, userID int64) ([]*models.InviteRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.InviteRecord), args.Error(1)
}

func (m *MockInviteRecordRepository) GetAll(ctx context.Context) ([]*models.InviteRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.InviteRecord), args.Error(1)
}

func (m *MockInviteRecordRepository) DeleteByCode(ctx context.Context, code string) (*models.InviteRecord, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InviteRecord), args.Error(1)
}

func (m *MockInviteRecordRepository) DeleteAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockJoinAttributionRepository is a mock implementation of JoinAttributionRepository
type MockJoinAttributionRepository struct {
	mock.Mock
}

func (m *MockJoinAttributionRepository) Create(ctx context.Context, attribution *models.JoinAttribution) error {
	args := m.Called(ctx, attribution)
	return args.Error(0)
}

func (m *MockJoinAttributionRepository) CountByInvite(ctx context.Context, inviteID int64) (int64, error) {
	args := m.Called(ctx, inviteID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockJoinAttributionRepository) CountByInviter(ctx context.Context, inviterUserID int64) (int64, error) {
	args := m.Called(ctx, inviterUserID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockJoinAttributionRepository) DeleteAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockGuildConfigRepository is a mock implementation of GuildConfigRepository
type MockGuildConfigRepository struct {
	mock.Mock
}

func (m *MockGuildConfigRepository) Get(ctx context.Context) (*models.GuildConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GuildConfig), args.Error(1)
}

func (m *MockGuildConfigRepository) Upsert(ctx context.Context, config *models.GuildConfig) error {
	args := m.Called(ctx, config)
	return args.Error(0)
}

func (m *MockGuildConfigRepository) Delete(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// recordingPublisher collects events published during a unit of work so
// tests can assert on them without wiring a real bus.
type recordingPublisher struct {
	published []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.published = append(p.published, e)
}

// MockUnitOfWork is a mock implementation of UnitOfWork. Repository getters
// return the repositories set via SetRepositories; Begin/Commit/Rollback are
// regular testify expectations.
type MockUnitOfWork struct {
	mock.Mock
	roleQuotaRepo    RoleQuotaRepository
	balanceRepo      BalanceRepository
	inviteRecordRepo InviteRecordRepository
	attributionRepo  JoinAttributionRepository
	guildConfigRepo  GuildConfigRepository
	publisher        *recordingPublisher
}

// SetRepositories wires the mocked repositories into the unit of work
func (m *MockUnitOfWork) SetRepositories(
	roleQuotaRepo RoleQuotaRepository,
	balanceRepo BalanceRepository,
	inviteRecordRepo InviteRecordRepository,
	attributionRepo JoinAttributionRepository,
	guildConfigRepo GuildConfigRepository,
) {
	m.roleQuotaRepo = roleQuotaRepo
	m.balanceRepo = balanceRepo
	m.inviteRecordRepo = inviteRecordRepo
	m.attributionRepo = attributionRepo
	m.guildConfigRepo = guildConfigRepo
	m.publisher = &recordingPublisher{}
}

// PublishedEvents returns everything published through this unit of work
func (m *MockUnitOfWork) PublishedEvents() []events.Event {
	if m.publisher == nil {
		return nil
	}
	return m.publisher.published
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) RoleQuotaRepository() RoleQuotaRepository {
	return m.roleQuotaRepo
}

func (m *MockUnitOfWork) BalanceRepository() BalanceRepository {
	return m.balanceRepo
}

func (m *MockUnitOfWork) InviteRecordRepository() InviteRecordRepository {
	return m.inviteRecordRepo
}

func (m *MockUnitOfWork) JoinAttributionRepository() JoinAttributionRepository {
	return m.attributionRepo
}

func (m *MockUnitOfWork) GuildConfigRepository() GuildConfigRepository {
	return m.guildConfigRepo
}

func (m *MockUnitOfWork) EventBus() EventPublisher {
	if m.publisher == nil {
		m.publisher = &recordingPublisher{}
	}
	return m.publisher
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) CreateForGuild(guildID int64) UnitOfWork {
	args := m.Called(guildID)
	return args.Get(0).(UnitOfWork)
}

// MockInviteGateway is a mock implementation of InviteGateway
type MockInviteGateway struct {
	mock.Mock
}

func (m *MockInviteGateway) CreateInvite(ctx context.Context, channelID int64, maxUses, maxAgeSeconds int) (*LiveInvite, error) {
	args := m.Called(ctx, channelID, maxUses, maxAgeSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LiveInvite), args.Error(1)
}

func (m *MockInviteGateway) DeleteInvite(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockInviteGateway) GuildInvites(ctx context.Context, guildID int64) ([]*LiveInvite, error) {
	args := m.Called(ctx, guildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*LiveInvite), args.Error(1)
}

// MockReconciler is a mock implementation of Reconciler
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) SeedGuild(ctx context.Context, guildID int64) error {
	args := m.Called(ctx, guildID)
	return args.Error(0)
}

func (m *MockReconciler) HandleInviteCreate(guildID int64, invite *LiveInvite) {
	m.Called(guildID, invite)
}

func (m *MockReconciler) HandleInviteDelete(ctx context.Context, guildID int64, code string) {
	m.Called(ctx, guildID, code)
}

func (m *MockReconciler) HandleMemberJoin(ctx context.Context, guildID, joinedUserID int64) (*models.JoinAttribution, error) {
	args := m.Called(ctx, guildID, joinedUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JoinAttribution), args.Error(1)
}

func (m *MockReconciler) SweepOrphans(ctx context.Context, guildID int64) (int, error) {
	args := m.Called(ctx, guildID)
	return args.Int(0), args.Error(1)
}
