package service

import (
	"context"
	"testing"

	"github.com/ZubyWasTaken/refer-a-friend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupMemberService(t *testing.T) (MemberService, *MockUnitOfWork, *MockRoleQuotaRepository, *MockBalanceRepository) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockQuotaRepo := new(MockRoleQuotaRepository)
	mockBalanceRepo := new(MockBalanceRepository)

	mockUoW.SetRepositories(mockQuotaRepo, mockBalanceRepo, new(MockInviteRecordRepository), new(MockJoinAttributionRepository), new(MockGuildConfigRepository))
	mockFactory.On("CreateForGuild", testGuild).Return(mockUoW)

	return NewMemberService(mockFactory), mockUoW, mockQuotaRepo, mockBalanceRepo
}

func TestMemberService_SyncRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("no change is a no-op", func(t *testing.T) {
		svc, mockUoW, _, _ := setupMemberService(t)

		err := svc.SyncRoles(ctx, testGuild, testUser, []int64{1, 2}, []int64{2, 1})
		require.NoError(t, err)
		mockUoW.AssertNotCalled(t, "Begin", mock.Anything)
	})

	t.Run("added finite role seeds a fresh row", func(t *testing.T) {
		svc, mockUoW, mockQuotaRepo, mockBalanceRepo := setupMemberService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockQuotaRepo.On("GetByRoles", ctx, []int64{20}).Return([]*models.RoleQuota{
			{RoleID: 20, Name: "booster", Max: models.Finite(5)},
		}, nil)
		mockBalanceRepo.On("GetByUserRole", ctx, testUser, int64(20)).Return(nil, nil)
		mockBalanceRepo.On("Create", ctx, mock.MatchedBy(func(b *models.UserBalance) bool {
			return b.RoleID == 20 && b.Remaining.Remaining() == 5
		})).Return(nil)

		err := svc.SyncRoles(ctx, testGuild, testUser, []int64{10}, []int64{10, 20})
		require.NoError(t, err)
		mockBalanceRepo.AssertExpectations(t)
	})

	t.Run("existing row is not replenished by role churn", func(t *testing.T) {
		svc, mockUoW, mockQuotaRepo, mockBalanceRepo := setupMemberService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockQuotaRepo.On("GetByRoles", ctx, []int64{20}).Return([]*models.RoleQuota{
			{RoleID: 20, Name: "booster", Max: models.Finite(5)},
		}, nil)
		// Spent down to 1 before losing and regaining the role
		mockBalanceRepo.On("GetByUserRole", ctx, testUser, int64(20)).
			Return(balanceRow(20, 1), nil)

		err := svc.SyncRoles(ctx, testGuild, testUser, []int64{10}, []int64{10, 20})
		require.NoError(t, err)
		mockBalanceRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unlimited role supersedes finite rows", func(t *testing.T) {
		svc, mockUoW, mockQuotaRepo, mockBalanceRepo := setupMemberService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockQuotaRepo.On("GetByRoles", ctx, []int64{30}).Return([]*models.RoleQuota{
			{RoleID: 30, Name: "staff", Max: models.Unlimited()},
		}, nil)
		mockBalanceRepo.On("DeleteByUser", ctx, testUser).Return(nil)
		mockBalanceRepo.On("Create", ctx, mock.MatchedBy(func(b *models.UserBalance) bool {
			return b.RoleID == 30 && b.Remaining.IsUnlimited()
		})).Return(nil)

		err := svc.SyncRoles(ctx, testGuild, testUser, []int64{10}, []int64{10, 30})
		require.NoError(t, err)
		mockBalanceRepo.AssertExpectations(t)
	})

	t.Run("removed role drops only its row", func(t *testing.T) {
		svc, mockUoW, _, mockBalanceRepo := setupMemberService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockBalanceRepo.On("DeleteByUserRole", ctx, testUser, int64(20)).Return(true, nil)

		err := svc.SyncRoles(ctx, testGuild, testUser, []int64{10, 20}, []int64{10})
		require.NoError(t, err)
		mockBalanceRepo.AssertNotCalled(t, "DeleteByUser", mock.Anything, mock.Anything)
		mockBalanceRepo.AssertExpectations(t)
	})

	t.Run("added role without a quota seeds nothing", func(t *testing.T) {
		svc, mockUoW, mockQuotaRepo, mockBalanceRepo := setupMemberService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockQuotaRepo.On("GetByRoles", ctx, []int64{40}).Return([]*models.RoleQuota{}, nil)

		err := svc.SyncRoles(ctx, testGuild, testUser, []int64{10}, []int64{10, 40})
		require.NoError(t, err)
		mockBalanceRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestMemberService_SyncRoles_SwapIsBothChanges(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockQuotaRepo, mockBalanceRepo := setupMemberService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockQuotaRepo.On("GetByRoles", ctx, []int64{20}).Return([]*models.RoleQuota{
		{RoleID: 20, Name: "booster", Max: models.Finite(5)},
	}, nil)
	mockBalanceRepo.On("GetByUserRole", ctx, testUser, int64(20)).Return(nil, nil)
	mockBalanceRepo.On("Create", ctx, mock.Anything).Return(nil)
	mockBalanceRepo.On("DeleteByUserRole", ctx, testUser, int64(10)).Return(true, nil)

	err := svc.SyncRoles(ctx, testGuild, testUser, []int64{10}, []int64{20})
	require.NoError(t, err)
	assert.True(t, mockBalanceRepo.AssertExpectations(t))
}
