package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ZubyWasTaken/refer-a-friend/cache"
	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testGuild   int64 = 900100
	testUser    int64 = 900200
	testChannel int64 = 900300
)

func newTestCache(t *testing.T) *cache.InviteCache {
	t.Helper()
	c, err := cache.New(cache.Config{})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func setupInviteService(t *testing.T) (InviteService, *MockUnitOfWork, *MockBalanceRepository, *MockInviteRecordRepository, *MockRoleQuotaRepository, *MockInviteGateway, *MockReconciler) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockQuotaRepo := new(MockRoleQuotaRepository)
	mockBalanceRepo := new(MockBalanceRepository)
	mockRecordRepo := new(MockInviteRecordRepository)
	mockAttrRepo := new(MockJoinAttributionRepository)
	mockConfigRepo := new(MockGuildConfigRepository)
	mockGateway := new(MockInviteGateway)
	mockReconciler := new(MockReconciler)

	mockUoW.SetRepositories(mockQuotaRepo, mockBalanceRepo, mockRecordRepo, mockAttrRepo, mockConfigRepo)
	mockFactory.On("CreateForGuild", testGuild).Return(mockUoW)

	svc := NewInviteService(mockFactory, mockGateway, newTestCache(t), mockReconciler)
	return svc, mockUoW, mockBalanceRepo, mockRecordRepo, mockQuotaRepo, mockGateway, mockReconciler
}

func TestInviteService_CreateInvite_ChargesAndMints(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, mockRecordRepo, mockQuotaRepo, mockGateway, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		balanceRow(10, 3),
	}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{10}).Return([]*models.RoleQuota{
		{RoleID: 10, Name: "member", Max: models.Finite(5)},
	}, nil)
	mockBalanceRepo.On("Reserve", ctx, testUser, int64(10)).Return(true, nil)

	mockGateway.On("CreateInvite", ctx, testChannel, 1, 0).Return(&LiveInvite{
		Code: "fresh1",
		Link: "https://discord.gg/fresh1",
	}, nil)

	mockRecordRepo.On("Create", ctx, mock.MatchedBy(func(r *models.InviteRecord) bool {
		return r.Code == "fresh1" && r.UserID == testUser && r.MaxUses == 1
	})).Return(nil)

	result, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{10},
	})

	require.NoError(t, err)
	assert.True(t, result.Charged)
	assert.Equal(t, int64(2), result.Remaining.Remaining())
	assert.Equal(t, "fresh1", result.Record.Code)

	mockBalanceRepo.AssertExpectations(t)
	mockRecordRepo.AssertExpectations(t)
	mockGateway.AssertExpectations(t)
}

func TestInviteService_CreateInvite_UnlimitedSkipsCharge(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, mockRecordRepo, _, mockGateway, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		unlimitedRow(10),
	}, nil)
	mockGateway.On("CreateInvite", ctx, testChannel, 1, 0).Return(&LiveInvite{Code: "admin1"}, nil)
	mockRecordRepo.On("Create", ctx, mock.Anything).Return(nil)

	result, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{10},
	})

	require.NoError(t, err)
	assert.False(t, result.Charged)
	assert.True(t, result.Remaining.IsUnlimited())
	mockBalanceRepo.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything)
}

func TestInviteService_CreateInvite_GuardRejectionIsQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, _, mockQuotaRepo, mockGateway, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)

	// The read said one invite left, but a concurrent mint got there first
	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		balanceRow(10, 1),
	}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{10}).Return([]*models.RoleQuota{
		{RoleID: 10, Name: "member", Max: models.Finite(5)},
	}, nil)
	mockBalanceRepo.On("Reserve", ctx, testUser, int64(10)).Return(false, nil)

	_, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{10},
	})

	assert.ErrorIs(t, err, ErrQuotaExceeded)
	mockGateway.AssertNotCalled(t, "CreateInvite", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInviteService_CreateInvite_ExhaustedBalance(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, _, mockQuotaRepo, _, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		balanceRow(10, 0),
	}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{10}).Return([]*models.RoleQuota{
		{RoleID: 10, Name: "member", Max: models.Finite(5)},
	}, nil)

	_, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{10},
	})

	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestInviteService_CreateInvite_UnlimitedQuotaSupersedesStaleRow(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, mockRecordRepo, mockQuotaRepo, mockGateway, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	// The row was seeded while role 10's quota was finite and is now spent.
	// The quota has since been raised to unlimited; the stale row must not
	// keep the user locked out.
	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		balanceRow(10, 0),
	}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{10}).Return([]*models.RoleQuota{
		{RoleID: 10, Name: "vip", Max: models.Unlimited()},
	}, nil)
	mockBalanceRepo.On("DeleteByUser", ctx, testUser).Return(nil)
	mockBalanceRepo.On("Create", ctx, mock.MatchedBy(func(b *models.UserBalance) bool {
		return b.RoleID == 10 && b.Remaining.IsUnlimited()
	})).Return(nil)

	mockGateway.On("CreateInvite", ctx, testChannel, 1, 0).Return(&LiveInvite{Code: "vip001"}, nil)
	mockRecordRepo.On("Create", ctx, mock.Anything).Return(nil)

	result, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{10},
	})

	require.NoError(t, err)
	assert.False(t, result.Charged)
	assert.True(t, result.Remaining.IsUnlimited())
	mockBalanceRepo.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything)
	mockBalanceRepo.AssertExpectations(t)
}

func TestInviteService_CreateInvite_RemoteFailureRefunds(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, _, mockQuotaRepo, mockGateway, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		balanceRow(10, 3),
	}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{10}).Return([]*models.RoleQuota{
		{RoleID: 10, Name: "member", Max: models.Finite(5)},
	}, nil)
	mockBalanceRepo.On("Reserve", ctx, testUser, int64(10)).Return(true, nil)
	mockGateway.On("CreateInvite", ctx, testChannel, 1, 0).Return(nil, errors.New("discord is down"))

	// The compensating refund for the reserved charge
	mockBalanceRepo.On("Release", ctx, testUser, int64(10)).Return(true, nil)

	_, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{10},
	})

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "create_invite", remoteErr.Op)
	mockBalanceRepo.AssertExpectations(t)
}

func TestInviteService_CreateInvite_SeedsFirstTimeUser(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, mockRecordRepo, mockQuotaRepo, mockGateway, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	// No rows yet: seeded from the most generous quota among the user's roles
	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{10, 20}).Return([]*models.RoleQuota{
		{RoleID: 10, Name: "member", Max: models.Finite(2)},
		{RoleID: 20, Name: "booster", Max: models.Finite(5)},
	}, nil)
	mockBalanceRepo.On("Create", ctx, mock.MatchedBy(func(b *models.UserBalance) bool {
		return b.RoleID == 20 && b.Remaining.Remaining() == 5
	})).Return(nil)
	mockBalanceRepo.On("Reserve", ctx, testUser, int64(20)).Return(true, nil)

	mockGateway.On("CreateInvite", ctx, testChannel, 1, 0).Return(&LiveInvite{Code: "seeded"}, nil)
	mockRecordRepo.On("Create", ctx, mock.Anything).Return(nil)

	result, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{10, 20},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Remaining.Remaining())
	mockBalanceRepo.AssertExpectations(t)
	mockQuotaRepo.AssertExpectations(t)
}

func TestInviteService_CreateInvite_NoQualifyingRole(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, _, mockQuotaRepo, _, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{99}).Return([]*models.RoleQuota{}, nil)

	_, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{99},
	})

	assert.ErrorIs(t, err, ErrNoInviteRole)
}

func TestInviteService_CreateInvite_AdminGetsUnlimitedRow(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, mockRecordRepo, _, mockGateway, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	// Admin with a leftover finite row: superseded by a single unlimited one
	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		balanceRow(10, 2),
	}, nil)
	mockBalanceRepo.On("DeleteByUser", ctx, testUser).Return(nil)
	mockBalanceRepo.On("Create", ctx, mock.MatchedBy(func(b *models.UserBalance) bool {
		return b.RoleID == 77 && b.Remaining.IsUnlimited()
	})).Return(nil)

	mockGateway.On("CreateInvite", ctx, testChannel, 1, 0).Return(&LiveInvite{Code: "adm"}, nil)
	mockRecordRepo.On("Create", ctx, mock.Anything).Return(nil)

	result, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:     testGuild,
		UserID:      testUser,
		ChannelID:   testChannel,
		RoleIDs:     []int64{10, 77},
		IsAdmin:     true,
		AdminRoleID: 77,
	})

	require.NoError(t, err)
	assert.False(t, result.Charged)
	mockBalanceRepo.AssertExpectations(t)
}

func TestInviteService_DeleteInviteByIndex(t *testing.T) {
	ctx := context.Background()

	records := []*models.InviteRecord{
		{ID: 1, UserID: testUser, Code: "oldest"},
		{ID: 2, UserID: testUser, Code: "newer1"},
	}

	t.Run("revokes and refunds", func(t *testing.T) {
		svc, mockUoW, mockBalanceRepo, mockRecordRepo, _, mockGateway, _ := setupInviteService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockRecordRepo.On("GetByUser", ctx, testUser).Return(records, nil)
		mockGateway.On("DeleteInvite", ctx, "newer1").Return(nil)
		mockRecordRepo.On("DeleteByCode", ctx, "newer1").Return(records[1], nil)
		mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
			balanceRow(10, 2),
		}, nil)
		mockBalanceRepo.On("Release", ctx, testUser, int64(10)).Return(true, nil)

		result, err := svc.DeleteInviteByIndex(ctx, testGuild, testUser, 2)
		require.NoError(t, err)
		assert.True(t, result.Refunded)
		assert.False(t, result.AlreadyGone)
		assert.Equal(t, "newer1", result.Record.Code)
		mockGateway.AssertExpectations(t)
	})

	t.Run("discord 404 still cleans up", func(t *testing.T) {
		svc, mockUoW, mockBalanceRepo, mockRecordRepo, _, mockGateway, _ := setupInviteService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockRecordRepo.On("GetByUser", ctx, testUser).Return(records, nil)
		mockGateway.On("DeleteInvite", ctx, "oldest").Return(ErrInviteGone)
		mockRecordRepo.On("DeleteByCode", ctx, "oldest").Return(records[0], nil)
		mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
			balanceRow(10, 0),
		}, nil)
		mockBalanceRepo.On("Release", ctx, testUser, int64(10)).Return(true, nil)

		result, err := svc.DeleteInviteByIndex(ctx, testGuild, testUser, 1)
		require.NoError(t, err)
		assert.True(t, result.AlreadyGone)
		assert.True(t, result.Refunded)
	})

	t.Run("unlimited owner gets no refund", func(t *testing.T) {
		svc, mockUoW, mockBalanceRepo, mockRecordRepo, _, mockGateway, _ := setupInviteService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockRecordRepo.On("GetByUser", ctx, testUser).Return(records, nil)
		mockGateway.On("DeleteInvite", ctx, "oldest").Return(nil)
		mockRecordRepo.On("DeleteByCode", ctx, "oldest").Return(records[0], nil)
		mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
			unlimitedRow(77),
		}, nil)

		result, err := svc.DeleteInviteByIndex(ctx, testGuild, testUser, 1)
		require.NoError(t, err)
		assert.False(t, result.Refunded)
		mockBalanceRepo.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("index out of range", func(t *testing.T) {
		svc, mockUoW, _, mockRecordRepo, _, _, _ := setupInviteService(t)
		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Rollback").Return(nil)

		mockRecordRepo.On("GetByUser", ctx, testUser).Return(records, nil)

		_, err := svc.DeleteInviteByIndex(ctx, testGuild, testUser, 3)
		assert.ErrorIs(t, err, ErrInviteNotFound)
	})
}

func TestInviteService_ListUserInvites(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, mockRecordRepo, mockQuotaRepo, _, mockReconciler := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockReconciler.On("SweepOrphans", ctx, testGuild).Return(1, nil)

	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		balanceRow(10, 2),
		balanceRow(20, 4),
	}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{10, 20}).Return([]*models.RoleQuota{
		{RoleID: 10, Name: "member", Max: models.Finite(5)},
		{RoleID: 20, Name: "booster", Max: models.Finite(10)},
	}, nil)
	mockQuotaRepo.On("GetByRole", ctx, int64(10)).Return(&models.RoleQuota{RoleID: 10, Name: "member", Max: models.Finite(5)}, nil)
	mockQuotaRepo.On("GetByRole", ctx, int64(20)).Return(&models.RoleQuota{RoleID: 20, Name: "booster", Max: models.Finite(10)}, nil)
	mockRecordRepo.On("GetByUser", ctx, testUser).Return([]*models.InviteRecord{
		{ID: 1, UserID: testUser, Code: "live01", TimesUsed: 0},
	}, nil)

	status, err := svc.ListUserInvites(ctx, testGuild, testUser, []int64{10, 20}, 0)
	require.NoError(t, err)
	assert.False(t, status.HasUnlimited)
	assert.Equal(t, int64(6), status.TotalRemaining)
	require.Len(t, status.Balances, 2)
	assert.Equal(t, "member", status.Balances[0].RoleName)
	require.Len(t, status.ActiveInvites, 1)
	mockReconciler.AssertExpectations(t)
}

func TestInviteService_CheckUserInvites_DoesNotSeed(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, mockRecordRepo, _, _, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{}, nil)
	mockRecordRepo.On("GetByUser", ctx, testUser).Return([]*models.InviteRecord{}, nil)

	status, err := svc.CheckUserInvites(ctx, testGuild, testUser, false)
	require.NoError(t, err)
	assert.Empty(t, status.Balances)
	assert.Zero(t, status.TotalRemaining)
	mockBalanceRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestInviteService_CreateInvite_PublishesBalanceChange(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockBalanceRepo, mockRecordRepo, mockQuotaRepo, mockGateway, _ := setupInviteService(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockBalanceRepo.On("GetByUser", ctx, testUser).Return([]*models.UserBalance{
		balanceRow(10, 3),
	}, nil)
	mockQuotaRepo.On("GetByRoles", ctx, []int64{10}).Return([]*models.RoleQuota{
		{RoleID: 10, Name: "member", Max: models.Finite(5)},
	}, nil)
	mockBalanceRepo.On("Reserve", ctx, testUser, int64(10)).Return(true, nil)
	mockGateway.On("CreateInvite", ctx, testChannel, 1, 0).Return(&LiveInvite{Code: "ev1"}, nil)
	mockRecordRepo.On("Create", ctx, mock.Anything).Return(nil)

	_, err := svc.CreateInvite(ctx, CreateInviteRequest{
		GuildID:   testGuild,
		UserID:    testUser,
		ChannelID: testChannel,
		RoleIDs:   []int64{10},
	})
	require.NoError(t, err)

	var sawCharge, sawCreated bool
	for _, e := range mockUoW.PublishedEvents() {
		switch ev := e.(type) {
		case events.BalanceChangeEvent:
			if ev.Reason == "mint" && ev.ChangeAmount == -1 {
				sawCharge = true
			}
		case events.InviteCreatedEvent:
			if ev.Code == "ev1" {
				sawCreated = true
			}
		}
	}
	assert.True(t, sawCharge, "expected a mint balance change event")
	assert.True(t, sawCreated, "expected an invite created event")
}
