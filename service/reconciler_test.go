package service

import (
	"context"
	"testing"

	"github.com/ZubyWasTaken/refer-a-friend/cache"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testBotUser int64 = 424242

func setupReconciler(t *testing.T) (Reconciler, *cache.InviteCache, *MockUnitOfWork, *MockInviteRecordRepository, *MockJoinAttributionRepository, *MockInviteGateway) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockQuotaRepo := new(MockRoleQuotaRepository)
	mockBalanceRepo := new(MockBalanceRepository)
	mockRecordRepo := new(MockInviteRecordRepository)
	mockAttrRepo := new(MockJoinAttributionRepository)
	mockConfigRepo := new(MockGuildConfigRepository)
	mockGateway := new(MockInviteGateway)

	mockUoW.SetRepositories(mockQuotaRepo, mockBalanceRepo, mockRecordRepo, mockAttrRepo, mockConfigRepo)
	mockFactory.On("CreateForGuild", testGuild).Return(mockUoW)

	invites := newTestCache(t)
	invites.SetBotUser(testBotUser)

	r := NewReconciler(mockFactory, mockGateway, invites)
	return r, invites, mockUoW, mockRecordRepo, mockAttrRepo, mockGateway
}

func botInvite(code string) cache.Invite {
	return cache.Invite{Code: code, InviterID: testBotUser}
}

func TestReconciler_HandleMemberJoin_ViaRecentlyDeleted(t *testing.T) {
	ctx := context.Background()
	r, invites, mockUoW, mockRecordRepo, mockAttrRepo, mockGateway := setupReconciler(t)

	// A consumed single-use invite: the delete event arrived first and
	// bridged the code into the recently-deleted buffer
	invites.Seed(testGuild, []cache.Invite{botInvite("spent1")})
	invites.OnDelete(testGuild, "spent1")

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	record := &models.InviteRecord{ID: 7, GuildID: testGuild, UserID: testUser, Code: "spent1"}
	mockRecordRepo.On("GetByCode", ctx, "spent1").Return(record, nil)
	mockAttrRepo.On("Create", ctx, mock.MatchedBy(func(a *models.JoinAttribution) bool {
		return a.InviteID == 7 && a.InviterUserID == testUser && a.JoinedUserID == int64(555)
	})).Return(nil)
	mockRecordRepo.On("DeleteByCode", ctx, "spent1").Return(record, nil)

	attribution, err := r.HandleMemberJoin(ctx, testGuild, 555)
	require.NoError(t, err)
	require.NotNil(t, attribution)
	assert.Equal(t, testUser, attribution.InviterUserID)

	// Buffer matching avoided the REST fetch entirely
	mockGateway.AssertNotCalled(t, "GuildInvites", mock.Anything, mock.Anything)
	mockAttrRepo.AssertExpectations(t)
}

func TestReconciler_HandleMemberJoin_StaleBridgeEntryFallsThrough(t *testing.T) {
	ctx := context.Background()
	r, invites, mockUoW, mockRecordRepo, mockAttrRepo, mockGateway := setupReconciler(t)

	// stale1 was bridged but its record has since been consumed elsewhere;
	// the join actually came through real01, whose delete event was lost
	invites.Seed(testGuild, []cache.Invite{
		botInvite("stale1"), botInvite("real01"), botInvite("still1"),
	})
	invites.OnDelete(testGuild, "stale1")

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockRecordRepo.On("GetByCode", ctx, "stale1").Return(nil, nil)

	mockGateway.On("GuildInvites", ctx, testGuild).Return([]*LiveInvite{
		{Code: "still1", InviterID: testBotUser},
	}, nil)

	record := &models.InviteRecord{ID: 11, GuildID: testGuild, UserID: testUser, Code: "real01"}
	mockRecordRepo.On("GetByCode", ctx, "real01").Return(record, nil)
	mockAttrRepo.On("Create", ctx, mock.Anything).Return(nil)
	mockRecordRepo.On("DeleteByCode", ctx, "real01").Return(record, nil)

	attribution, err := r.HandleMemberJoin(ctx, testGuild, 559)
	require.NoError(t, err)
	require.NotNil(t, attribution)
	assert.Equal(t, int64(11), attribution.InviteID)
	mockAttrRepo.AssertExpectations(t)
}

func TestReconciler_HandleMemberJoin_ViaCacheDiff(t *testing.T) {
	ctx := context.Background()
	r, invites, mockUoW, mockRecordRepo, mockAttrRepo, mockGateway := setupReconciler(t)

	// Delete event lost: the code is still in the live set but gone upstream
	invites.Seed(testGuild, []cache.Invite{botInvite("lost01"), botInvite("still1")})

	mockGateway.On("GuildInvites", ctx, testGuild).Return([]*LiveInvite{
		{Code: "still1", InviterID: testBotUser},
	}, nil)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	record := &models.InviteRecord{ID: 9, GuildID: testGuild, UserID: testUser, Code: "lost01"}
	mockRecordRepo.On("GetByCode", ctx, "lost01").Return(record, nil)
	mockAttrRepo.On("Create", ctx, mock.Anything).Return(nil)
	mockRecordRepo.On("DeleteByCode", ctx, "lost01").Return(record, nil)

	attribution, err := r.HandleMemberJoin(ctx, testGuild, 556)
	require.NoError(t, err)
	require.NotNil(t, attribution)
	assert.Equal(t, int64(9), attribution.InviteID)

	// Cache was reseeded from the fresh snapshot
	snapshot := invites.Snapshot(testGuild)
	assert.Contains(t, snapshot, "still1")
	assert.NotContains(t, snapshot, "lost01")
}

func TestReconciler_HandleMemberJoin_Unexplained(t *testing.T) {
	ctx := context.Background()
	r, invites, _, _, _, mockGateway := setupReconciler(t)

	invites.Seed(testGuild, []cache.Invite{botInvite("intact")})
	mockGateway.On("GuildInvites", ctx, testGuild).Return([]*LiveInvite{
		{Code: "intact", InviterID: testBotUser},
	}, nil)

	// Vanity URL or someone else's invite: nothing of ours disappeared
	attribution, err := r.HandleMemberJoin(ctx, testGuild, 557)
	require.NoError(t, err)
	assert.Nil(t, attribution)
}

func TestReconciler_HandleMemberJoin_RecordAlreadyConsumed(t *testing.T) {
	ctx := context.Background()
	r, invites, mockUoW, mockRecordRepo, mockAttrRepo, mockGateway := setupReconciler(t)

	invites.Seed(testGuild, []cache.Invite{botInvite("taken1")})
	mockGateway.On("GuildInvites", ctx, testGuild).Return([]*LiveInvite{}, nil)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	// Another path already explained this code; no double attribution
	mockRecordRepo.On("GetByCode", ctx, "taken1").Return(nil, nil)

	attribution, err := r.HandleMemberJoin(ctx, testGuild, 558)
	require.NoError(t, err)
	assert.Nil(t, attribution)
	mockAttrRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestReconciler_HandleInviteDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("bridges codes that still have a record", func(t *testing.T) {
		r, invites, mockUoW, mockRecordRepo, _, _ := setupReconciler(t)
		invites.Seed(testGuild, []cache.Invite{botInvite("bridge")})

		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)
		mockRecordRepo.On("GetByCode", ctx, "bridge").
			Return(&models.InviteRecord{ID: 3, Code: "bridge", UserID: testUser}, nil)

		r.HandleInviteDelete(ctx, testGuild, "bridge")

		matched, ok := invites.TakeRecentlyDeleted(testGuild)
		require.True(t, ok)
		assert.Equal(t, "bridge", matched.Code)
	})

	t.Run("drops codes without a record", func(t *testing.T) {
		r, invites, mockUoW, mockRecordRepo, _, _ := setupReconciler(t)
		invites.Seed(testGuild, []cache.Invite{botInvite("plain1")})

		mockUoW.On("Begin", ctx).Return(nil)
		mockUoW.On("Commit").Return(nil)
		mockUoW.On("Rollback").Return(nil)
		mockRecordRepo.On("GetByCode", ctx, "plain1").Return(nil, nil)

		r.HandleInviteDelete(ctx, testGuild, "plain1")

		_, ok := invites.TakeRecentlyDeleted(testGuild)
		assert.False(t, ok)
		assert.NotContains(t, invites.Snapshot(testGuild), "plain1")
	})
}

func TestReconciler_SweepOrphans(t *testing.T) {
	ctx := context.Background()
	r, _, mockUoW, mockRecordRepo, _, mockGateway := setupReconciler(t)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockGateway.On("GuildInvites", ctx, testGuild).Return([]*LiveInvite{
		{Code: "alive1", InviterID: testBotUser},
	}, nil)

	aliveRecord := &models.InviteRecord{ID: 1, UserID: testUser, Code: "alive1"}
	deadRecord := &models.InviteRecord{ID: 2, UserID: testUser, Code: "dead01"}

	mockRecordRepo.On("GetAll", ctx).Return([]*models.InviteRecord{aliveRecord, deadRecord}, nil).Once()
	mockRecordRepo.On("DeleteByCode", ctx, "dead01").Return(deadRecord, nil).Once()

	swept, err := r.SweepOrphans(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	// Second sweep finds nothing to do
	mockRecordRepo.On("GetAll", ctx).Return([]*models.InviteRecord{aliveRecord}, nil).Once()
	swept, err = r.SweepOrphans(ctx, testGuild)
	require.NoError(t, err)
	assert.Zero(t, swept)

	mockRecordRepo.AssertExpectations(t)
}

func TestReconciler_SeedGuild(t *testing.T) {
	ctx := context.Background()
	r, invites, _, _, _, mockGateway := setupReconciler(t)

	mockGateway.On("GuildInvites", ctx, testGuild).Return([]*LiveInvite{
		{Code: "mine01", InviterID: testBotUser},
		{Code: "theirs", InviterID: 111},
	}, nil)

	require.NoError(t, r.SeedGuild(ctx, testGuild))

	// Only bot-authored invites are tracked
	snapshot := invites.Snapshot(testGuild)
	assert.Contains(t, snapshot, "mine01")
	assert.NotContains(t, snapshot, "theirs")
}
