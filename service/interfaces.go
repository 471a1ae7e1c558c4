package service

import (
	"context"

	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/models"
)

// RoleQuotaRepository defines data access for per-role invite quotas.
// All repositories are scoped to the guild of the owning unit of work.
type RoleQuotaRepository interface {
	// Upsert creates or replaces the quota for a role
	Upsert(ctx context.Context, quota *models.RoleQuota) error

	// GetByRole retrieves one role's quota, nil if not configured
	GetByRole(ctx context.Context, roleID int64) (*models.RoleQuota, error)

	// GetByRoles retrieves quotas for any of the given roles
	GetByRoles(ctx context.Context, roleIDs []int64) ([]*models.RoleQuota, error)

	// GetAll returns every configured quota in the guild
	GetAll(ctx context.Context) ([]*models.RoleQuota, error)

	// Delete removes a role's quota, reporting whether it existed
	Delete(ctx context.Context, roleID int64) (bool, error)

	// DeleteAll wipes all quotas in the guild
	DeleteAll(ctx context.Context) error
}

// BalanceRepository defines data access for the user balance ledger.
type BalanceRepository interface {
	// GetByUserRole retrieves one balance row, nil if absent
	GetByUserRole(ctx context.Context, userID, roleID int64) (*models.UserBalance, error)

	// GetByUser retrieves all balance rows a user holds in the guild
	GetByUser(ctx context.Context, userID int64) ([]*models.UserBalance, error)

	// Create inserts a new balance row
	Create(ctx context.Context, balance *models.UserBalance) error

	// Reserve atomically decrements a finite balance, refusing to drive it
	// negative. Returns false when the guard rejects the decrement. Rows
	// holding the unlimited sentinel are never decremented.
	Reserve(ctx context.Context, userID, roleID int64) (bool, error)

	// Release atomically increments a finite balance (refund). Returns false
	// when the row is missing or unlimited.
	Release(ctx context.Context, userID, roleID int64) (bool, error)

	// Add atomically adds amount to a finite balance and returns the updated
	// row, nil when the row is missing or unlimited.
	Add(ctx context.Context, userID, roleID, amount int64) (*models.UserBalance, error)

	// RemoveIfEnough atomically subtracts amount only if the balance covers
	// it. Returns false when the guard rejects.
	RemoveIfEnough(ctx context.Context, userID, roleID, amount int64) (bool, error)

	// SetUnlimited overwrites all of a user's rows with the unlimited sentinel
	SetUnlimited(ctx context.Context, userID int64) error

	// DeleteByUserRole removes a single balance row
	DeleteByUserRole(ctx context.Context, userID, roleID int64) (bool, error)

	// DeleteByUser removes all of a user's balance rows in the guild
	DeleteByUser(ctx context.Context, userID int64) error

	// DeleteAll wipes every balance row in the guild
	DeleteAll(ctx context.Context) error
}

// InviteRecordRepository defines data access for bot-issued invite records.
type InviteRecordRepository interface {
	// Create inserts a record for a freshly minted invite
	Create(ctx context.Context, record *models.InviteRecord) error

	// GetByCode retrieves a record by invite code, nil if absent
	GetByCode(ctx context.Context, code string) (*models.InviteRecord, error)

	// GetByUser returns a user's records oldest-first, with TimesUsed populated
	GetByUser(ctx context.Context, userID int64) ([]*models.InviteRecord, error)

	// GetAll returns every record in the guild
	GetAll(ctx context.Context) ([]*models.InviteRecord, error)

	// DeleteByCode removes a record and returns it, nil if it was already gone
	DeleteByCode(ctx context.Context, code string) (*models.InviteRecord, error)

	// DeleteAll wipes every record in the guild
	DeleteAll(ctx context.Context) error
}

// JoinAttributionRepository defines data access for the append-only join log.
type JoinAttributionRepository interface {
	// Create appends an attribution row
	Create(ctx context.Context, attribution *models.JoinAttribution) error

	// CountByInvite returns how many joins were attributed to an invite
	CountByInvite(ctx context.Context, inviteID int64) (int64, error)

	// CountByInviter returns how many joins a user's invites produced
	CountByInviter(ctx context.Context, inviterUserID int64) (int64, error)

	// DeleteAll wipes every attribution in the guild
	DeleteAll(ctx context.Context) error
}

// GuildConfigRepository defines data access for per-guild setup.
type GuildConfigRepository interface {
	// Get retrieves the guild's config, nil if the guild was never set up
	Get(ctx context.Context) (*models.GuildConfig, error)

	// Upsert creates or replaces the guild's config
	Upsert(ctx context.Context, config *models.GuildConfig) error

	// Delete removes the guild's config
	Delete(ctx context.Context) error
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork defines the interface for transactional repository operations,
// scoped to a single guild.
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Repository getters
	RoleQuotaRepository() RoleQuotaRepository
	BalanceRepository() BalanceRepository
	InviteRecordRepository() InviteRecordRepository
	JoinAttributionRepository() JoinAttributionRepository
	GuildConfigRepository() GuildConfigRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	// CreateForGuild creates a new UnitOfWork instance scoped to a guild
	CreateForGuild(guildID int64) UnitOfWork
}

// LiveInvite is a snapshot of one invite as Discord currently reports it.
type LiveInvite struct {
	Code      string
	Link      string
	Uses      int
	InviterID int64
	ChannelID int64
}

// InviteGateway is the Discord REST boundary the engine drives. Every call
// may fail or time out; callers order remote calls before local mutations,
// except the mint pre-decrement which is compensated on failure.
type InviteGateway interface {
	// CreateInvite mints a unique invite on a channel
	CreateInvite(ctx context.Context, channelID int64, maxUses, maxAgeSeconds int) (*LiveInvite, error)

	// DeleteInvite revokes an invite. Returns ErrInviteGone when Discord
	// reports the code already absent.
	DeleteInvite(ctx context.Context, code string) error

	// GuildInvites fetches the guild's full live invite set
	GuildInvites(ctx context.Context, guildID int64) ([]*LiveInvite, error)
}

// InviteService owns the mint, manual-delete and listing paths.
type InviteService interface {
	// CreateInvite charges the caller's balance and mints a single-use invite
	CreateInvite(ctx context.Context, req CreateInviteRequest) (*CreateInviteResult, error)

	// DeleteInviteByIndex revokes the caller's n-th invite (1-based, as
	// numbered by ListUserInvites) and refunds the charge
	DeleteInviteByIndex(ctx context.Context, guildID, userID int64, index int) (*DeleteInviteResult, error)

	// ListUserInvites reports a user's balances and live invite links,
	// sweeping orphaned records on the way
	ListUserInvites(ctx context.Context, guildID, userID int64, roleIDs []int64, adminRoleID int64) (*UserInviteStatus, error)

	// CheckUserInvites is the admin view of another user's status
	CheckUserInvites(ctx context.Context, guildID, targetID int64, targetIsAdmin bool) (*UserInviteStatus, error)
}

// Reconciler keeps records and balances consistent with the live guild
// invite set and attributes member joins to consumed invites.
type Reconciler interface {
	// SeedGuild primes the live cache from a full REST fetch
	SeedGuild(ctx context.Context, guildID int64) error

	// HandleInviteCreate folds a gateway invite-create event into the cache
	HandleInviteCreate(guildID int64, invite *LiveInvite)

	// HandleInviteDelete folds a gateway invite-delete event into the cache,
	// bridging it into the recently-deleted buffer when a record exists
	HandleInviteDelete(ctx context.Context, guildID int64, code string)

	// HandleMemberJoin attributes a join to the invite it consumed, if any
	HandleMemberJoin(ctx context.Context, guildID, joinedUserID int64) (*models.JoinAttribution, error)

	// SweepOrphans deletes records whose codes are no longer live; returns
	// the number of records removed
	SweepOrphans(ctx context.Context, guildID int64) (int, error)
}

// MemberService reacts to role grants/revocations on guild members.
type MemberService interface {
	// SyncRoles reconciles a member's balance rows after their role set changed
	SyncRoles(ctx context.Context, guildID, userID int64, oldRoleIDs, newRoleIDs []int64) error
}

// AdminService owns administrator balance adjustments and guild lifecycle.
type AdminService interface {
	// AddInvites grants invites to the target's lowest finite balance row
	AddInvites(ctx context.Context, guildID, targetID, amount int64) (*AdjustResult, error)

	// RemoveInvites takes invites away, refusing to overdraw
	RemoveInvites(ctx context.Context, guildID, targetID, amount int64, targetRoleIDs []int64) (*AdjustResult, error)

	// SetRoleQuota configures (or reconfigures) a role's invite allowance
	SetRoleQuota(ctx context.Context, guildID, roleID int64, name string, max models.Balance) error

	// UnsetRoleQuota removes a role's quota without touching existing balances
	UnsetRoleQuota(ctx context.Context, guildID, roleID int64) (bool, []*models.RoleQuota, error)

	// ResetGuild revokes all live bot invites and wipes the guild's data
	ResetGuild(ctx context.Context, guildID, byUserID int64) (*ResetResult, error)
}

// GuildConfigService owns per-guild setup and the command-channel gate.
type GuildConfigService interface {
	// Get returns the guild's config or ErrNotConfigured
	Get(ctx context.Context, guildID int64) (*models.GuildConfig, error)

	// Setup performs first-time configuration; ErrAlreadySetup if repeated
	Setup(ctx context.Context, params SetupParams) (*models.GuildConfig, error)

	// SetLogsChannel changes where audit messages are posted
	SetLogsChannel(ctx context.Context, guildID, channelID int64) error

	// SetBotChannel changes the channel commands are restricted to
	SetBotChannel(ctx context.Context, guildID, channelID int64) error

	// SetDefaultRole changes the role granted to invited joiners (nil clears)
	SetDefaultRole(ctx context.Context, guildID int64, roleID *int64) error

	// RequireCommandChannel gates a command invocation: ErrNotConfigured
	// before setup, WrongChannelError outside the bot channel
	RequireCommandChannel(ctx context.Context, guildID, channelID int64) (*models.GuildConfig, error)
}

// CreateInviteRequest carries everything the mint path needs. IsAdmin is the
// capability flag resolved once at the dispatch boundary; AdminRoleID backs
// the lazily created unlimited balance for administrators.
type CreateInviteRequest struct {
	GuildID     int64
	UserID      int64
	ChannelID   int64
	RoleIDs     []int64
	IsAdmin     bool
	AdminRoleID int64
}

// CreateInviteResult reports a successful mint.
type CreateInviteResult struct {
	Record    *models.InviteRecord
	Remaining models.Balance // balance after the charge, on the charged row
	Charged   bool           // false for unlimited/admin mints
}

// DeleteInviteResult reports a manual deletion.
type DeleteInviteResult struct {
	Record      *models.InviteRecord
	Refunded    bool
	AlreadyGone bool // Discord reported the code missing; record cleaned up anyway
}

// BalanceLine is one role's remaining allowance for display.
type BalanceLine struct {
	RoleID    int64
	RoleName  string
	Remaining models.Balance
}

// UserInviteStatus is the user-facing view of balances plus live links.
type UserInviteStatus struct {
	Balances       []BalanceLine
	ActiveInvites  []*models.InviteRecord
	HasUnlimited   bool
	TotalRemaining int64
}

// AdjustResult reports an admin add/remove.
type AdjustResult struct {
	Unlimited bool  // target holds an unlimited balance; nothing changed
	NewTotal  int64 // total finite invites remaining after the change
}

// ResetResult reports a guild reset.
type ResetResult struct {
	InvitesRevoked int
	LogsChannelID  int64 // captured before the config row was deleted
}

// SetupParams carries first-time setup input.
type SetupParams struct {
	GuildID         int64
	LogsChannelID   int64
	BotChannelID    int64
	SystemChannelID int64
	DefaultRoleID   *int64
}
