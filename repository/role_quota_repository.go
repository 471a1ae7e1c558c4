package repository

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/database"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	"github.com/jackc/pgx/v5"
)

// RoleQuotaRepository implements service.RoleQuotaRepository against Postgres.
type RoleQuotaRepository struct {
	q       queryable
	guildID int64
}

// NewRoleQuotaRepository creates a new role quota repository
func NewRoleQuotaRepository(db *database.DB, guildID int64) *RoleQuotaRepository {
	return &RoleQuotaRepository{q: db.Pool, guildID: guildID}
}

// newRoleQuotaRepositoryWithTx creates a new role quota repository with a transaction
func newRoleQuotaRepositoryWithTx(tx queryable, guildID int64) *RoleQuotaRepository {
	return &RoleQuotaRepository{q: tx, guildID: guildID}
}

// Upsert creates or replaces the quota for a role
func (r *RoleQuotaRepository) Upsert(ctx context.Context, quota *models.RoleQuota) error {
	query := `
		INSERT INTO role_quotas (guild_id, role_id, name, max_invites)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, role_id)
		DO UPDATE SET name = EXCLUDED.name, max_invites = EXCLUDED.max_invites
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query, r.guildID, quota.RoleID, quota.Name, quota.Max.Stored()).
		Scan(&quota.ID, &quota.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert quota for role %d: %w", quota.RoleID, err)
	}

	quota.GuildID = r.guildID
	return nil
}

// GetByRole retrieves one role's quota, nil if not configured
func (r *RoleQuotaRepository) GetByRole(ctx context.Context, roleID int64) (*models.RoleQuota, error) {
	query := `
		SELECT id, guild_id, role_id, name, max_invites, created_at
		FROM role_quotas
		WHERE guild_id = $1 AND role_id = $2
	`

	quota, err := scanRoleQuota(r.q.QueryRow(ctx, query, r.guildID, roleID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota for role %d: %w", roleID, err)
	}

	return quota, nil
}

// GetByRoles retrieves quotas for any of the given roles
func (r *RoleQuotaRepository) GetByRoles(ctx context.Context, roleIDs []int64) ([]*models.RoleQuota, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, guild_id, role_id, name, max_invites, created_at
		FROM role_quotas
		WHERE guild_id = $1 AND role_id = ANY($2)
		ORDER BY max_invites DESC
	`

	rows, err := r.q.Query(ctx, query, r.guildID, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get quotas by roles: %w", err)
	}
	defer rows.Close()

	return collectRoleQuotas(rows)
}

// GetAll returns every configured quota in the guild
func (r *RoleQuotaRepository) GetAll(ctx context.Context) ([]*models.RoleQuota, error) {
	query := `
		SELECT id, guild_id, role_id, name, max_invites, created_at
		FROM role_quotas
		WHERE guild_id = $1
		ORDER BY max_invites DESC
	`

	rows, err := r.q.Query(ctx, query, r.guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get all quotas: %w", err)
	}
	defer rows.Close()

	return collectRoleQuotas(rows)
}

// Delete removes a role's quota, reporting whether it existed
func (r *RoleQuotaRepository) Delete(ctx context.Context, roleID int64) (bool, error) {
	query := `DELETE FROM role_quotas WHERE guild_id = $1 AND role_id = $2`

	tag, err := r.q.Exec(ctx, query, r.guildID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete quota for role %d: %w", roleID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteAll wipes all quotas in the guild
func (r *RoleQuotaRepository) DeleteAll(ctx context.Context) error {
	_, err := r.q.Exec(ctx, `DELETE FROM role_quotas WHERE guild_id = $1`, r.guildID)
	if err != nil {
		return fmt.Errorf("failed to delete all quotas: %w", err)
	}
	return nil
}

func scanRoleQuota(row pgx.Row) (*models.RoleQuota, error) {
	var quota models.RoleQuota
	var stored int64
	err := row.Scan(&quota.ID, &quota.GuildID, &quota.RoleID, &quota.Name, &stored, &quota.CreatedAt)
	if err != nil {
		return nil, err
	}
	quota.Max = models.BalanceFromStored(stored)
	return &quota, nil
}

func collectRoleQuotas(rows pgx.Rows) ([]*models.RoleQuota, error) {
	var quotas []*models.RoleQuota
	for rows.Next() {
		quota, err := scanRoleQuota(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quota: %w", err)
		}
		quotas = append(quotas, quota)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotas: %w", err)
	}
	return quotas, nil
}
