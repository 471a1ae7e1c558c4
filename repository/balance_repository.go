package repository

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/database"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	"github.com/jackc/pgx/v5"
)

// BalanceRepository implements service.BalanceRepository against Postgres.
//
// All mutating operations on finite balances are single conditional UPDATEs;
// the WHERE clause is the only concurrency control. Two concurrent reserves
// of a 1-invite balance serialize on the row lock and exactly one sees the
// guard pass. Rows holding the unlimited sentinel are excluded from every
// arithmetic path by the same guards.
type BalanceRepository struct {
	q       queryable
	guildID int64
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *database.DB, guildID int64) *BalanceRepository {
	return &BalanceRepository{q: db.Pool, guildID: guildID}
}

// newBalanceRepositoryWithTx creates a new balance repository with a transaction
func newBalanceRepositoryWithTx(tx queryable, guildID int64) *BalanceRepository {
	return &BalanceRepository{q: tx, guildID: guildID}
}

// GetByUserRole retrieves one balance row, nil if absent
func (r *BalanceRepository) GetByUserRole(ctx context.Context, userID, roleID int64) (*models.UserBalance, error) {
	query := `
		SELECT id, guild_id, user_id, role_id, invites_remaining, created_at
		FROM user_balances
		WHERE guild_id = $1 AND user_id = $2 AND role_id = $3
	`

	balance, err := scanUserBalance(r.q.QueryRow(ctx, query, r.guildID, userID, roleID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for user %d role %d: %w", userID, roleID, err)
	}

	return balance, nil
}

// GetByUser retrieves all balance rows a user holds in the guild
func (r *BalanceRepository) GetByUser(ctx context.Context, userID int64) ([]*models.UserBalance, error) {
	query := `
		SELECT id, guild_id, user_id, role_id, invites_remaining, created_at
		FROM user_balances
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY invites_remaining ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, r.guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances for user %d: %w", userID, err)
	}
	defer rows.Close()

	var balances []*models.UserBalance
	for rows.Next() {
		balance, err := scanUserBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}

// Create inserts a new balance row
func (r *BalanceRepository) Create(ctx context.Context, balance *models.UserBalance) error {
	query := `
		INSERT INTO user_balances (guild_id, user_id, role_id, invites_remaining)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query, r.guildID, balance.UserID, balance.RoleID, balance.Remaining.Stored()).
		Scan(&balance.ID, &balance.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create balance for user %d role %d: %w", balance.UserID, balance.RoleID, err)
	}

	balance.GuildID = r.guildID
	return nil
}

// Reserve atomically decrements a finite balance, refusing to drive it
// negative. The guard also skips unlimited rows, which are never charged.
func (r *BalanceRepository) Reserve(ctx context.Context, userID, roleID int64) (bool, error) {
	query := `
		UPDATE user_balances
		SET invites_remaining = invites_remaining - 1
		WHERE guild_id = $1 AND user_id = $2 AND role_id = $3
		  AND invites_remaining > 0
	`

	tag, err := r.q.Exec(ctx, query, r.guildID, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to reserve invite for user %d role %d: %w", userID, roleID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// Release atomically increments a finite balance (refund)
func (r *BalanceRepository) Release(ctx context.Context, userID, roleID int64) (bool, error) {
	query := `
		UPDATE user_balances
		SET invites_remaining = invites_remaining + 1
		WHERE guild_id = $1 AND user_id = $2 AND role_id = $3
		  AND invites_remaining >= 0
	`

	tag, err := r.q.Exec(ctx, query, r.guildID, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to release invite for user %d role %d: %w", userID, roleID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// Add atomically adds amount to a finite balance and returns the updated row
func (r *BalanceRepository) Add(ctx context.Context, userID, roleID, amount int64) (*models.UserBalance, error) {
	query := `
		UPDATE user_balances
		SET invites_remaining = invites_remaining + $4
		WHERE guild_id = $1 AND user_id = $2 AND role_id = $3
		  AND invites_remaining >= 0
		RETURNING id, guild_id, user_id, role_id, invites_remaining, created_at
	`

	balance, err := scanUserBalance(r.q.QueryRow(ctx, query, r.guildID, userID, roleID, amount))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add %d invites for user %d role %d: %w", amount, userID, roleID, err)
	}

	return balance, nil
}

// RemoveIfEnough atomically subtracts amount only if the balance covers it
func (r *BalanceRepository) RemoveIfEnough(ctx context.Context, userID, roleID, amount int64) (bool, error) {
	query := `
		UPDATE user_balances
		SET invites_remaining = invites_remaining - $4
		WHERE guild_id = $1 AND user_id = $2 AND role_id = $3
		  AND invites_remaining >= $4
	`

	tag, err := r.q.Exec(ctx, query, r.guildID, userID, roleID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to remove %d invites for user %d role %d: %w", amount, userID, roleID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// SetUnlimited overwrites all of a user's rows with the unlimited sentinel
func (r *BalanceRepository) SetUnlimited(ctx context.Context, userID int64) error {
	query := `
		UPDATE user_balances
		SET invites_remaining = $3
		WHERE guild_id = $1 AND user_id = $2
	`

	_, err := r.q.Exec(ctx, query, r.guildID, userID, models.UnlimitedSentinel)
	if err != nil {
		return fmt.Errorf("failed to set unlimited balance for user %d: %w", userID, err)
	}
	return nil
}

// DeleteByUserRole removes a single balance row
func (r *BalanceRepository) DeleteByUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	query := `DELETE FROM user_balances WHERE guild_id = $1 AND user_id = $2 AND role_id = $3`

	tag, err := r.q.Exec(ctx, query, r.guildID, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete balance for user %d role %d: %w", userID, roleID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteByUser removes all of a user's balance rows in the guild
func (r *BalanceRepository) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM user_balances WHERE guild_id = $1 AND user_id = $2`, r.guildID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete balances for user %d: %w", userID, err)
	}
	return nil
}

// DeleteAll wipes every balance row in the guild
func (r *BalanceRepository) DeleteAll(ctx context.Context) error {
	_, err := r.q.Exec(ctx, `DELETE FROM user_balances WHERE guild_id = $1`, r.guildID)
	if err != nil {
		return fmt.Errorf("failed to delete all balances: %w", err)
	}
	return nil
}

func scanUserBalance(row pgx.Row) (*models.UserBalance, error) {
	var balance models.UserBalance
	var stored int64
	err := row.Scan(&balance.ID, &balance.GuildID, &balance.UserID, &balance.RoleID, &stored, &balance.CreatedAt)
	if err != nil {
		return nil, err
	}
	balance.Remaining = models.BalanceFromStored(stored)
	return &balance, nil
}
