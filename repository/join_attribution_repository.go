package repository

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/database"
	"github.com/ZubyWasTaken/refer-a-friend/models"
)

// JoinAttributionRepository implements service.JoinAttributionRepository.
// The attribution log is append-only: rows are never updated, and the only
// delete path is the full guild wipe.
type JoinAttributionRepository struct {
	q       queryable
	guildID int64
}

// NewJoinAttributionRepository creates a new join attribution repository
func NewJoinAttributionRepository(db *database.DB, guildID int64) *JoinAttributionRepository {
	return &JoinAttributionRepository{q: db.Pool, guildID: guildID}
}

// newJoinAttributionRepositoryWithTx creates a new join attribution repository with a transaction
func newJoinAttributionRepositoryWithTx(tx queryable, guildID int64) *JoinAttributionRepository {
	return &JoinAttributionRepository{q: tx, guildID: guildID}
}

// Create appends an attribution row
func (r *JoinAttributionRepository) Create(ctx context.Context, attribution *models.JoinAttribution) error {
	query := `
		INSERT INTO join_attributions (guild_id, invite_id, inviter_user_id, joined_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, joined_at
	`

	err := r.q.QueryRow(ctx, query,
		r.guildID, attribution.InviteID, attribution.InviterUserID, attribution.JoinedUserID,
	).Scan(&attribution.ID, &attribution.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to create join attribution: %w", err)
	}

	attribution.GuildID = r.guildID
	return nil
}

// CountByInvite returns how many joins were attributed to an invite
func (r *JoinAttributionRepository) CountByInvite(ctx context.Context, inviteID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM join_attributions WHERE guild_id = $1 AND invite_id = $2`

	err := r.q.QueryRow(ctx, query, r.guildID, inviteID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attributions for invite %d: %w", inviteID, err)
	}

	return count, nil
}

// CountByInviter returns how many joins a user's invites produced
func (r *JoinAttributionRepository) CountByInviter(ctx context.Context, inviterUserID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM join_attributions WHERE guild_id = $1 AND inviter_user_id = $2`

	err := r.q.QueryRow(ctx, query, r.guildID, inviterUserID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attributions for inviter %d: %w", inviterUserID, err)
	}

	return count, nil
}

// DeleteAll wipes every attribution in the guild
func (r *JoinAttributionRepository) DeleteAll(ctx context.Context) error {
	_, err := r.q.Exec(ctx, `DELETE FROM join_attributions WHERE guild_id = $1`, r.guildID)
	if err != nil {
		return fmt.Errorf("failed to delete all join attributions: %w", err)
	}
	return nil
}
