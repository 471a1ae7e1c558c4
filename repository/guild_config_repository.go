package repository

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/database"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	"github.com/jackc/pgx/v5"
)

// GuildConfigRepository implements service.GuildConfigRepository against Postgres.
type GuildConfigRepository struct {
	q       queryable
	guildID int64
}

// NewGuildConfigRepository creates a new guild config repository
func NewGuildConfigRepository(db *database.DB, guildID int64) *GuildConfigRepository {
	return &GuildConfigRepository{q: db.Pool, guildID: guildID}
}

// newGuildConfigRepositoryWithTx creates a new guild config repository with a transaction
func newGuildConfigRepositoryWithTx(tx queryable, guildID int64) *GuildConfigRepository {
	return &GuildConfigRepository{q: tx, guildID: guildID}
}

// Get retrieves the guild's config, nil if the guild was never set up
func (r *GuildConfigRepository) Get(ctx context.Context) (*models.GuildConfig, error) {
	query := `
		SELECT guild_id, logs_channel_id, bot_channel_id, system_channel_id,
		       default_role_id, setup_completed, created_at, updated_at
		FROM guild_configs
		WHERE guild_id = $1
	`

	var config models.GuildConfig
	err := r.q.QueryRow(ctx, query, r.guildID).Scan(
		&config.GuildID, &config.LogsChannelID, &config.BotChannelID, &config.SystemChannelID,
		&config.DefaultRoleID, &config.SetupCompleted, &config.CreatedAt, &config.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guild config: %w", err)
	}

	return &config, nil
}

// Upsert creates or replaces the guild's config
func (r *GuildConfigRepository) Upsert(ctx context.Context, config *models.GuildConfig) error {
	query := `
		INSERT INTO guild_configs (guild_id, logs_channel_id, bot_channel_id, system_channel_id,
		                           default_role_id, setup_completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (guild_id)
		DO UPDATE SET
			logs_channel_id = EXCLUDED.logs_channel_id,
			bot_channel_id = EXCLUDED.bot_channel_id,
			system_channel_id = EXCLUDED.system_channel_id,
			default_role_id = EXCLUDED.default_role_id,
			setup_completed = EXCLUDED.setup_completed,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		r.guildID, config.LogsChannelID, config.BotChannelID, config.SystemChannelID,
		config.DefaultRoleID, config.SetupCompleted,
	).Scan(&config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert guild config: %w", err)
	}

	config.GuildID = r.guildID
	return nil
}

// Delete removes the guild's config
func (r *GuildConfigRepository) Delete(ctx context.Context) error {
	_, err := r.q.Exec(ctx, `DELETE FROM guild_configs WHERE guild_id = $1`, r.guildID)
	if err != nil {
		return fmt.Errorf("failed to delete guild config: %w", err)
	}
	return nil
}
