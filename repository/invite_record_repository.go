package repository

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/database"
	"github.com/ZubyWasTaken/refer-a-friend/models"
	"github.com/jackc/pgx/v5"
)

// InviteRecordRepository implements service.InviteRecordRepository against Postgres.
type InviteRecordRepository struct {
	q       queryable
	guildID int64
}

// NewInviteRecordRepository creates a new invite record repository
func NewInviteRecordRepository(db *database.DB, guildID int64) *InviteRecordRepository {
	return &InviteRecordRepository{q: db.Pool, guildID: guildID}
}

// newInviteRecordRepositoryWithTx creates a new invite record repository with a transaction
func newInviteRecordRepositoryWithTx(tx queryable, guildID int64) *InviteRecordRepository {
	return &InviteRecordRepository{q: tx, guildID: guildID}
}

// Create inserts a record for a freshly minted invite
func (r *InviteRecordRepository) Create(ctx context.Context, record *models.InviteRecord) error {
	query := `
		INSERT INTO invite_records (guild_id, user_id, code, link, max_uses)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query, r.guildID, record.UserID, record.Code, record.Link, record.MaxUses).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create invite record %s: %w", record.Code, err)
	}

	record.GuildID = r.guildID
	return nil
}

// GetByCode retrieves a record by invite code, nil if absent
func (r *InviteRecordRepository) GetByCode(ctx context.Context, code string) (*models.InviteRecord, error) {
	query := `
		SELECT id, guild_id, user_id, code, link, max_uses, created_at
		FROM invite_records
		WHERE guild_id = $1 AND code = $2
	`

	record, err := scanInviteRecord(r.q.QueryRow(ctx, query, r.guildID, code))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invite record %s: %w", code, err)
	}

	return record, nil
}

// GetByUser returns a user's records oldest-first, with TimesUsed populated
// from the attribution log.
func (r *InviteRecordRepository) GetByUser(ctx context.Context, userID int64) ([]*models.InviteRecord, error) {
	query := `
		SELECT
			ir.id, ir.guild_id, ir.user_id, ir.code, ir.link,
			ir.max_uses, ir.created_at,
			COUNT(ja.id) AS times_used
		FROM invite_records ir
		LEFT JOIN join_attributions ja ON ja.invite_id = ir.id
		WHERE ir.guild_id = $1 AND ir.user_id = $2
		GROUP BY ir.id
		ORDER BY ir.created_at ASC, ir.id ASC
	`

	rows, err := r.q.Query(ctx, query, r.guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get invite records for user %d: %w", userID, err)
	}
	defer rows.Close()

	var records []*models.InviteRecord
	for rows.Next() {
		var record models.InviteRecord
		err := rows.Scan(
			&record.ID, &record.GuildID, &record.UserID, &record.Code, &record.Link,
			&record.MaxUses, &record.CreatedAt, &record.TimesUsed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite record: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invite records: %w", err)
	}

	return records, nil
}

// GetAll returns every record in the guild
func (r *InviteRecordRepository) GetAll(ctx context.Context) ([]*models.InviteRecord, error) {
	query := `
		SELECT id, guild_id, user_id, code, link, max_uses, created_at
		FROM invite_records
		WHERE guild_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, r.guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get all invite records: %w", err)
	}
	defer rows.Close()

	var records []*models.InviteRecord
	for rows.Next() {
		record, err := scanInviteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invite records: %w", err)
	}

	return records, nil
}

// DeleteByCode removes a record and returns it, nil if it was already gone.
// The single DELETE ... RETURNING makes concurrent deletions of the same code
// race-safe: exactly one caller gets the row back and may refund for it.
func (r *InviteRecordRepository) DeleteByCode(ctx context.Context, code string) (*models.InviteRecord, error) {
	query := `
		DELETE FROM invite_records
		WHERE guild_id = $1 AND code = $2
		RETURNING id, guild_id, user_id, code, link, max_uses, created_at
	`

	record, err := scanInviteRecord(r.q.QueryRow(ctx, query, r.guildID, code))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete invite record %s: %w", code, err)
	}

	return record, nil
}

// DeleteAll wipes every record in the guild
func (r *InviteRecordRepository) DeleteAll(ctx context.Context) error {
	_, err := r.q.Exec(ctx, `DELETE FROM invite_records WHERE guild_id = $1`, r.guildID)
	if err != nil {
		return fmt.Errorf("failed to delete all invite records: %w", err)
	}
	return nil
}

func scanInviteRecord(row pgx.Row) (*models.InviteRecord, error) {
	var record models.InviteRecord
	err := row.Scan(
		&record.ID, &record.GuildID, &record.UserID, &record.Code, &record.Link,
		&record.MaxUses, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
