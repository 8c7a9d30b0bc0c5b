package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rewardRow struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	SubCount  int       `db:"sub_count"`
	Reward    string    `db:"reward"`
	CreatedAt time.Time `db:"created_at"`
}

func (r rewardRow) toDomain() domain.Reward {
	return domain.Reward{
		ID:        r.ID,
		UserID:    r.UserID,
		SubCount:  r.SubCount,
		Reward:    r.Reward,
		CreatedAt: r.CreatedAt,
	}
}

type RewardRepo struct {
	pool *pgxpool.Pool
}

func NewRewardRepo(pool *pgxpool.Pool) *RewardRepo {
	return &RewardRepo{pool: pool}
}

func (r *RewardRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Reward, error) {
	return r.list(ctx, `
		SELECT id, user_id, sub_count, reward, created_at FROM rewards
		WHERE user_id = $1
		ORDER BY sub_count, created_at`, userID)
}

func (r *RewardRepo) ListByTwitchLogin(ctx context.Context, login string) ([]domain.Reward, error) {
	return r.list(ctx, `
		SELECT r.id, r.user_id, r.sub_count, r.reward, r.created_at FROM rewards r
		JOIN users u ON u.id = r.user_id
		WHERE u.twitch_login = $1
		ORDER BY r.sub_count, r.created_at`, login)
}

func (r *RewardRepo) Create(ctx context.Context, userID uuid.UUID, subCount int, reward string) (*domain.Reward, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO rewards (user_id, sub_count, reward) VALUES ($1, $2, $3)
		RETURNING id, user_id, sub_count, reward, created_at`, userID, subCount, reward)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reward: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[rewardRow])
	if err != nil {
		return nil, fmt.Errorf("failed to insert reward: %w", err)
	}
	out := row.toDomain()
	return &out, nil
}

// Delete removes a reward owned by userID. Rewards of other users are
// reported as not found.
func (r *RewardRepo) Delete(ctx context.Context, userID, rewardID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM rewards WHERE id = $1 AND user_id = $2", rewardID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete reward: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRewardNotFound
	}
	return nil
}

func (r *RewardRepo) list(ctx context.Context, query string, arg any) ([]domain.Reward, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[rewardRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan rewards: %w", err)
	}
	out := make([]domain.Reward, len(collected))
	for i, row := range collected {
		out[i] = row.toDomain()
	}
	return out, nil
}
