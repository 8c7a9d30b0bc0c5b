package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/ericadamski/stream-rewards/internal/platform/crypto"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, twitch_user_id, twitch_login, display_name, access_token, refresh_token,
	token_expiry, tracking_metric, metric_offset, created_at, updated_at`

type userRow struct {
	ID             uuid.UUID `db:"id"`
	TwitchUserID   string    `db:"twitch_user_id"`
	TwitchLogin    string    `db:"twitch_login"`
	DisplayName    string    `db:"display_name"`
	AccessToken    string    `db:"access_token"`
	RefreshToken   string    `db:"refresh_token"`
	TokenExpiry    time.Time `db:"token_expiry"`
	TrackingMetric string    `db:"tracking_metric"`
	MetricOffset   int       `db:"metric_offset"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// UserRepo stores users with their OAuth tokens encrypted by the crypto service.
type UserRepo struct {
	pool   *pgxpool.Pool
	crypto crypto.Service
}

func NewUserRepo(pool *pgxpool.Pool, cryptoSvc crypto.Service) *UserRepo {
	return &UserRepo{pool: pool, crypto: cryptoSvc}
}

func (r *UserRepo) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID)
}

func (r *UserRepo) GetByTwitchLogin(ctx context.Context, login string) (*domain.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE twitch_login = $1", login)
}

func (r *UserRepo) GetByTwitchUserID(ctx context.Context, twitchUserID string) (*domain.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE twitch_user_id = $1", twitchUserID)
}

// Upsert inserts or refreshes the user keyed by Twitch user id. A stale row
// still holding the login (after a Twitch rename) gives it up first.
func (r *UserRepo) Upsert(ctx context.Context, p domain.UpsertUserParams) (*domain.User, error) {
	accessToken, err := r.encrypt(p.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := r.encrypt(p.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	var row userRow
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE users SET twitch_login = twitch_login || '~' || twitch_user_id, updated_at = now()
			WHERE twitch_login = $1 AND twitch_user_id <> $2`,
			p.TwitchLogin, p.TwitchUserID)
		if err != nil {
			return fmt.Errorf("release stale login: %w", err)
		}

		rows, err := tx.Query(ctx, `
			INSERT INTO users (twitch_user_id, twitch_login, display_name, access_token, refresh_token, token_expiry)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (twitch_user_id) DO UPDATE SET
				twitch_login  = EXCLUDED.twitch_login,
				display_name  = EXCLUDED.display_name,
				access_token  = EXCLUDED.access_token,
				refresh_token = EXCLUDED.refresh_token,
				token_expiry  = EXCLUDED.token_expiry,
				updated_at    = now()
			RETURNING `+userColumns,
			p.TwitchUserID, p.TwitchLogin, p.DisplayName, accessToken, refreshToken, p.TokenExpiry)
		if err != nil {
			return err
		}
		row, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[userRow])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return r.toDomain(row)
}

func (r *UserRepo) UpdateTracking(ctx context.Context, userID uuid.UUID, metric domain.WebhookType, offset int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET tracking_metric = $2, metric_offset = $3, updated_at = now()
		WHERE id = $1`, userID, string(metric), offset)
	if err != nil {
		return fmt.Errorf("failed to update tracking settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ClearTokens forgets the user's OAuth tokens, e.g. after Twitch revoked them.
func (r *UserRepo) ClearTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET access_token = '', refresh_token = '', updated_at = now()
		WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

func (r *UserRepo) ListWithTokens(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+userColumns+" FROM users WHERE access_token <> '' ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[userRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}

	users := make([]domain.User, 0, len(list))
	for _, row := range list {
		user, err := r.toDomain(row)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, nil
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[userRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return r.toDomain(row)
}

func (r *UserRepo) toDomain(row userRow) (*domain.User, error) {
	accessToken, err := r.decrypt(row.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refreshToken, err := r.decrypt(row.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	metric, err := domain.ParseWebhookType(row.TrackingMetric)
	if err != nil || !metric.IsMetric() {
		metric = domain.DefaultTrackingMetric
	}

	return &domain.User{
		ID:             row.ID,
		TwitchUserID:   row.TwitchUserID,
		TwitchLogin:    row.TwitchLogin,
		DisplayName:    row.DisplayName,
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		TokenExpiry:    row.TokenExpiry,
		TrackingMetric: metric,
		MetricOffset:   row.MetricOffset,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

// Empty tokens are stored as "" so a cleared token stays recognisable.
func (r *UserRepo) encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	return r.crypto.Encrypt(plain)
}

func (r *UserRepo) decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	return r.crypto.Decrypt(stored)
}
