package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type eventSubRow struct {
	UserID         uuid.UUID `db:"user_id"`
	Type           string    `db:"type"`
	SubscriptionID string    `db:"subscription_id"`
	ConduitID      string    `db:"conduit_id"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r eventSubRow) toDomain() domain.EventSubSubscription {
	return domain.EventSubSubscription{
		UserID:         r.UserID,
		Type:           domain.WebhookType(r.Type),
		SubscriptionID: r.SubscriptionID,
		ConduitID:      r.ConduitID,
		CreatedAt:      r.CreatedAt,
	}
}

const eventSubColumns = "user_id, type, subscription_id, conduit_id, created_at"

type EventSubRepo struct {
	pool *pgxpool.Pool
}

func NewEventSubRepo(pool *pgxpool.Pool) *EventSubRepo {
	return &EventSubRepo{pool: pool}
}

// Create records a subscription, replacing any earlier record of the same
// type for the user.
func (r *EventSubRepo) Create(ctx context.Context, userID uuid.UUID, subType domain.WebhookType, subscriptionID, conduitID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO eventsub_subscriptions (user_id, type, subscription_id, conduit_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, type) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			conduit_id      = EXCLUDED.conduit_id,
			created_at      = now()`,
		userID, string(subType), subscriptionID, conduitID)
	if err != nil {
		return fmt.Errorf("failed to create EventSub subscription: %w", err)
	}
	return nil
}

func (r *EventSubRepo) Get(ctx context.Context, userID uuid.UUID, subType domain.WebhookType) (*domain.EventSubSubscription, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+eventSubColumns+" FROM eventsub_subscriptions WHERE user_id = $1 AND type = $2",
		userID, string(subType))
	if err != nil {
		return nil, fmt.Errorf("failed to get EventSub subscription: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[eventSubRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get EventSub subscription: %w", err)
	}
	sub := row.toDomain()
	return &sub, nil
}

func (r *EventSubRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.EventSubSubscription, error) {
	return r.list(ctx, "SELECT "+eventSubColumns+" FROM eventsub_subscriptions WHERE user_id = $1 ORDER BY type", userID)
}

func (r *EventSubRepo) List(ctx context.Context) ([]domain.EventSubSubscription, error) {
	return r.list(ctx, "SELECT "+eventSubColumns+" FROM eventsub_subscriptions ORDER BY created_at")
}

func (r *EventSubRepo) Delete(ctx context.Context, userID uuid.UUID, subType domain.WebhookType) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM eventsub_subscriptions WHERE user_id = $1 AND type = $2", userID, string(subType))
	if err != nil {
		return fmt.Errorf("failed to delete EventSub subscription: %w", err)
	}
	return nil
}

func (r *EventSubRepo) DeleteByConduitID(ctx context.Context, conduitID string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM eventsub_subscriptions WHERE conduit_id = $1", conduitID)
	if err != nil {
		return fmt.Errorf("failed to delete EventSub subscriptions by conduit ID: %w", err)
	}
	return nil
}

func (r *EventSubRepo) list(ctx context.Context, query string, args ...any) ([]domain.EventSubSubscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list EventSub subscriptions: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[eventSubRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan EventSub subscriptions: %w", err)
	}
	subs := make([]domain.EventSubSubscription, len(collected))
	for i, row := range collected {
		subs[i] = row.toDomain()
	}
	return subs, nil
}
