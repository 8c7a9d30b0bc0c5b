package postgres

import (
	"context"
	"fmt"

	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StreamEventRepo struct {
	pool *pgxpool.Pool
}

func NewStreamEventRepo(pool *pgxpool.Pool) *StreamEventRepo {
	return &StreamEventRepo{pool: pool}
}

// Record stores an event. Re-delivered events with a known id are ignored.
func (r *StreamEventRepo) Record(ctx context.Context, e domain.StreamEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stream_events (id, broadcaster_id, stream_id, type, event_user_name, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.BroadcasterID, e.StreamID, string(e.Type), e.EventUserName, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to record stream event: %w", err)
	}
	return nil
}

func (r *StreamEventRepo) Tally(ctx context.Context, broadcasterID, streamID string, metric domain.WebhookType) (domain.MetricTally, error) {
	var tally domain.MetricTally
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*),
			coalesce((
				SELECT event_user_name FROM stream_events
				WHERE broadcaster_id = $1 AND stream_id = $2 AND type = $3
				ORDER BY id DESC LIMIT 1
			), '')
		FROM stream_events
		WHERE broadcaster_id = $1 AND stream_id = $2 AND type = $3`,
		broadcasterID, streamID, string(metric)).Scan(&tally.Count, &tally.LastEventUser)
	if err != nil {
		return domain.MetricTally{}, fmt.Errorf("failed to tally stream events: %w", err)
	}
	return tally, nil
}
