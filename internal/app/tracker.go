package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
)

// Tracker keeps the per-stream metric tallies. Postgres holds every event;
// Redis holds the live stream id and a running tally that is rebuilt from
// Postgres whenever it is missing.
type Tracker struct {
	events domain.StreamEventRepository
	state  domain.StreamStateStore
	clock  clockwork.Clock
}

func NewTracker(events domain.StreamEventRepository, state domain.StreamStateStore, clock clockwork.Clock) *Tracker {
	return &Tracker{events: events, state: state, clock: clock}
}

func (t *Tracker) StreamOnline(ctx context.Context, broadcasterID, streamID string) error {
	if err := t.state.SetLiveStream(ctx, broadcasterID, streamID); err != nil {
		return fmt.Errorf("failed to mark stream online: %w", err)
	}
	slog.InfoContext(ctx, "Stream online", "broadcaster_id", broadcasterID, "stream_id", streamID)
	return nil
}

func (t *Tracker) StreamOffline(ctx context.Context, broadcasterID string) error {
	if err := t.state.ClearLiveStream(ctx, broadcasterID); err != nil {
		return fmt.Errorf("failed to mark stream offline: %w", err)
	}
	slog.InfoContext(ctx, "Stream offline", "broadcaster_id", broadcasterID)
	return nil
}

// RecordEvent stores one metric event for the broadcaster's live stream.
// It reports false without error when the broadcaster is offline.
func (t *Tracker) RecordEvent(ctx context.Context, broadcasterID string, metric domain.WebhookType, eventUser string) (bool, error) {
	streamID, err := t.state.LiveStream(ctx, broadcasterID)
	if errors.Is(err, domain.ErrStreamOffline) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read live stream: %w", err)
	}

	now := t.clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return false, fmt.Errorf("failed to generate event id: %w", err)
	}

	event := domain.StreamEvent{
		ID:            id.String(),
		BroadcasterID: broadcasterID,
		StreamID:      streamID,
		Type:          metric,
		EventUserName: eventUser,
		OccurredAt:    now,
	}
	if err := t.events.Record(ctx, event); err != nil {
		return false, fmt.Errorf("failed to record stream event: %w", err)
	}

	// The event is durable from here on; cache trouble only costs a rebuild later.
	_, cached, err := t.state.CachedTally(ctx, broadcasterID, streamID, metric)
	if err != nil {
		slog.WarnContext(ctx, "Tally cache read failed", "broadcaster_id", broadcasterID, "error", err)
		return true, nil
	}
	if cached {
		if _, err := t.state.IncrementTally(ctx, broadcasterID, streamID, metric, eventUser); err != nil {
			slog.WarnContext(ctx, "Tally increment failed", "broadcaster_id", broadcasterID, "error", err)
		}
		return true, nil
	}

	if _, err := t.rebuild(ctx, broadcasterID, streamID, metric); err != nil {
		slog.WarnContext(ctx, "Tally rebuild failed", "broadcaster_id", broadcasterID, "error", err)
	}
	return true, nil
}

// Current returns the tally of metric for the broadcaster's live stream, or
// a zero tally when offline.
func (t *Tracker) Current(ctx context.Context, broadcasterID string, metric domain.WebhookType) (domain.MetricTally, error) {
	streamID, err := t.state.LiveStream(ctx, broadcasterID)
	if errors.Is(err, domain.ErrStreamOffline) {
		return domain.MetricTally{}, nil
	}
	if err != nil {
		return domain.MetricTally{}, fmt.Errorf("failed to read live stream: %w", err)
	}

	tally, ok, err := t.state.CachedTally(ctx, broadcasterID, streamID, metric)
	if err != nil {
		slog.WarnContext(ctx, "Tally cache read failed, using database", "broadcaster_id", broadcasterID, "error", err)
	} else if ok {
		return tally, nil
	}

	return t.rebuild(ctx, broadcasterID, streamID, metric)
}

func (t *Tracker) rebuild(ctx context.Context, broadcasterID, streamID string, metric domain.WebhookType) (domain.MetricTally, error) {
	tally, err := t.events.Tally(ctx, broadcasterID, streamID, metric)
	if err != nil {
		return domain.MetricTally{}, fmt.Errorf("failed to tally stream events: %w", err)
	}
	if err := t.state.StoreTally(ctx, broadcasterID, streamID, metric, tally); err != nil {
		slog.WarnContext(ctx, "Tally cache write failed", "broadcaster_id", broadcasterID, "error", err)
	}
	return tally, nil
}
