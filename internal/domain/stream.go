package domain

import (
	"context"
	"time"
)

// StreamEvent is one occurrence of a metric event during a live stream.
type StreamEvent struct {
	ID            string
	BroadcasterID string
	StreamID      string
	Type          WebhookType
	EventUserName string
	OccurredAt    time.Time
}

// MetricTally is the count of a metric's events for one stream and the user
// behind the most recent one.
type MetricTally struct {
	Count         int
	LastEventUser string
}

// StreamEventRepository is the durable log of metric events.
type StreamEventRepository interface {
	Record(ctx context.Context, event StreamEvent) error
	Tally(ctx context.Context, broadcasterID, streamID string, metric WebhookType) (MetricTally, error)
}

// StreamStateStore holds the fast-changing per-broadcaster state: the live
// stream id and cached tallies for it.
type StreamStateStore interface {
	SetLiveStream(ctx context.Context, broadcasterID, streamID string) error
	ClearLiveStream(ctx context.Context, broadcasterID string) error
	// LiveStream returns ErrStreamOffline when no stream is live.
	LiveStream(ctx context.Context, broadcasterID string) (string, error)
	IncrementTally(ctx context.Context, broadcasterID, streamID string, metric WebhookType, eventUser string) (MetricTally, error)
	// CachedTally reports ok=false on a cache miss.
	CachedTally(ctx context.Context, broadcasterID, streamID string, metric WebhookType) (MetricTally, bool, error)
	StoreTally(ctx context.Context, broadcasterID, streamID string, metric WebhookType, tally MetricTally) error
}
