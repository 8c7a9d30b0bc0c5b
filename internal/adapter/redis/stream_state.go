package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ericadamski/stream-rewards/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Streams that end without a stream.offline notification expire on their own.
const streamStateTTL = 48 * time.Hour

const (
	fieldCount    = "count"
	fieldLastUser = "last_user"
)

// StreamStateStore implements domain.StreamStateStore.
type StreamStateStore struct {
	rdb goredis.Cmdable
}

var _ domain.StreamStateStore = (*StreamStateStore)(nil)

func NewStreamStateStore(rdb goredis.Cmdable) *StreamStateStore {
	return &StreamStateStore{rdb: rdb}
}

func liveStreamKey(broadcasterID string) string {
	return "live_stream:" + broadcasterID
}

func tallyKey(broadcasterID, streamID string, metric domain.WebhookType) string {
	return "tally:" + broadcasterID + ":" + streamID + ":" + string(metric)
}

func (s *StreamStateStore) SetLiveStream(ctx context.Context, broadcasterID, streamID string) error {
	if err := s.rdb.Set(ctx, liveStreamKey(broadcasterID), streamID, streamStateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set live stream: %w", err)
	}
	return nil
}

func (s *StreamStateStore) ClearLiveStream(ctx context.Context, broadcasterID string) error {
	if err := s.rdb.Del(ctx, liveStreamKey(broadcasterID)).Err(); err != nil {
		return fmt.Errorf("failed to clear live stream: %w", err)
	}
	return nil
}

func (s *StreamStateStore) LiveStream(ctx context.Context, broadcasterID string) (string, error) {
	streamID, err := s.rdb.Get(ctx, liveStreamKey(broadcasterID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", domain.ErrStreamOffline
	}
	if err != nil {
		return "", fmt.Errorf("failed to get live stream: %w", err)
	}
	return streamID, nil
}

func (s *StreamStateStore) IncrementTally(ctx context.Context, broadcasterID, streamID string, metric domain.WebhookType, eventUser string) (domain.MetricTally, error) {
	key := tallyKey(broadcasterID, streamID, metric)

	var incr *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, fieldCount, 1)
		pipe.HSet(ctx, key, fieldLastUser, eventUser)
		pipe.Expire(ctx, key, streamStateTTL)
		return nil
	})
	if err != nil {
		return domain.MetricTally{}, fmt.Errorf("failed to increment tally: %w", err)
	}
	return domain.MetricTally{Count: int(incr.Val()), LastEventUser: eventUser}, nil
}

func (s *StreamStateStore) CachedTally(ctx context.Context, broadcasterID, streamID string, metric domain.WebhookType) (domain.MetricTally, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, tallyKey(broadcasterID, streamID, metric)).Result()
	if err != nil {
		return domain.MetricTally{}, false, fmt.Errorf("failed to read tally: %w", err)
	}
	raw, ok := fields[fieldCount]
	if !ok {
		return domain.MetricTally{}, false, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return domain.MetricTally{}, false, fmt.Errorf("corrupt tally count %q: %w", raw, err)
	}
	return domain.MetricTally{Count: count, LastEventUser: fields[fieldLastUser]}, true, nil
}

func (s *StreamStateStore) StoreTally(ctx context.Context, broadcasterID, streamID string, metric domain.WebhookType, tally domain.MetricTally) error {
	key := tallyKey(broadcasterID, streamID, metric)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldCount, tally.Count, fieldLastUser, tally.LastEventUser)
		pipe.Expire(ctx, key, streamStateTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store tally: %w", err)
	}
	return nil
}

const pruneScanCount = 100

// PruneResult summarizes a PruneStaleTallies run.
type PruneResult struct {
	Scanned int
	Stale   int
	Skipped int
}

// PruneStaleTallies deletes tallies whose stream is no longer the
// broadcaster's live stream. With dryRun set it only counts them.
func (s *StreamStateStore) PruneStaleTallies(ctx context.Context, dryRun bool) (PruneResult, error) {
	var result PruneResult
	var cursor uint64
	live := make(map[string]string)

	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "tally:*", pruneScanCount).Result()
		if err != nil {
			return result, fmt.Errorf("scan failed: %w", err)
		}

		for _, key := range keys {
			result.Scanned++

			parts := strings.SplitN(key, ":", 4)
			if len(parts) != 4 {
				result.Skipped++
				continue
			}
			broadcasterID, streamID := parts[1], parts[2]

			current, seen := live[broadcasterID]
			if !seen {
				current, err = s.LiveStream(ctx, broadcasterID)
				if err != nil && !errors.Is(err, domain.ErrStreamOffline) {
					return result, err
				}
				live[broadcasterID] = current
			}
			if current == streamID {
				continue
			}

			result.Stale++
			if dryRun {
				continue
			}
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return result, fmt.Errorf("failed to delete %s: %w", key, err)
			}
		}

		cursor = next
		if cursor == 0 {
			return result, nil
		}
	}
}
