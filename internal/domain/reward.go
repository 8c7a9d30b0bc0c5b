package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reward is a goal on a streamer's ladder, unlocked once the tracked metric
// reaches SubCount. Serialized with the field names the progress page polls.
type Reward struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	SubCount  int       `json:"sub_count"`
	Reward    string    `json:"reward"`
	CreatedAt time.Time `json:"created_at"`
}

type RewardRepository interface {
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]Reward, error)
	ListByTwitchLogin(ctx context.Context, login string) ([]Reward, error)
	Create(ctx context.Context, userID uuid.UUID, subCount int, reward string) (*Reward, error)
	Delete(ctx context.Context, userID, rewardID uuid.UUID) error
}

// RewardSource reads a streamer's ladder by login, usually through a cache.
type RewardSource interface {
	ListByTwitchLogin(ctx context.Context, login string) ([]Reward, error)
}

// RewardCacheInvalidator drops cached ladders after a change.
type RewardCacheInvalidator interface {
	InvalidateLogin(ctx context.Context, login string) error
}
