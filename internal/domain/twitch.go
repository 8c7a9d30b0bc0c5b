package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventSubSubscription is a record of a Twitch EventSub subscription of one
// type for one user, delivered through the service's conduit.
type EventSubSubscription struct {
	UserID         uuid.UUID
	Type           WebhookType
	SubscriptionID string
	ConduitID      string
	CreatedAt      time.Time
}

// EventSubService manages Twitch EventSub subscriptions for users.
type EventSubService interface {
	Subscribe(ctx context.Context, user *User, subType WebhookType) error
	Unsubscribe(ctx context.Context, user *User, subType WebhookType) error
}

// EventSubRepository persists EventSub subscription records.
type EventSubRepository interface {
	Create(ctx context.Context, userID uuid.UUID, subType WebhookType, subscriptionID, conduitID string) error
	Get(ctx context.Context, userID uuid.UUID, subType WebhookType) (*EventSubSubscription, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]EventSubSubscription, error)
	Delete(ctx context.Context, userID uuid.UUID, subType WebhookType) error
	DeleteByConduitID(ctx context.Context, conduitID string) error
	List(ctx context.Context) ([]EventSubSubscription, error)
}
