package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	TwitchUserID string
	TwitchLogin  string
	DisplayName  string

	// Token encryption is handled by the repository, these are plaintext.
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	TrackingMetric WebhookType
	MetricOffset   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasToken reports whether the user has a Twitch access token on record.
func (u *User) HasToken() bool {
	return u != nil && u.AccessToken != ""
}

// UpsertUserParams bundles the Twitch identity and tokens obtained at login.
type UpsertUserParams struct {
	TwitchUserID string
	TwitchLogin  string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
	GetByTwitchLogin(ctx context.Context, login string) (*User, error)
	GetByTwitchUserID(ctx context.Context, twitchUserID string) (*User, error)
	Upsert(ctx context.Context, params UpsertUserParams) (*User, error)
	UpdateTracking(ctx context.Context, userID uuid.UUID, metric WebhookType, offset int) error
	ClearTokens(ctx context.Context, userID uuid.UUID) error
	// ListWithTokens returns every user that still holds an access token,
	// oldest first.
	ListWithTokens(ctx context.Context) ([]User, error)
}
