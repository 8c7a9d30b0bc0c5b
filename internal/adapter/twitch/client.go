// Package twitch manages the service's EventSub conduit and subscriptions and
// receives the notifications Twitch delivers to it.
package twitch

import (
	"context"
	"fmt"
	"time"

	"github.com/Its-donkey/kappopher/helix"
)

const appTokenTimeout = 15 * time.Second

// Client wraps the helix client with app-scoped credentials.
type Client struct {
	helix *helix.Client
}

// NewClient obtains an app access token (client credentials) and returns a
// client for conduit and EventSub management.
func NewClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	auth := helix.NewAuthClient(helix.AuthConfig{ClientID: clientID, ClientSecret: clientSecret})

	ctx, cancel := context.WithTimeout(ctx, appTokenTimeout)
	defer cancel()
	if _, err := auth.GetAppAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("failed to get app access token: %w", err)
	}

	return &Client{helix: helix.NewClient(clientID, auth)}, nil
}

func (c *Client) GetConduits(ctx context.Context) ([]helix.Conduit, error) {
	resp, err := c.helix.GetConduits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conduits: %w", err)
	}
	return resp.Data, nil
}

func (c *Client) CreateConduit(ctx context.Context, shardCount int) (*helix.Conduit, error) {
	conduit, err := c.helix.CreateConduit(ctx, shardCount)
	if err != nil {
		return nil, fmt.Errorf("failed to create conduit: %w", err)
	}
	return conduit, nil
}

func (c *Client) UpdateConduitShards(ctx context.Context, params *helix.UpdateConduitShardsParams) error {
	if _, err := c.helix.UpdateConduitShards(ctx, params); err != nil {
		return fmt.Errorf("failed to update conduit shards: %w", err)
	}
	return nil
}

func (c *Client) DeleteConduit(ctx context.Context, conduitID string) error {
	if err := c.helix.DeleteConduit(ctx, conduitID); err != nil {
		return fmt.Errorf("failed to delete conduit: %w", err)
	}
	return nil
}

func (c *Client) CreateEventSubSubscription(ctx context.Context, params *helix.CreateEventSubSubscriptionParams) (*helix.EventSubSubscription, error) {
	sub, err := c.helix.CreateEventSubSubscription(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create EventSub subscription: %w", err)
	}
	return sub, nil
}

// ListEventSubSubscriptions returns every subscription of subType, following
// pagination.
func (c *Client) ListEventSubSubscriptions(ctx context.Context, subType string) ([]helix.EventSubSubscription, error) {
	params := helix.GetEventSubSubscriptionsParams{Type: subType}

	var all []helix.EventSubSubscription
	for {
		resp, err := c.helix.GetEventSubSubscriptions(ctx, &params)
		if err != nil {
			return nil, fmt.Errorf("failed to list EventSub subscriptions: %w", err)
		}
		all = append(all, resp.Data...)

		if resp.Pagination == nil || resp.Pagination.Cursor == "" {
			return all, nil
		}
		params.PaginationParams = &helix.PaginationParams{After: resp.Pagination.Cursor}
	}
}

func (c *Client) DeleteEventSubSubscription(ctx context.Context, subscriptionID string) error {
	if err := c.helix.DeleteEventSubSubscription(ctx, subscriptionID); err != nil {
		return fmt.Errorf("failed to delete EventSub subscription: %w", err)
	}
	return nil
}
