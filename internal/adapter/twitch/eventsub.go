package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/ericadamski/stream-rewards/internal/adapter/metrics"
	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/ericadamski/stream-rewards/internal/platform/retry"
)

const (
	defaultShardID        = "0"
	retryInitialBackoff   = 1 * time.Second
	retryRateLimitBackoff = 30 * time.Second
	retryMaxBackoff       = 30 * time.Second
)

// eventsubAPI is the subset of Client used by EventSubManager.
type eventsubAPI interface {
	GetConduits(ctx context.Context) ([]helix.Conduit, error)
	CreateConduit(ctx context.Context, shardCount int) (*helix.Conduit, error)
	UpdateConduitShards(ctx context.Context, params *helix.UpdateConduitShardsParams) error
	DeleteConduit(ctx context.Context, conduitID string) error
	CreateEventSubSubscription(ctx context.Context, params *helix.CreateEventSubSubscriptionParams) (*helix.EventSubSubscription, error)
	ListEventSubSubscriptions(ctx context.Context, subType string) ([]helix.EventSubSubscription, error)
	DeleteEventSubSubscription(ctx context.Context, subscriptionID string) error
}

// EventSubManager owns the service's conduit and the per-user subscriptions
// delivered through it.
type EventSubManager struct {
	client      eventsubAPI
	repository  domain.EventSubRepository
	metrics     *metrics.EventSubMetrics
	retryPolicy retry.Policy

	conduitID   string
	callbackURL string
	secret      string
}

var _ domain.EventSubService = (*EventSubManager)(nil)

type ManagerOption func(*EventSubManager)

func WithMetrics(m *metrics.EventSubMetrics) ManagerOption {
	return func(em *EventSubManager) { em.metrics = m }
}

func WithRetryPolicy(p retry.Policy) ManagerOption {
	return func(em *EventSubManager) { em.retryPolicy = p }
}

func NewEventSubManager(client eventsubAPI, repository domain.EventSubRepository, callbackURL, secret string, opts ...ManagerOption) *EventSubManager {
	m := &EventSubManager{
		client:      client,
		repository:  repository,
		callbackURL: callbackURL,
		secret:      secret,
		retryPolicy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   retryInitialBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
			MaxBackoff:       retryMaxBackoff,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConduitID is empty until Setup succeeds.
func (m *EventSubManager) ConduitID() string {
	return m.conduitID
}

// Setup finds or creates the conduit and points its shard at callbackURL.
// A conduit whose shard cannot be configured is replaced.
func (m *EventSubManager) Setup(ctx context.Context) error {
	conduit, err := m.findOrCreateConduit(ctx)
	if err != nil {
		return err
	}

	if err := m.configureShard(ctx, conduit.ID); err != nil {
		conduit, err = m.recreateConduit(ctx, conduit.ID, err)
		if err != nil {
			return err
		}
	}

	m.conduitID = conduit.ID
	slog.Info("Conduit configured with webhook shard", "conduit_id", conduit.ID, "callback_url", m.callbackURL)
	return nil
}

func (m *EventSubManager) findOrCreateConduit(ctx context.Context) (*helix.Conduit, error) {
	conduits, err := m.client.GetConduits(ctx)
	if err != nil {
		return nil, err
	}
	if len(conduits) > 0 {
		slog.Info("Found existing conduit", "conduit_id", conduits[0].ID)
		return &conduits[0], nil
	}
	return m.createConduit(ctx)
}

func (m *EventSubManager) createConduit(ctx context.Context) (*helix.Conduit, error) {
	conduit, err := m.client.CreateConduit(ctx, 1)
	if err != nil {
		return nil, err
	}
	if conduit == nil {
		return nil, errors.New("no conduit returned from Twitch API")
	}
	slog.Info("Created conduit", "conduit_id", conduit.ID, "shard_count", conduit.ShardCount)
	return conduit, nil
}

func (m *EventSubManager) configureShard(ctx context.Context, conduitID string) error {
	params := helix.UpdateConduitShardsParams{
		ConduitID: conduitID,
		Shards: []helix.UpdateConduitShardParams{{
			ID: defaultShardID,
			Transport: helix.UpdateConduitShardTransport{
				Method:   "webhook",
				Callback: m.callbackURL,
				Secret:   m.secret,
			},
		}},
	}
	return m.client.UpdateConduitShards(ctx, &params)
}

func (m *EventSubManager) recreateConduit(ctx context.Context, staleID string, shardErr error) (*helix.Conduit, error) {
	slog.Error("Shard configuration failed, recreating conduit", "conduit_id", staleID, "error", shardErr)

	if err := m.client.DeleteConduit(ctx, staleID); err != nil {
		return nil, fmt.Errorf("failed to delete stale conduit: %w", err)
	}
	if err := m.repository.DeleteByConduitID(ctx, staleID); err != nil {
		slog.Error("Failed to delete subscription records of stale conduit", "conduit_id", staleID, "error", err)
	}

	conduit, err := m.createConduit(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.configureShard(ctx, conduit.ID); err != nil {
		return nil, fmt.Errorf("failed to configure shard on new conduit: %w", err)
	}
	return conduit, nil
}

// Cleanup deletes the conduit. Twitch drops its subscriptions with it, so
// the matching records go first or they would block re-subscribing later.
func (m *EventSubManager) Cleanup(ctx context.Context) error {
	if m.conduitID == "" {
		return nil
	}

	if err := m.repository.DeleteByConduitID(ctx, m.conduitID); err != nil {
		slog.Error("Failed to delete subscription records", "conduit_id", m.conduitID, "error", err)
	}
	if err := m.client.DeleteConduit(ctx, m.conduitID); err != nil {
		return err
	}

	slog.Info("Deleted conduit", "conduit_id", m.conduitID)
	m.conduitID = ""
	return nil
}

// Subscribe creates the subscription of subType for the user's channel.
// A subscription already on the current conduit is left alone.
func (m *EventSubManager) Subscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) error {
	if m.conduitID == "" {
		return errors.New("conduit not configured")
	}

	existing, err := m.repository.Get(ctx, user.ID, subType)
	switch {
	case err == nil && existing.ConduitID == m.conduitID:
		slog.DebugContext(ctx, "EventSub subscription already exists", "user_id", user.ID, "type", subType)
		return nil
	case err == nil:
		slog.InfoContext(ctx, "Replacing EventSub subscription on stale conduit", "user_id", user.ID, "type", subType, "old_conduit", existing.ConduitID, "current_conduit", m.conduitID)
		if delErr := m.repository.Delete(ctx, user.ID, subType); delErr != nil && !errors.Is(delErr, domain.ErrSubscriptionNotFound) {
			return fmt.Errorf("failed to delete stale subscription: %w", delErr)
		}
	case !errors.Is(err, domain.ErrSubscriptionNotFound):
		return fmt.Errorf("failed to check existing subscription: %w", err)
	}

	p := m.retryPolicy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "EventSub subscribe failed, retrying", "type", subType, "broadcaster_user_id", user.TwitchUserID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	sub, err := retry.Do(ctx, p, classifyEventSubError, func(ctx context.Context) (*helix.EventSubSubscription, error) {
		return m.attemptSubscribe(ctx, user, subType)
	})
	if err != nil {
		m.observe("subscribe", "failure")
		label := "after retries"
		var permanent *retry.PermanentError
		if errors.As(err, &permanent) {
			label = "permanent"
		}
		slog.ErrorContext(ctx, "EventSub subscribe failed", "type", subType, "broadcaster_user_id", user.TwitchUserID, "cause", label, "error", err)
		return fmt.Errorf("EventSub subscribe failed (%s): %w", label, err)
	}

	m.observe("subscribe", "success")
	slog.InfoContext(ctx, "Subscribed to EventSub", "type", subType, "broadcaster_user_id", user.TwitchUserID, "subscription_id", sub.ID)
	return nil
}

func (m *EventSubManager) attemptSubscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) (*helix.EventSubSubscription, error) {
	version, condition := subscriptionParams(subType, user.TwitchUserID)
	params := helix.CreateEventSubSubscriptionParams{
		Type:      string(subType),
		Version:   version,
		Condition: condition,
		Transport: helix.CreateEventSubTransport{
			Method:    "conduit",
			ConduitID: m.conduitID,
		},
	}

	sub, err := m.client.CreateEventSubSubscription(ctx, &params)
	if err != nil {
		var apiErr *helix.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
			return nil, err
		}
		slog.InfoContext(ctx, "EventSub subscription already exists on Twitch, recovering", "type", subType, "broadcaster_user_id", user.TwitchUserID)
		sub, err = m.findExistingSubscription(ctx, subType, condition)
		if err != nil {
			return nil, err
		}
	}
	if sub == nil {
		return nil, errors.New("no subscription returned from Twitch API")
	}

	if dbErr := m.repository.Create(ctx, user.ID, subType, sub.ID, m.conduitID); dbErr != nil {
		if cleanupErr := m.client.DeleteEventSubSubscription(ctx, sub.ID); cleanupErr != nil {
			slog.ErrorContext(ctx, "Failed to clean up Twitch subscription after DB persist failure", "subscription_id", sub.ID, "error", cleanupErr)
		}
		return nil, fmt.Errorf("failed to persist subscription: %w", dbErr)
	}
	return sub, nil
}

func (m *EventSubManager) findExistingSubscription(ctx context.Context, subType domain.WebhookType, condition map[string]string) (*helix.EventSubSubscription, error) {
	subs, err := m.client.ListEventSubSubscriptions(ctx, string(subType))
	if err != nil {
		return nil, fmt.Errorf("409 recovery: %w", err)
	}
	for i := range subs {
		matches := true
		for k, v := range condition {
			if subs[i].Condition[k] != v {
				matches = false
				break
			}
		}
		if matches {
			return &subs[i], nil
		}
	}
	return nil, fmt.Errorf("subscription not found on Twitch despite 409 conflict (type=%s)", subType)
}

// Unsubscribe removes the subscription on Twitch, then the record. The
// record stays when Twitch fails so the call can be retried. A missing
// subscription is a success.
func (m *EventSubManager) Unsubscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) error {
	sub, err := m.repository.Get(ctx, user.ID, subType)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	p := m.retryPolicy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "EventSub unsubscribe failed, retrying", "subscription_id", sub.SubscriptionID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	err = retry.DoVoid(ctx, p, classifyEventSubError, func(ctx context.Context) error {
		return m.client.DeleteEventSubSubscription(ctx, sub.SubscriptionID)
	})
	if err != nil && !isNotFound(err) {
		m.observe("unsubscribe", "failure")
		slog.ErrorContext(ctx, "EventSub unsubscribe failed", "type", subType, "subscription_id", sub.SubscriptionID, "error", err)
		return fmt.Errorf("EventSub unsubscribe failed: %w", err)
	}

	if err := m.repository.Delete(ctx, user.ID, subType); err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
		m.observe("unsubscribe", "failure")
		return fmt.Errorf("failed to delete subscription record: %w", err)
	}

	m.observe("unsubscribe", "success")
	slog.InfoContext(ctx, "Unsubscribed from EventSub", "type", subType, "user_id", user.ID, "subscription_id", sub.SubscriptionID)
	return nil
}

func (m *EventSubManager) observe(operation, result string) {
	if m.metrics != nil {
		m.metrics.SubscriptionOps.WithLabelValues(operation, result).Inc()
	}
}

// subscriptionParams returns the EventSub version and condition for a
// subscription on broadcasterID's channel.
func subscriptionParams(subType domain.WebhookType, broadcasterID string) (string, map[string]string) {
	switch subType {
	case domain.WebhookChannelFollow:
		return "2", map[string]string{
			"broadcaster_user_id": broadcasterID,
			"moderator_user_id":   broadcasterID,
		}
	case domain.WebhookChannelRaid:
		return "1", map[string]string{"to_broadcaster_user_id": broadcasterID}
	default:
		return "1", map[string]string{"broadcaster_user_id": broadcasterID}
	}
}

func isNotFound(err error) bool {
	var apiErr *helix.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func classifyEventSubError(err error) retry.Action {
	var apiErr *helix.APIError
	if !errors.As(err, &apiErr) {
		return retry.Retry
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case apiErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
