package twitch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/ericadamski/stream-rewards/internal/adapter/metrics"
	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/ericadamski/stream-rewards/internal/platform/correlation"
)

const webhookProcessingTimeout = 5 * time.Second

// StreamTracker receives the stream lifecycle and metric events.
type StreamTracker interface {
	StreamOnline(ctx context.Context, broadcasterID, streamID string) error
	StreamOffline(ctx context.Context, broadcasterID string) error
	RecordEvent(ctx context.Context, broadcasterID string, metric domain.WebhookType, eventUser string) (bool, error)
}

type streamOnlineEvent struct {
	ID                string `json:"id"`
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

type streamOfflineEvent struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

// metricEvent covers the fields shared by the metric notification payloads.
// Raids name the receiving channel in to_broadcaster_user_id and the raider
// in from_broadcaster_user_name.
type metricEvent struct {
	BroadcasterUserID       string `json:"broadcaster_user_id"`
	UserName                string `json:"user_name"`
	IsAnonymous             bool   `json:"is_anonymous"`
	ToBroadcasterUserID     string `json:"to_broadcaster_user_id"`
	FromBroadcasterUserName string `json:"from_broadcaster_user_name"`
}

func (e metricEvent) broadcasterID() string {
	if e.ToBroadcasterUserID != "" {
		return e.ToBroadcasterUserID
	}
	return e.BroadcasterUserID
}

func (e metricEvent) eventUser() string {
	switch {
	case e.FromBroadcasterUserName != "":
		return e.FromBroadcasterUserName
	case e.IsAnonymous || e.UserName == "":
		return "Anonymous"
	default:
		return e.UserName
	}
}

// WebhookHandler verifies and dispatches EventSub notifications.
type WebhookHandler struct {
	handler *helix.EventSubWebhookHandler
	tracker StreamTracker
	metrics *metrics.EventSubMetrics
}

func NewWebhookHandler(secret string, tracker StreamTracker, m *metrics.EventSubMetrics) *WebhookHandler {
	wh := &WebhookHandler{tracker: tracker, metrics: m}

	wh.handler = helix.NewEventSubWebhookHandler(
		helix.WithWebhookSecret(secret),
		helix.WithNotificationHandler(wh.handleNotification),
		helix.WithVerificationHandler(func(msg *helix.EventSubWebhookMessage) bool {
			slog.Info("EventSub webhook verification", "subscription_type", msg.SubscriptionType)
			return true
		}),
		helix.WithRevocationHandler(func(msg *helix.EventSubWebhookMessage) {
			wh.observe(msg.SubscriptionType, "revoked")
			slog.Warn("EventSub subscription revoked", "type", msg.SubscriptionType, "reason", helix.GetRevocationReason(msg.Subscription))
		}),
	)

	return wh
}

func (wh *WebhookHandler) handleNotification(msg *helix.EventSubWebhookMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookProcessingTimeout)
	defer cancel()
	ctx = correlation.WithID(ctx, correlation.NewID())

	subType := domain.WebhookType(msg.SubscriptionType)
	result := wh.dispatch(ctx, subType, msg)
	wh.observe(msg.SubscriptionType, result)
}

func (wh *WebhookHandler) dispatch(ctx context.Context, subType domain.WebhookType, msg *helix.EventSubWebhookMessage) string {
	switch {
	case subType == domain.WebhookStreamOnline:
		event, err := helix.ParseEventSubEvent[streamOnlineEvent](msg)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to parse stream.online event", "error", err)
			return "invalid"
		}
		if err := wh.tracker.StreamOnline(ctx, event.BroadcasterUserID, event.ID); err != nil {
			return wh.failed(ctx, subType, event.BroadcasterUserID, err)
		}
		slog.InfoContext(ctx, "Stream went online", "broadcaster", event.BroadcasterUserID, "stream_id", event.ID)
		return "processed"

	case subType == domain.WebhookStreamOffline:
		event, err := helix.ParseEventSubEvent[streamOfflineEvent](msg)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to parse stream.offline event", "error", err)
			return "invalid"
		}
		if err := wh.tracker.StreamOffline(ctx, event.BroadcasterUserID); err != nil {
			return wh.failed(ctx, subType, event.BroadcasterUserID, err)
		}
		slog.InfoContext(ctx, "Stream went offline", "broadcaster", event.BroadcasterUserID)
		return "processed"

	case subType.IsMetric():
		event, err := helix.ParseEventSubEvent[metricEvent](msg)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to parse metric event", "type", subType, "error", err)
			return "invalid"
		}
		counted, err := wh.tracker.RecordEvent(ctx, event.broadcasterID(), subType, event.eventUser())
		if err != nil {
			return wh.failed(ctx, subType, event.broadcasterID(), err)
		}
		if !counted {
			slog.DebugContext(ctx, "Skipping event: stream offline", "type", subType, "broadcaster", event.broadcasterID())
			return "offline"
		}
		return "counted"

	default:
		return "ignored"
	}
}

func (wh *WebhookHandler) failed(ctx context.Context, subType domain.WebhookType, broadcasterID string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		slog.WarnContext(ctx, "Notification processing timed out", "type", subType, "broadcaster", broadcasterID, "timeout", webhookProcessingTimeout)
		return "timeout"
	}
	slog.ErrorContext(ctx, "Notification processing failed", "type", subType, "broadcaster", broadcasterID, "error", err)
	return "error"
}

func (wh *WebhookHandler) observe(subType, result string) {
	if wh.metrics != nil {
		wh.metrics.NotificationsTotal.WithLabelValues(subType, result).Inc()
	}
}

func (wh *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wh.handler.ServeHTTP(w, r)
}
