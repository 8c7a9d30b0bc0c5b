package domain

import "strings"

// WebhookType is a Twitch EventSub subscription type known to the service.
type WebhookType string

const (
	WebhookChannelSubscribe    WebhookType = "channel.subscribe"
	WebhookSubscriptionGift    WebhookType = "channel.subscription.gift"
	WebhookSubscriptionMessage WebhookType = "channel.subscription.message"
	WebhookChannelFollow       WebhookType = "channel.follow"
	WebhookChannelCheer        WebhookType = "channel.cheer"
	WebhookChannelRaid         WebhookType = "channel.raid"
	WebhookRewardRedemption    WebhookType = "channel.channel_points_custom_reward_redemption.add"

	WebhookStreamOnline  WebhookType = "stream.online"
	WebhookStreamOffline WebhookType = "stream.offline"
)

// DefaultTrackingMetric is assigned to new users.
const DefaultTrackingMetric = WebhookChannelSubscribe

// MetricTypes lists the types that can drive a reward ladder, in display order.
var MetricTypes = []WebhookType{
	WebhookChannelSubscribe,
	WebhookSubscriptionGift,
	WebhookSubscriptionMessage,
	WebhookChannelFollow,
	WebhookChannelCheer,
	WebhookChannelRaid,
	WebhookRewardRedemption,
}

var friendlyNames = map[WebhookType]string{
	WebhookChannelSubscribe:    "Subscribers",
	WebhookSubscriptionGift:    "Gifted Subs",
	WebhookSubscriptionMessage: "Resubs",
	WebhookChannelFollow:       "Followers",
	WebhookChannelCheer:        "Cheers",
	WebhookChannelRaid:         "Raids",
	WebhookRewardRedemption:    "Redemptions",
	WebhookStreamOnline:        "Stream Online",
	WebhookStreamOffline:       "Stream Offline",
}

// ParseWebhookType validates s against the known types.
func ParseWebhookType(s string) (WebhookType, error) {
	t := WebhookType(strings.TrimSpace(s))
	if _, ok := friendlyNames[t]; !ok {
		return "", ErrUnknownWebhookType
	}
	return t, nil
}

// FriendlyName returns the plural display name, or "" for unknown types.
func (t WebhookType) FriendlyName() string {
	return friendlyNames[t]
}

// IsMetric reports whether events of this type count toward rewards.
func (t WebhookType) IsMetric() bool {
	for _, m := range MetricTypes {
		if m == t {
			return true
		}
	}
	return false
}

func (t WebhookType) String() string { return string(t) }
