package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookType(t *testing.T) {
	got, err := ParseWebhookType(" channel.cheer ")
	require.NoError(t, err)
	assert.Equal(t, WebhookChannelCheer, got)

	_, err = ParseWebhookType("channel.ban")
	assert.ErrorIs(t, err, ErrUnknownWebhookType)

	_, err = ParseWebhookType("")
	assert.ErrorIs(t, err, ErrUnknownWebhookType)
}

func TestWebhookType_IsMetric(t *testing.T) {
	for _, m := range MetricTypes {
		assert.True(t, m.IsMetric(), m)
		assert.NotEmpty(t, m.FriendlyName(), m)
	}
	assert.False(t, WebhookStreamOnline.IsMetric())
	assert.False(t, WebhookStreamOffline.IsMetric())
}

func TestUser_HasToken(t *testing.T) {
	var nilUser *User
	assert.False(t, nilUser.HasToken())
	assert.False(t, (&User{}).HasToken())
	assert.True(t, (&User{AccessToken: "tok"}).HasToken())
}
