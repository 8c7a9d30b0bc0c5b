package domain

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRewardNotFound       = errors.New("reward not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrStreamOffline        = errors.New("stream offline")
	ErrUnknownWebhookType   = errors.New("unknown webhook type")
)
