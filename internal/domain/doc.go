// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (user.go, reward.go, webhook_type.go, twitch.go, stream.go)
// hold shared records and the repository/service contracts. Apart from
// WebhookType parsing there is no implementation code here.
package domain
