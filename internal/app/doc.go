// Package app holds the use cases behind the HTTP handlers: reward ladder
// progress, streamer settings and the per-stream metric tally.
//
// It depends on domain interfaces only; adapters are wired in cmd/server.
package app
