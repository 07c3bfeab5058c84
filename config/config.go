package config

import (
	"os"
	"time"
)

// Options holds every externally-tunable value the messaging core uses.
//
// Why one flat struct instead of per-package option types?
//   - The embedding app (storefront, admin dashboard) configures the whole
//     core in one place and hands the same Options to Session.
//   - Every timing window that used to be a scattered magic number gets a
//     named, documented field here. If you're wondering "why does mark-read
//     wait 300ms?", the answer lives next to the value.
type Options struct {
	// PushURL is the websocket endpoint of the push channel,
	// e.g. "wss://chat.example.com/v1/push".
	PushURL string

	// RestBaseURL is the base address of the REST collaborator that owns
	// persistence, e.g. "https://chat.example.com". Paths under /v1 are
	// appended by the rest client.
	RestBaseURL string

	LogLevel string
	Env      string

	// ConnectTimeout bounds a single websocket dial attempt. A dial that
	// exceeds it counts as a transient failure (retried), not an auth
	// failure.
	ConnectTimeout time.Duration

	// ReconnectDelay is the fixed pause between automatic reconnection
	// attempts. Fixed, not exponential: the server side rate-limits
	// handshakes, and a chat client that waits minutes to reconnect feels
	// broken to the person staring at it.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts caps consecutive automatic reconnects. Once
	// exhausted the manager stays Disconnected quietly until Connect is
	// called again; it never crashes the surface.
	MaxReconnectAttempts int

	// AuthFailureThreshold is how many consecutive credential rejections
	// trip the circuit breaker (Blocked state). After that, no connection
	// attempt leaves the process until a fresh credential arrives.
	AuthFailureThreshold int

	// RefreshDebounce coalesces directory refreshes triggered by messages
	// from unknown counterparties. A burst of N first-contact messages
	// causes one refresh, not N.
	RefreshDebounce time.Duration

	// MarkReadDelay is how long after selecting a conversation the read
	// acknowledgement fires. The delay gives the history load time to
	// land and the human time to actually look at the screen.
	MarkReadDelay time.Duration

	// ReceiptClearDelay is how long a counterparty stays in the
	// read-receipt in-flight set after its acknowledgement call returns.
	// Rapid double-invocations within this window coalesce into one call.
	ReceiptClearDelay time.Duration

	// HistoryPageSize bounds a single history fetch.
	HistoryPageSize int

	// PreviewMaxLen is the maximum rune count of a notification preview
	// before truncation.
	PreviewMaxLen int
}

// Load builds Options from defaults plus environment overrides.
//
// Only the deployment-shaped values (endpoints, env, log level) read the
// environment. The timing windows are behavioral tuning — an app that wants
// different ones sets the fields directly, the same way the database pool
// tuning is programmatic rather than env-driven.
func Load() *Options {
	opts := Defaults()
	opts.PushURL = GetEnv("CHATLINK_PUSH_URL", opts.PushURL)
	opts.RestBaseURL = GetEnv("CHATLINK_REST_URL", opts.RestBaseURL)
	opts.Env = GetEnv("ENV", opts.Env)
	opts.LogLevel = GetEnv("LOG_LEVEL", opts.LogLevel)
	return opts
}

// Defaults returns the documented default Options.
func Defaults() *Options {
	return &Options{
		PushURL:              "ws://localhost:8081/v1/push",
		RestBaseURL:          "http://localhost:8081",
		Env:                  "development",
		LogLevel:             "info",
		ConnectTimeout:       10 * time.Second,
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 5,
		AuthFailureThreshold: 3,
		RefreshDebounce:      400 * time.Millisecond,
		MarkReadDelay:        300 * time.Millisecond,
		ReceiptClearDelay:    1 * time.Second,
		HistoryPageSize:      100,
		PreviewMaxLen:        80,
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
