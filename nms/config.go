package nms

import "time"

// Config controls how the client connects and refreshes.
type Config struct {
	WSURL       string // realtime endpoint, e.g. "wss://nms.example.com/rt"
	RESTBaseURL string // REST API base, e.g. "https://nms.example.com/api"
	StorePath   string // sqlite file for durable state; empty means in-memory

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	// Reconnect policy: a fixed delay between a bounded number of attempts.
	// The counter resets to zero on any successful reconnection.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// Subscription replay is retried once after this delay when the replay
	// set is empty at reconnect time (dependent data not yet loaded).
	ReplayRetryDelay time.Duration

	// RefreshLead is how long before token expiry a refresh is triggered.
	RefreshLead time.Duration

	// ExpiryCheckInterval is how often the local expiry watch re-decodes
	// the token. No network calls are made by the watch.
	ExpiryCheckInterval time.Duration

	// PersistDebounce batches unread-counter writes to the durable store.
	PersistDebounce time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       3 * time.Second,
		ReplayRetryDelay:     2 * time.Second,
		RefreshLead:          10 * time.Minute,
		ExpiryCheckInterval:  time.Minute,
		PersistDebounce:      200 * time.Millisecond,
	}
}
