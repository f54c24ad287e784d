// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection command rate limiting
	RateLimitMessages = 10          // Max commands per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Search result bounds
	DefaultSearchLimit = 5
	MaxSearchLimit     = 25
)
