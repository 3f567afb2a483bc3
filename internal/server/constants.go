// Package server provides the HTTP control API and the WebSocket event stream
package server

import "time"

// Server configuration constants
const (
	// Per-connection WebSocket command rate limiting
	RateLimitMessages = 30          // Max commands per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Outbound events buffered per WebSocket client before new ones are dropped
	ClientBuffer = 64

	// Deadline for one WebSocket write
	WriteTimeout = 2 * time.Second

	// Request body cap for REST commands
	MaxBodyBytes = 64 << 10

	// Upper bound for ?limit= on transcript listings
	MaxTranscriptLimit = 500
)
