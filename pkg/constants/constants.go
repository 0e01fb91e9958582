// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// WebSocketWriteWait is the deadline for a single frame write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// PresenceMirrorTimeout bounds a single Redis presence write
	PresenceMirrorTimeout = 2 * time.Second

	// RingSweepInterval is how often ringing sessions are checked for expiry
	RingSweepInterval = 5 * time.Second

	// AccessTokenDuration is the lifetime of access tokens issued by GenerateAccessToken
	AccessTokenDuration = 15 * time.Minute

	// SinkCooldown is how long the call log breaker stays open before probing
	SinkCooldown = 10 * time.Second

	// RateLimitWindow is the fixed window used by the HTTP rate limiter
	RateLimitWindow = time.Minute
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// SinkFailureThreshold is the number of consecutive call log failures that opens the breaker
const SinkFailureThreshold = 3

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Validation constants
const (
	// MaxParticipantIDLength bounds participant identities accepted on the wire
	MaxParticipantIDLength = 128
)
