package cache

import (
	"context"
	"time"
)

// Cache provides a generic caching interface with TTL support. Services treat
// cache failures as telemetry-grade: logged, never propagated into compliance
// judgments.
type Cache interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with optional TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// GetJSON retrieves and unmarshals JSON data
	GetJSON(ctx context.Context, key string, dest interface{}) error

	// SetJSON marshals and stores JSON data
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// Key prefixes for consistent cache key naming
const (
	EligibilityPrefix = "txp:grant:eligibility:"
	MilestonePrefix   = "txp:grant:milestone:"
	CompliancePrefix  = "txp:compliance:status:"
)

// Common TTL values
const (
	DefaultTTL     = 1 * time.Hour
	EligibilityTTL = 4 * time.Hour
	StatusTTL      = 10 * time.Minute
)

// ErrCacheKeyNotFound is returned when a cache key doesn't exist
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return "cache key not found: " + e.Key
}
