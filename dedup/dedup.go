// Package dedup suppresses duplicate webhook deliveries. An event is
// identified by its workspace, event type and payload id; the first
// check within the TTL window wins and every later check for the same
// key is reported as a duplicate.
package dedup

import (
	"context"
	"time"

	"github.com/liamcoop/automations/internal/logger"
)

// TTL bounds enforced on every Check, a second line behind startup
// validation so a bad caller cannot pin keys forever or disable
// suppression outright.
const (
	MinTTL = time.Minute
	MaxTTL = 24 * time.Hour
)

// Result of a dedup check.
type Result int

const (
	// Unique means this delivery is the first within the TTL window
	// and should be processed.
	Unique Result = iota
	// Duplicate means an earlier delivery already claimed the key.
	Duplicate
)

func (r Result) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "unique"
}

// Store records delivery keys. Check must be atomic: when two
// goroutines race on the same key exactly one observes Unique.
type Store interface {
	// Check claims key until expiry. It returns Unique when the claim
	// succeeded and Duplicate when a live claim already exists.
	Check(ctx context.Context, key string, ttl time.Duration) (Result, error)
	// Close releases background resources.
	Close() error
}

// Key builds the dedup key for one webhook delivery.
func Key(workspaceID, eventType, payloadID string) string {
	return workspaceID + "|" + eventType + "|" + payloadID
}

func clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl < MinTTL:
		logger.Warn("dedup TTL below minimum, clamping", "requested", ttl, "min", MinTTL)
		return MinTTL
	case ttl > MaxTTL:
		logger.Warn("dedup TTL above maximum, clamping", "requested", ttl, "max", MaxTTL)
		return MaxTTL
	}
	return ttl
}
