// Package dedup suppresses repeated scheduling of the same notification
// within a time window.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"notifyengine/internal/model"
)

// DefaultFloor is the minimum suppression window.
const DefaultFloor = time.Hour

// Store remembers fingerprints until they expire.
type Store interface {
	// ShouldSuppress reports whether key is recorded and unexpired.
	ShouldSuppress(ctx context.Context, key string) bool
	// Record inserts key iff no unexpired entry exists. It returns false
	// when another caller already holds the key.
	Record(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release removes key so that a failed schedule can be retried.
	Release(ctx context.Context, key string) error
	// CleanupExpired drops expired entries and returns how many it removed.
	CleanupExpired(ctx context.Context) (int, error)
}

// Fingerprint identifies one (user, trigger, rule, context) combination.
// The suppression window comes from the TTL, not the hash input.
func Fingerprint(userID string, trigger model.TriggerType, ruleID, contextID string) string {
	h := sha256.New()
	for _, part := range []string{userID, string(trigger), ruleID, contextID} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TTL returns max(2*delay, floor).
func TTL(delay, floor time.Duration) time.Duration {
	if ttl := 2 * delay; ttl > floor {
		return ttl
	}
	return floor
}
