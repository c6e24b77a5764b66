// Package dedup suppresses replayed webhook deliveries. Entries are keyed
// by a hash of delivery id and payload, so a provider redelivering the same
// event is caught while a new delivery reusing an id is not.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Defaults per configuration knobs.
const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 10000
)

// Stats is a point-in-time view of a checker.
type Stats struct {
	Size       int   `json:"size"`
	MaxEntries int   `json:"maxEntries"`
	TTLMs      int64 `json:"ttlMs"`
}

// Checker answers whether a delivery was already seen, recording it as
// seen when not. Implementations are safe for concurrent use.
type Checker interface {
	IsDuplicate(ctx context.Context, payload []byte, deliveryID string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}

// Key derives the dedup cache key: sha256(deliveryID ":" payload), hex.
func Key(payload []byte, deliveryID string) string {
	h := sha256.New()
	h.Write([]byte(deliveryID))
	h.Write([]byte(":"))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
