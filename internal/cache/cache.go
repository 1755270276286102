package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Store keeps AI edit results keyed by content so repeated renders of the
// same panels skip the model calls.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Key derives a cache key from an operation name and the input bytes.
func Key(op string, data []byte) string {
	sum := sha256.Sum256(data)
	return "panelreel:" + op + ":" + hex.EncodeToString(sum[:])
}

// DefaultTTL applies when the configured TTL is not positive.
const DefaultTTL = 24 * time.Hour
