package interfaces

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// IPageCache memoises raw upstream pages by content addressed key.
// -----------------------------------------------------------------------------

type IPageCache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key. A zero ttl keeps it forever.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Close() error
}
