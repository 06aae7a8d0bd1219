package interfaces

import (
	"context"
	"time"

	"tickfeed/src/models"
)

// -----------------------------------------------------------------------------
// ISource is one paginated upstream endpoint bound to a single asset.
// -----------------------------------------------------------------------------

type ISource interface {

	// Name returns the unique identifier of the source, e.g. "kraken_trades:btc".
	Name() string

	// -----------------------------------------------------------------------------

	// FetchPage returns the records starting at cursor. An empty page means the
	// upstream has nothing newer.
	FetchPage(ctx context.Context, cursor time.Time) (models.MPage, error)
}
