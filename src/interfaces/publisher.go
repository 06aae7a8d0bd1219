package interfaces

import (
	"context"

	"tickfeed/src/models"
)

// -----------------------------------------------------------------------------
// IPublisher forwards freshly merged bars to downstream consumers.
// -----------------------------------------------------------------------------

type IPublisher interface {
	PublishBars(ctx context.Context, id models.MDatasetID, bars []models.MBar) error
	Close() error
}
