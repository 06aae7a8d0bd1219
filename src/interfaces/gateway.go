package interfaces

import (
	"context"

	"tickfeed/src/dataset"
	"tickfeed/src/models"
)

// -----------------------------------------------------------------------------
// IGateway defines the contract for dataset persistence.
// -----------------------------------------------------------------------------

type IGateway interface {

	// -----------------------------------------------------------------------------

	// Load returns the stored rows of id. Unknown datasets yield helpers.ErrNotFound.
	Load(ctx context.Context, id models.MDatasetID, fields []string) (*dataset.Dataset, error)

	// -----------------------------------------------------------------------------

	// Save upserts the rows of ds. Stored rows under other keys are kept.
	Save(ctx context.Context, id models.MDatasetID, ds *dataset.Dataset) error

	// -----------------------------------------------------------------------------

	// Datasets lists the names of the persisted datasets.
	Datasets(ctx context.Context) ([]string, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
