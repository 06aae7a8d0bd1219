package interfaces

import (
	"context"
	"time"

	"tickfeed/src/dataset"
)

// -----------------------------------------------------------------------------
// IController is what the status surfaces (REST, gRPC) may ask of the update
// engine.
// -----------------------------------------------------------------------------

type IController interface {
	// Datasets lists the configured dataset names.
	Datasets() []string

	// Trigger starts a cycle of dataset in the background and returns its run id.
	Trigger(dataset string) (string, error)

	// Cursor returns the latest stored bar time of one asset.
	Cursor(ctx context.Context, dataset, asset string) (time.Time, error)

	// Load returns the stored rows of one asset.
	Load(ctx context.Context, dataset, asset string) (*dataset.Dataset, error)
}
