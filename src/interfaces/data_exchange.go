package interfaces

import "tickfeed/src/models"

// -----------------------------------------------------------------------------
// IDataExchanger defines the interface for sharing cycle results with
// external systems (Server/Push).
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Broadcast pushes an event to connected listeners.
	Broadcast(event models.MHubEvent)

	// -----------------------------------------------------------------------------
	// RecordReport stores a cycle report for the status endpoints without broadcasting.
	RecordReport(report models.MCycleReport)

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
