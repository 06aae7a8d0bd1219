package models

import "time"

// MCycleReport summarises one update cycle of a dataset partition.
type MCycleReport struct {
	RunID      string    `json:"run_id"`
	Dataset    string    `json:"dataset"`
	Asset      string    `json:"asset"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	FetchStart time.Time `json:"fetch_start"`
	Cursor     time.Time `json:"cursor"`
	Pages      int       `json:"pages"`
	Records    int       `json:"records"`
	Flushes    int       `json:"flushes"`
	NewBars    int       `json:"new_bars"`
	TotalBars  int       `json:"total_bars"`
	Retries    int       `json:"retries"`
	Duplicates int       `json:"duplicates"`
	Dropped    int       `json:"dropped"`
	Cancelled  bool      `json:"cancelled"`
	Error      string    `json:"error,omitempty"`
}

// -----------------------------------------------------------------------------

// MHubEvent is pushed to websocket subscribers.
type MHubEvent struct {
	Type      string         `json:"type"` // "CYCLE" or "SNAPSHOT"
	Report    *MCycleReport  `json:"report,omitempty"`
	Reports   []MCycleReport `json:"reports,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// SubscribeCommand for client messages
// -----------------------------------------------------------------------------

type MSubscribeCommand struct {
	Command  string   `json:"command"`
	Datasets []string `json:"datasets"`
}
