package utils

import (
	"sort"
	"sync"

	"tickfeed/src/models"
)

// -----------------------------------------------------------------------------
// ReportBook keeps the most recent cycle reports per dataset.
// -----------------------------------------------------------------------------

type ReportBook struct {
	streams  map[string]*RingBuffer[models.MCycleReport]
	capacity int
	mu       sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewReportBook(capacity int) *ReportBook {
	return &ReportBook{
		streams:  make(map[string]*RingBuffer[models.MCycleReport]),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

func (b *ReportBook) Add(report models.MCycleReport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rb, ok := b.streams[report.Dataset]
	if !ok {
		rb = NewRingBuffer[models.MCycleReport](b.capacity)
		b.streams[report.Dataset] = rb
	}
	rb.Append(report)
}

// -----------------------------------------------------------------------------

// Latest returns up to n reports of dataset, oldest first. An empty dataset
// name returns the reports of every dataset sorted by finish time.
func (b *ReportBook) Latest(dataset string, n int) []models.MCycleReport {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if dataset != "" {
		rb, ok := b.streams[dataset]
		if !ok {
			return []models.MCycleReport{}
		}
		return rb.GetLatest(n)
	}

	var all []models.MCycleReport
	for _, rb := range b.streams {
		all = append(all, rb.GetAll()...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].FinishedAt.Before(all[j].FinishedAt)
	})
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	if all == nil {
		all = []models.MCycleReport{}
	}
	return all
}

// -----------------------------------------------------------------------------

// LastFor returns the newest report of (dataset, asset).
func (b *ReportBook) LastFor(dataset, asset string) (models.MCycleReport, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rb, ok := b.streams[dataset]
	if !ok {
		return models.MCycleReport{}, false
	}
	items := rb.GetAll()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Asset == asset {
			return items[i], true
		}
	}
	return models.MCycleReport{}, false
}
