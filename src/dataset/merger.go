package dataset

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"tickfeed/src/helpers"
	"tickfeed/src/models"
)

// KeepPolicy decides which row survives when old and new share a key.
type KeepPolicy string

const (
	KeepLast  KeepPolicy = "last"  // new wins
	KeepFirst KeepPolicy = "first" // old wins
)

// -----------------------------------------------------------------------------

func ParseKeepPolicy(s string) (KeepPolicy, error) {
	switch KeepPolicy(s) {
	case "", KeepLast:
		return KeepLast, nil
	case KeepFirst:
		return KeepFirst, nil
	}
	return "", helpers.NewMergeKeyConflict(fmt.Sprintf("unknown keep policy '%s'", s))
}

// -----------------------------------------------------------------------------

// MergeStats counts what a merge changed.
type MergeStats struct {
	Added    int
	Replaced int
	Kept     int
}

// -----------------------------------------------------------------------------

// Merge concatenates the rows of old with incoming and removes duplicate
// keys according to policy. Duplicates inside incoming are resolved the same
// way. old is not modified. Merging the same incoming rows twice gives the
// same dataset as merging them once.
func Merge(old *Dataset, incoming []models.MBar, fields []string, policy KeepPolicy) (*Dataset, MergeStats, error) {
	var stats MergeStats
	if policy != KeepLast && policy != KeepFirst {
		return nil, stats, helpers.NewMergeKeyConflict(fmt.Sprintf("unknown keep policy '%s'", policy))
	}

	var out *Dataset
	if old == nil {
		out = New(fields)
	} else {
		if !slices.Equal(old.Fields, fields) {
			return nil, stats, helpers.NewMergeKeyConflict(
				fmt.Sprintf("group fields %v do not match stored fields %v", fields, old.Fields))
		}
		out = old.Clone()
	}

	seen := make(map[rowKey]bool, len(incoming))
	for _, b := range incoming {
		b.Group = b.Group.Select(fields)
		b.Timestamp = b.Timestamp.UTC()
		k := out.key(b)
		_, existed := out.rows[k]

		switch {
		case !existed:
			out.rows[k] = b
			stats.Added++
		case policy == KeepLast:
			out.rows[k] = b
			if !seen[k] {
				stats.Replaced++
			}
		case policy == KeepFirst:
			stats.Kept++
		}
		seen[k] = true
	}

	return out, stats, nil
}

// -----------------------------------------------------------------------------

// Delta returns the rows of merged at the keys of incoming that are missing
// from old or differ from it. Saving the delta over old gives merged.
func Delta(old, merged *Dataset, incoming []models.MBar) *Dataset {
	out := New(merged.Fields)
	for _, b := range incoming {
		b.Group = b.Group.Select(merged.Fields)
		b.Timestamp = b.Timestamp.UTC()
		k := merged.key(b)
		row, ok := merged.rows[k]
		if !ok {
			continue
		}
		if old != nil {
			if prev, existed := old.rows[k]; existed && sameValues(prev, row) {
				continue
			}
		}
		out.rows[k] = row
	}
	return out
}

func sameValues(a, b models.MBar) bool {
	return a.Price == b.Price && a.Weight == b.Weight && a.Count == b.Count
}

// -----------------------------------------------------------------------------

// ResumePoint returns the latest bar timestamp among the rows matching
// filter, or fallback when there is none.
func ResumePoint(ds *Dataset, filter map[string]string, fallback time.Time) time.Time {
	if ds == nil {
		return fallback
	}
	var latest time.Time
	found := false
	for _, b := range ds.rows {
		if !b.Group.Matches(filter) {
			continue
		}
		if !found || b.Timestamp.After(latest) {
			latest = b.Timestamp
			found = true
		}
	}
	if !found {
		return fallback
	}
	return latest
}

// -----------------------------------------------------------------------------

// Merger serialises merges per key so that two cycles never write the same
// (dataset, partition) at the same time.
type Merger struct {
	Policy KeepPolicy

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMerger(policy KeepPolicy) *Merger {
	return &Merger{Policy: policy, locks: make(map[string]*sync.Mutex)}
}

// -----------------------------------------------------------------------------

// Lock acquires the lock for key and returns its release function.
func (m *Merger) Lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// -----------------------------------------------------------------------------

// Merge applies Merge with the merger's policy.
func (m *Merger) Merge(old *Dataset, incoming []models.MBar, fields []string) (*Dataset, MergeStats, error) {
	return Merge(old, incoming, fields, m.Policy)
}
