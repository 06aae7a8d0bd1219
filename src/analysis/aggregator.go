package analysis

import (
	"sort"
	"time"

	"tickfeed/src/analysis/core"
	"tickfeed/src/logger"
	"tickfeed/src/models"
)

type bucketKey struct {
	label int64
	group string
}

type bucket struct {
	label   time.Time
	group   models.Labels
	samples []core.Sample
}

// -----------------------------------------------------------------------------

// Aggregate turns raw records into one volume weighted bar per (window label,
// group key). Buckets with zero total weight and non finite samples are
// dropped. The output is sorted by timestamp then group key and does not
// depend on the input order.
func Aggregate(records []models.MRawRecord, window Window, fields []string) []models.MBar {
	buckets := make(map[bucketKey]*bucket)

	for _, r := range records {
		s := core.Sample{Price: r.Price, Weight: r.Weight}
		if !core.ValidSample(s) {
			continue
		}
		labels := models.Labels(r.Labels)
		label := window.Label(r.Timestamp)
		key := bucketKey{label: label.UnixNano(), group: labels.Key(fields)}

		b, ok := buckets[key]
		if !ok {
			b = &bucket{label: label, group: labels.Select(fields)}
			buckets[key] = b
		}
		b.samples = append(b.samples, s)
	}

	bars := make([]models.MBar, 0, len(buckets))
	for _, b := range buckets {
		price, weight, ok := core.WeightedMean(b.samples)
		if !ok {
			continue
		}
		bars = append(bars, models.MBar{
			Timestamp: b.label,
			Group:     b.group,
			Price:     price,
			Weight:    weight,
			Count:     len(b.samples),
		})
	}

	SortBars(bars, fields)
	return bars
}

// -----------------------------------------------------------------------------

// SortBars orders bars by timestamp then group key.
func SortBars(bars []models.MBar, fields []string) {
	sort.Slice(bars, func(i, j int) bool {
		if !bars[i].Timestamp.Equal(bars[j].Timestamp) {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		}
		return bars[i].Group.Key(fields) < bars[j].Group.Key(fields)
	})
}

// -----------------------------------------------------------------------------

// Aggregator aggregates the chunks flushed by a cursor walk. Records of the
// window that is still open at the end of a chunk are held back and joined
// with the next chunk so no window is emitted from a partial sample.
type Aggregator struct {
	Window Window
	Fields []string
	Logger *logger.Logger

	pending []models.MRawRecord
}

func NewAggregator(window Window, fields []string, log *logger.Logger) *Aggregator {
	return &Aggregator{Window: window, Fields: fields, Logger: log}
}

// -----------------------------------------------------------------------------

// Chunk aggregates records together with anything held back. When final is
// false the records of the latest window are kept for the next call.
func (a *Aggregator) Chunk(records []models.MRawRecord, final bool) []models.MBar {
	all := append(a.pending, records...)
	a.pending = nil
	if len(all) == 0 {
		return nil
	}

	if !final {
		var latest time.Time
		for _, r := range all {
			if r.Timestamp.After(latest) {
				latest = r.Timestamp
			}
		}
		open := a.Window.Label(latest)

		ready := make([]models.MRawRecord, 0, len(all))
		for _, r := range all {
			if a.Window.Label(r.Timestamp).Equal(open) {
				a.pending = append(a.pending, r)
			} else {
				ready = append(ready, r)
			}
		}
		all = ready
	}

	bars := Aggregate(all, a.Window, a.Fields)
	if a.Logger != nil {
		a.Logger.Debug("Aggregated %d records into %d bars (%d held back)", len(all), len(bars), len(a.pending))
	}
	return bars
}

// -----------------------------------------------------------------------------

// Pending returns the number of records held back.
func (a *Aggregator) Pending() int {
	return len(a.pending)
}
