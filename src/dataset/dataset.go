package dataset

import (
	"sort"
	"time"

	"tickfeed/src/models"
)

type rowKey struct {
	group string
	ts    int64
}

// -----------------------------------------------------------------------------

// Dataset is the growing table of bars of one dataset. Rows are unique on
// (group key, timestamp).
type Dataset struct {
	Fields []string
	rows   map[rowKey]models.MBar
}

// -----------------------------------------------------------------------------

func New(fields []string) *Dataset {
	f := make([]string, len(fields))
	copy(f, fields)
	return &Dataset{Fields: f, rows: make(map[rowKey]models.MBar)}
}

// -----------------------------------------------------------------------------

// FromBars builds a dataset from bars. Later duplicates replace earlier ones.
func FromBars(fields []string, bars []models.MBar) *Dataset {
	ds := New(fields)
	for _, b := range bars {
		ds.Put(b)
	}
	return ds
}

// -----------------------------------------------------------------------------

func (d *Dataset) key(b models.MBar) rowKey {
	return rowKey{group: b.Group.Key(d.Fields), ts: b.Timestamp.UnixNano()}
}

// -----------------------------------------------------------------------------

// Put inserts or replaces the row with the same key. It reports whether the
// key was new.
func (d *Dataset) Put(b models.MBar) bool {
	b.Timestamp = b.Timestamp.UTC()
	b.Group = b.Group.Select(d.Fields)
	k := d.key(b)
	_, exists := d.rows[k]
	d.rows[k] = b
	return !exists
}

// -----------------------------------------------------------------------------

// Has reports whether a row with the key of b exists.
func (d *Dataset) Has(b models.MBar) bool {
	b.Group = b.Group.Select(d.Fields)
	_, ok := d.rows[d.key(b)]
	return ok
}

// -----------------------------------------------------------------------------

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rows)
}

// -----------------------------------------------------------------------------

// Rows returns every row sorted by timestamp then group key.
func (d *Dataset) Rows() []models.MBar {
	if d == nil {
		return nil
	}
	keys := make([]rowKey, 0, len(d.rows))
	for k := range d.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ts != keys[j].ts {
			return keys[i].ts < keys[j].ts
		}
		return keys[i].group < keys[j].group
	})

	out := make([]models.MBar, len(keys))
	for i, k := range keys {
		out[i] = d.rows[k]
	}
	return out
}

// -----------------------------------------------------------------------------

// Filter returns the rows whose group labels match filter.
func (d *Dataset) Filter(filter map[string]string) *Dataset {
	out := New(d.Fields)
	for k, b := range d.rows {
		if b.Group.Matches(filter) {
			out.rows[k] = b
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// Range returns the rows with from <= timestamp < to. Zero bounds are open.
func (d *Dataset) Range(from, to time.Time) []models.MBar {
	var out []models.MBar
	for _, b := range d.Rows() {
		if !from.IsZero() && b.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !b.Timestamp.Before(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// -----------------------------------------------------------------------------

// Groups lists the distinct group keys, sorted.
func (d *Dataset) Groups() []string {
	seen := make(map[string]bool)
	for k := range d.rows {
		seen[k.group] = true
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

func (d *Dataset) Clone() *Dataset {
	out := New(d.Fields)
	for k, b := range d.rows {
		out.rows[k] = b
	}
	return out
}

// -----------------------------------------------------------------------------

// Pivot is the wide view of a dataset: one row per timestamp and one column
// per group key. Missing cells are nil.
type Pivot struct {
	Timestamps []time.Time  `json:"timestamps"`
	Columns    []string     `json:"columns"`
	Values     [][]*float64 `json:"values"`
}

// Pivot reshapes the dataset by timestamp x group key.
func (d *Dataset) Pivot() Pivot {
	cols := d.Groups()
	colIdx := make(map[string]int, len(cols))
	for i, c := range cols {
		colIdx[c] = i
	}

	p := Pivot{Columns: cols}
	rowIdx := make(map[int64]int)
	for _, b := range d.Rows() {
		ts := b.Timestamp.UnixNano()
		i, ok := rowIdx[ts]
		if !ok {
			i = len(p.Timestamps)
			rowIdx[ts] = i
			p.Timestamps = append(p.Timestamps, b.Timestamp)
			p.Values = append(p.Values, make([]*float64, len(cols)))
		}
		price := b.Price
		p.Values[i][colIdx[b.Group.Key(d.Fields)]] = &price
	}
	return p
}
