package models

import (
	"sort"
	"strings"
	"time"
)

// Labels holds the categorical fields of a record or bar.
type Labels map[string]string

var keyEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, `=`, `\=`)

// -----------------------------------------------------------------------------

// Key builds the canonical group key over fields, in order. Separators inside
// names or values are backslash escaped.
func (l Labels) Key(fields []string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('|')
		}
		keyEscaper.WriteString(&b, f)
		b.WriteByte('=')
		keyEscaper.WriteString(&b, l[f])
	}
	return b.String()
}

// -----------------------------------------------------------------------------

// Select keeps only the named fields. Missing fields become empty values.
func (l Labels) Select(fields []string) Labels {
	out := make(Labels, len(fields))
	for _, f := range fields {
		out[f] = l[f]
	}
	return out
}

// -----------------------------------------------------------------------------

// Matches reports whether every filter entry is present with the same value.
func (l Labels) Matches(filter map[string]string) bool {
	for k, v := range filter {
		if l[k] != v {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------

// String renders the labels sorted by field name.
func (l Labels) String() string {
	fields := make([]string, 0, len(l))
	for f := range l {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return l.Key(fields)
}

// -----------------------------------------------------------------------------

// MBar is one aggregated window for one group key. Timestamp is the right
// edge of the window.
type MBar struct {
	Timestamp time.Time `json:"timestamp"`
	Group     Labels    `json:"group"`
	Price     float64   `json:"price"`
	Weight    float64   `json:"weight"`
	Count     int       `json:"count"`
}

// -----------------------------------------------------------------------------

// MDatasetID names a persisted dataset and optionally one partition of it.
type MDatasetID struct {
	Name      string            `json:"name"`
	Partition map[string]string `json:"partition,omitempty"`
}

func (id MDatasetID) String() string {
	if len(id.Partition) == 0 {
		return id.Name
	}
	return id.Name + "[" + Labels(id.Partition).String() + "]"
}
