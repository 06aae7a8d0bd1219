package storage

import (
	"fmt"
	"regexp"
	"strings"

	"tickfeed/src/models"
)

const metaTable = "tickfeed_datasets"

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reserved column names of a bars table
var barColumns = []string{"timestamp", "price", "weight", "count"}

// -----------------------------------------------------------------------------

// TableName returns the bars table of a dataset.
func TableName(dataset string) (string, error) {
	if !identRe.MatchString(dataset) {
		return "", fmt.Errorf("invalid dataset name '%s'", dataset)
	}
	return "bars_" + dataset, nil
}

// -----------------------------------------------------------------------------

// checkFields validates group field names for use as column names.
func checkFields(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("at least one group field is required")
	}
	seen := make(map[string]bool)
	for _, f := range fields {
		if !identRe.MatchString(f) {
			return fmt.Errorf("invalid group field '%s'", f)
		}
		for _, c := range barColumns {
			if f == c {
				return fmt.Errorf("group field '%s' collides with a bar column", f)
			}
		}
		if seen[f] {
			return fmt.Errorf("group field '%s' listed twice", f)
		}
		seen[f] = true
	}
	return nil
}

// -----------------------------------------------------------------------------

// partitionFilter returns the partition entries ordered like fields. Keys not
// in fields are rejected.
func partitionFilter(id models.MDatasetID, fields []string) ([]string, []interface{}, error) {
	var cols []string
	var vals []interface{}
	for k := range id.Partition {
		found := false
		for _, f := range fields {
			if f == k {
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("partition key '%s' is not a group field of %s", k, id.Name)
		}
	}
	for _, f := range fields {
		if v, ok := id.Partition[f]; ok {
			cols = append(cols, f)
			vals = append(vals, v)
		}
	}
	return cols, vals, nil
}

// -----------------------------------------------------------------------------

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
