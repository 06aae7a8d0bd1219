package server

import (
	"fmt"
	"strconv"

	"tickfeed/src/models"
)

// -----------------------------------------------------------------------------

func parseLimit(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit '%s'", v)
	}
	return n, nil
}

// -----------------------------------------------------------------------------

// filterReports keeps the reports of the given datasets. An empty list keeps
// everything.
func filterReports(reports []models.MCycleReport, datasets []string) []models.MCycleReport {
	if len(datasets) == 0 {
		return reports
	}
	out := make([]models.MCycleReport, 0, len(reports))
	for _, r := range reports {
		if contains(datasets, r.Dataset) {
			out = append(out, r)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
