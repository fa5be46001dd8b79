package db

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StatusSummary describes the present values recorded for one status pair.
type StatusSummary struct {
	Status1 uint8   `json:"status1"`
	Status2 uint8   `json:"status2"`
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	// Recovered counts samples that arrived through history replay.
	Recovered int `json:"recovered"`
}

// SummaryByStatus groups stored samples by (status1, status2), ordered by key.
func (db *DB) SummaryByStatus() ([]StatusSummary, error) {
	rows, err := db.Query(
		`SELECT status1, status2, present_value, recovered FROM tspv_samples ORDER BY status1, status2`)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var (
		out    []StatusSummary
		values []float64
		cur    *StatusSummary
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Count = len(values)
		cur.Min = floats.Min(values)
		cur.Max = floats.Max(values)
		if len(values) > 1 {
			cur.Mean, cur.StdDev = stat.MeanStdDev(values, nil)
		} else {
			cur.Mean = values[0]
		}
		if math.IsNaN(cur.StdDev) {
			cur.StdDev = 0
		}
		out = append(out, *cur)
	}

	for rows.Next() {
		var (
			s1, s2    uint8
			value     float64
			recovered bool
		)
		if err := rows.Scan(&s1, &s2, &value, &recovered); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if cur == nil || cur.Status1 != s1 || cur.Status2 != s2 {
			flush()
			cur = &StatusSummary{Status1: s1, Status2: s2}
			values = values[:0]
		}
		values = append(values, value)
		if recovered {
			cur.Recovered++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}
