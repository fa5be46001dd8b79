package db

import (
	"fmt"
	"sort"
)

// SeriesPoint is one timed present value.
type SeriesPoint struct {
	Epoch int64
	Value float64
}

// StatusSeries is the time series of one (status1, status2) pair.
type StatusSeries struct {
	Status1 uint8
	Status2 uint8
	Points  []SeriesPoint
}

// Label names the series by its status pair, e.g. "1/2".
func (s StatusSeries) Label() string {
	return fmt.Sprintf("%d/%d", s.Status1, s.Status2)
}

// SeriesByStatus groups timed samples by status pair. Series are ordered by
// status pair and points by epoch; samples without an epoch are left out.
func SeriesByStatus(samples []StoredSample) []StatusSeries {
	index := make(map[[2]uint8]int)
	var out []StatusSeries
	for _, s := range samples {
		if s.Epoch == nil {
			continue
		}
		key := [2]uint8{s.Status1, s.Status2}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, StatusSeries{Status1: s.Status1, Status2: s.Status2})
		}
		out[i].Points = append(out[i].Points, SeriesPoint{Epoch: *s.Epoch, Value: float64(s.PresentValue)})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Status1 != out[b].Status1 {
			return out[a].Status1 < out[b].Status1
		}
		return out[a].Status2 < out[b].Status2
	})
	for _, s := range out {
		sort.SliceStable(s.Points, func(a, b int) bool { return s.Points[a].Epoch < s.Points[b].Epoch })
	}
	return out
}
