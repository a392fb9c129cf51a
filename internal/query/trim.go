package query

import (
	"sort"

	"github.com/JamieBuffing/kumasi-data-api/internal/db/models"
)

// needsTrim reports whether the measurement series has to be post-processed.
// With no window, no latestOnly and the default cap, the stored series passes
// through untouched.
func (r *Request) needsTrim() bool {
	return r.MeasurementsFrom != nil ||
		r.MeasurementsTo != nil ||
		r.LatestOnly ||
		r.MeasurementLimit != DefaultMeasurementLimit
}

// TrimMeasurements applies the measurement window and cap to a stored series:
// entries outside [MeasurementsFrom, MeasurementsTo) are dropped, the newest
// N surviving entries are kept (N=1 when LatestOnly), and the result is
// returned oldest first. The input slice is never mutated.
func (r *Request) TrimMeasurements(series models.MeasurementSeries) models.MeasurementSeries {
	if !r.IncludeMeasurements {
		return nil
	}
	if !r.needsTrim() {
		return series
	}

	kept := make(models.MeasurementSeries, 0, len(series))
	for _, m := range series {
		if r.MeasurementsFrom != nil && m.Date.Before(*r.MeasurementsFrom) {
			continue
		}
		if r.MeasurementsTo != nil && !m.Date.Before(*r.MeasurementsTo) {
			continue
		}
		kept = append(kept, m)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Date.After(kept[j].Date)
	})

	n := r.MeasurementLimit
	if r.LatestOnly {
		n = 1
	}
	if len(kept) > n {
		kept = kept[:n]
	}

	// Reverse back to chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
