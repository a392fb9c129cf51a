// Package query implements the public data endpoint's query pipeline builder:
// untrusted HTTP parameters are parsed eagerly into a typed Request, which is
// then turned into a deterministic SQL read plan plus a matching count-only
// plan, and into the measurement-series trim rules applied after scanning.
//
// The builder is deliberately permissive: malformed input never produces an
// error, every field degrades to its documented default or clamp boundary.
// All functions here are pure, so the parsing and planning rules are unit
// tested without any transport or database involvement.
package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Clamp boundaries and defaults for the pagination and trim parameters.
const (
	DefaultPage = 1
	MaxPage     = 1_000_000

	DefaultLimit = 50
	MaxLimit     = 200

	DefaultMeasurementLimit = 24
	MaxMeasurementLimit     = 24
)

// Request is the validated, typed form of the public data query parameters.
type Request struct {
	Page  int
	Limit int

	// Active filters on the point's active flag; nil matches both states.
	Active *bool

	// Point is an exact point_number match and, when set, wins over the range.
	Point    *int
	PointMin *int
	PointMax *int

	// StartFrom/StartTo bound start_date by calendar month (UTC). StartTo is
	// already converted to its exclusive upper bound (first instant of the
	// following month).
	StartFrom *time.Time
	StartTo   *time.Time

	// IncludeMeasurements controls whether the measurements array is returned
	// at all; the endpoint is lean by default.
	IncludeMeasurements bool

	// MeasurementsFrom/MeasurementsTo window the measurement entries by month;
	// MeasurementsTo is the exclusive upper bound.
	MeasurementsFrom *time.Time
	MeasurementsTo   *time.Time

	LatestOnly       bool
	MeasurementLimit int
}

// Skip returns the pagination offset.
func (r *Request) Skip() int {
	return (r.Page - 1) * r.Limit
}

// Parse builds a Request from raw URL parameters. It never fails; see the
// package comment for the degradation rules.
func Parse(values url.Values) Request {
	r := Request{
		Page:             clampInt(values.Get("page"), DefaultPage, 1, MaxPage),
		Limit:            clampInt(values.Get("limit"), DefaultLimit, 1, MaxLimit),
		Active:           parseBoolFilter(values.Get("active")),
		MeasurementLimit: clampInt(values.Get("mLimit"), DefaultMeasurementLimit, 1, MaxMeasurementLimit),
	}

	if p, ok := parseInt(values.Get("point")); ok {
		r.Point = &p
	} else {
		// Range bounds only apply when no exact point filter parsed.
		if mn, ok := parseInt(values.Get("pointMin")); ok {
			r.PointMin = &mn
		}
		if mx, ok := parseInt(values.Get("pointMax")); ok {
			r.PointMax = &mx
		}
	}

	if t, ok := parseMonth(values.Get("startFrom")); ok {
		r.StartFrom = &t
	}
	if t, ok := parseMonth(values.Get("startTo")); ok {
		upper := t.AddDate(0, 1, 0)
		r.StartTo = &upper
	}

	r.IncludeMeasurements = parseBool(values.Get("includeMeasurements"))
	r.LatestOnly = parseBool(values.Get("latestOnly"))

	if t, ok := parseMonth(values.Get("mFrom")); ok {
		r.MeasurementsFrom = &t
	}
	if t, ok := parseMonth(values.Get("mTo")); ok {
		upper := t.AddDate(0, 1, 0)
		r.MeasurementsTo = &upper
	}

	return r
}

// clampInt parses s, substitutes def when it is not an integer, and clamps
// the result into [min, max].
func clampInt(s string, def, min, max int) int {
	n, ok := parseInt(s)
	if !ok {
		n = def
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseBoolFilter returns a pointer only for the exact values "true" and
// "false"; anything else omits the filter entirely.
func parseBoolFilter(s string) *bool {
	switch s {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}

// parseBool is the permissive flag form: only an explicit truthy value
// enables the flag.
func parseBool(s string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && v
}

// parseMonth parses a "YYYY-MM" value into the first instant of that UTC month.
func parseMonth(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), true
}
