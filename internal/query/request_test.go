package query

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	r := Parse(url.Values{})

	assert.Equal(t, 1, r.Page)
	assert.Equal(t, 50, r.Limit)
	assert.Nil(t, r.Active)
	assert.Nil(t, r.Point)
	assert.Nil(t, r.PointMin)
	assert.Nil(t, r.PointMax)
	assert.Nil(t, r.StartFrom)
	assert.Nil(t, r.StartTo)
	assert.False(t, r.IncludeMeasurements)
	assert.False(t, r.LatestOnly)
	assert.Equal(t, 24, r.MeasurementLimit)
}

func TestParsePageClamping(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"valid", "7", 7},
		{"zero clamps up", "0", 1},
		{"negative clamps up", "-3", 1},
		{"huge clamps down", "99999999", 1_000_000},
		{"garbage falls back", "abc", 1},
		{"empty falls back", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(url.Values{"page": {tt.raw}})
			assert.Equal(t, tt.want, r.Page)
		})
	}
}

func TestParseLimitClamping(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"valid", "100", 100},
		{"zero clamps up", "0", 1},
		{"over max clamps down", "500", 200},
		{"garbage falls back", "lots", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(url.Values{"limit": {tt.raw}})
			assert.Equal(t, tt.want, r.Limit)
		})
	}
}

func TestParseActiveFilter(t *testing.T) {
	r := Parse(url.Values{"active": {"true"}})
	require.NotNil(t, r.Active)
	assert.True(t, *r.Active)

	r = Parse(url.Values{"active": {"false"}})
	require.NotNil(t, r.Active)
	assert.False(t, *r.Active)

	// Anything but the exact literals drops the filter.
	for _, raw := range []string{"1", "TRUE", "yes", "maybe", ""} {
		r = Parse(url.Values{"active": {raw}})
		assert.Nil(t, r.Active, "raw=%q", raw)
	}
}

func TestParseExactPointOverridesRange(t *testing.T) {
	r := Parse(url.Values{
		"point":    {"42"},
		"pointMin": {"10"},
		"pointMax": {"90"},
	})

	require.NotNil(t, r.Point)
	assert.Equal(t, 42, *r.Point)
	assert.Nil(t, r.PointMin)
	assert.Nil(t, r.PointMax)
}

func TestParsePointRangeWhenExactInvalid(t *testing.T) {
	r := Parse(url.Values{
		"point":    {"not-a-number"},
		"pointMin": {"10"},
		"pointMax": {"90"},
	})

	assert.Nil(t, r.Point)
	require.NotNil(t, r.PointMin)
	require.NotNil(t, r.PointMax)
	assert.Equal(t, 10, *r.PointMin)
	assert.Equal(t, 90, *r.PointMax)
}

func TestParseMonthBounds(t *testing.T) {
	r := Parse(url.Values{
		"startFrom": {"2019-03"},
		"startTo":   {"2019-12"},
	})

	require.NotNil(t, r.StartFrom)
	require.NotNil(t, r.StartTo)
	assert.Equal(t, time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC), *r.StartFrom)
	// Upper bound is exclusive: the whole of December 2019 is included.
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), *r.StartTo)
}

func TestParseMonthRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"2019", "2019-13", "2019-3", "03-2019", "soon"} {
		r := Parse(url.Values{"startFrom": {raw}})
		assert.Nil(t, r.StartFrom, "raw=%q", raw)
	}
}

func TestParseMeasurementFlags(t *testing.T) {
	r := Parse(url.Values{
		"includeMeasurements": {"true"},
		"latestOnly":          {"true"},
		"mLimit":              {"6"},
		"mFrom":               {"2021-01"},
		"mTo":                 {"2021-06"},
	})

	assert.True(t, r.IncludeMeasurements)
	assert.True(t, r.LatestOnly)
	assert.Equal(t, 6, r.MeasurementLimit)
	require.NotNil(t, r.MeasurementsFrom)
	require.NotNil(t, r.MeasurementsTo)
	assert.Equal(t, time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC), *r.MeasurementsTo)
}

func TestParseMeasurementLimitClamp(t *testing.T) {
	r := Parse(url.Values{"mLimit": {"100"}})
	assert.Equal(t, 24, r.MeasurementLimit)

	r = Parse(url.Values{"mLimit": {"0"}})
	assert.Equal(t, 1, r.MeasurementLimit)
}

func TestSkip(t *testing.T) {
	r := Request{Page: 3, Limit: 50}
	assert.Equal(t, 100, r.Skip())

	r = Request{Page: 1, Limit: 200}
	assert.Equal(t, 0, r.Skip())
}
