package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Measurement is one dated reading in a point's series. Exactly one of Value
// or NoMeasurement is meaningful: a real reading carries Value, a recorded
// gap carries NoMeasurement=true and no Value.
type Measurement struct {
	Date          time.Time `json:"date"`
	Value         *float64  `json:"value,omitempty"`
	NoMeasurement bool      `json:"noMeasurement,omitempty"`
}

// MeasurementSeries is the JSONB-backed measurements column. Implementing
// sql.Scanner and driver.Valuer lets sqlx scan the column straight into the
// struct field.
type MeasurementSeries []Measurement

// Scan implements sql.Scanner for JSONB columns.
func (s *MeasurementSeries) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported measurements column type %T", src)
	}
}

// Value implements driver.Valuer.
func (s MeasurementSeries) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// MeasurementPoint is one groundwater monitoring point and its reading series.
type MeasurementPoint struct {
	ID           string            `db:"id" json:"-"`
	PointNumber  int               `db:"point_number" json:"point_number"`
	Lat          float64           `db:"lat" json:"-"`
	Lon          float64           `db:"lon" json:"-"`
	Description  string            `db:"description" json:"description"`
	StartDate    *time.Time        `db:"start_date" json:"start_date,omitempty"`
	Active       bool              `db:"active" json:"active"`
	Measurements MeasurementSeries `db:"measurements" json:"measurements,omitempty"`
}

// Coordinates is the wire form of a point's location.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// MarshalJSON nests lat/lon under a coordinates object, matching the public
// response shape, while keeping the flat columns for scanning.
func (p MeasurementPoint) MarshalJSON() ([]byte, error) {
	type alias MeasurementPoint
	return json.Marshal(struct {
		alias
		Coordinates Coordinates `json:"coordinates"`
	}{
		alias:       alias(p),
		Coordinates: Coordinates{Lat: p.Lat, Lon: p.Lon},
	})
}
