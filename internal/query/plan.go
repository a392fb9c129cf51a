package query

import (
	"fmt"
	"strings"
)

// baseColumns is the projection without the measurements payload. The internal
// row id is never selected.
var baseColumns = []string{"point_number", "lat", "lon", "description", "start_date", "active"}

// Plan is the executable form of a Request: one paginated read statement and
// one count statement sharing the same filter.
type Plan struct {
	SelectSQL  string
	SelectArgs []interface{}
	CountSQL   string
	CountArgs  []interface{}

	// IncludeMeasurements is carried through so the executor knows whether the
	// measurements column is part of the row.
	IncludeMeasurements bool
}

// BuildPlan compiles a Request into its SQL plan. Results are always ordered
// by point_number ascending so pagination is stable.
func BuildPlan(r Request) Plan {
	where, args := buildFilter(r)

	cols := baseColumns
	if r.IncludeMeasurements {
		cols = append(append([]string{}, baseColumns...), "measurements")
	}

	var sel strings.Builder
	sel.WriteString("SELECT ")
	sel.WriteString(strings.Join(cols, ", "))
	sel.WriteString(" FROM measurement_points")
	sel.WriteString(where)
	sel.WriteString(" ORDER BY point_number ASC")
	sel.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2))

	selectArgs := append(append([]interface{}{}, args...), r.Limit, r.Skip())

	return Plan{
		SelectSQL:           sel.String(),
		SelectArgs:          selectArgs,
		CountSQL:            "SELECT COUNT(*) FROM measurement_points" + where,
		CountArgs:           args,
		IncludeMeasurements: r.IncludeMeasurements,
	}
}

// buildFilter renders the WHERE clause shared by the read and count
// statements. Conditions are appended in a fixed order so the generated SQL
// is deterministic for a given Request.
func buildFilter(r Request) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	add := func(format string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if r.Active != nil {
		add("active = $%d", *r.Active)
	}
	if r.Point != nil {
		add("point_number = $%d", *r.Point)
	} else {
		if r.PointMin != nil {
			add("point_number >= $%d", *r.PointMin)
		}
		if r.PointMax != nil {
			add("point_number <= $%d", *r.PointMax)
		}
	}
	if r.StartFrom != nil {
		add("start_date >= $%d", *r.StartFrom)
	}
	if r.StartTo != nil {
		add("start_date < $%d", *r.StartTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
