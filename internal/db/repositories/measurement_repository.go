// measurement_repository.go implements MeasurementRepository, executing the
// read and count plans compiled by the query package against the
// measurement_points table.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/JamieBuffing/kumasi-data-api/internal/db/models"
	"github.com/JamieBuffing/kumasi-data-api/internal/query"
)

// MeasurementRepository handles database operations for measurement points
type MeasurementRepository struct {
	db *sqlx.DB
}

// NewMeasurementRepository creates a new measurement point repository
func NewMeasurementRepository(db *sqlx.DB) *MeasurementRepository {
	return &MeasurementRepository{db: db}
}

// Find executes the plan's read statement and returns the page of points.
// The measurements column is only part of the row when the plan selected it.
func (r *MeasurementRepository) Find(ctx context.Context, plan query.Plan) ([]*models.MeasurementPoint, error) {
	rows, err := r.db.QueryContext(ctx, plan.SelectSQL, plan.SelectArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurement points: %w", err)
	}
	defer rows.Close()

	points := make([]*models.MeasurementPoint, 0)
	for rows.Next() {
		p := &models.MeasurementPoint{}
		dest := []interface{}{
			&p.PointNumber,
			&p.Lat,
			&p.Lon,
			&p.Description,
			&p.StartDate,
			&p.Active,
		}
		if plan.IncludeMeasurements {
			dest = append(dest, &p.Measurements)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan measurement point: %w", err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// Count executes the plan's count statement.
func (r *MeasurementRepository) Count(ctx context.Context, plan query.Plan) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, plan.CountSQL, plan.CountArgs...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count measurement points: %w", err)
	}

	return count, nil
}
