package store

import (
	"context"
	"fmt"

	"github.com/asharando/rideplan_core/internal/models"
	"github.com/jackc/pgx/v5"
)

const customPlanSelect = `SELECT c.id, c.base_plan_id, p.slug, p.name, c.rider_id, c.name, c.description,
	c.total_distance_miles, c.avg_moving_speed, c.is_public, c.created_at, c.updated_at
	FROM custom_ride_plan c JOIN ride_plan p ON p.id = c.base_plan_id`

func scanCustomPlan(row pgx.Row) (*models.CustomPlan, error) {
	var cp models.CustomPlan
	err := row.Scan(
		&cp.ID,
		&cp.BasePlanID,
		&cp.BasePlanSlug,
		&cp.BasePlanName,
		&cp.RiderID,
		&cp.Name,
		&cp.Description,
		&cp.TotalDistanceMiles,
		&cp.AvgMovingSpeed,
		&cp.IsPublic,
		&cp.CreatedAt,
		&cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetCustomPlan loads a custom plan with its base plan's slug and name
func (s *Store) GetCustomPlan(ctx context.Context, id int64) (*models.CustomPlan, error) {
	cp, err := scanCustomPlan(s.db.QueryRow(ctx, customPlanSelect+` WHERE c.id = $1`, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("custom plan %d", id))
	}
	return cp, nil
}

// GetCustomPlanForRider returns the rider's custom plan of a base plan
func (s *Store) GetCustomPlanForRider(ctx context.Context, basePlanID, riderID int64) (*models.CustomPlan, error) {
	cp, err := scanCustomPlan(s.db.QueryRow(ctx,
		customPlanSelect+` WHERE c.base_plan_id = $1 AND c.rider_id = $2`,
		basePlanID, riderID,
	))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("custom plan of rider %d", riderID))
	}
	return cp, nil
}

// ListPublicCustomPlans returns the shared custom plans of a base plan, newest first
func (s *Store) ListPublicCustomPlans(ctx context.Context, basePlanID int64) ([]models.CustomPlan, error) {
	rows, err := s.db.Query(ctx,
		customPlanSelect+` WHERE c.base_plan_id = $1 AND c.is_public ORDER BY c.updated_at DESC`,
		basePlanID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query custom plans: %w", err)
	}
	defer rows.Close()

	plans := []models.CustomPlan{}
	for rows.Next() {
		cp, err := scanCustomPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom plan: %w", err)
		}
		plans = append(plans, *cp)
	}
	return plans, rows.Err()
}

// CreateCustomPlan inserts a custom plan. A rider holds at most one per base plan;
// a second one returns ErrConflict.
func (s *Store) CreateCustomPlan(ctx context.Context, cp models.CustomPlan) (*models.CustomPlan, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO custom_ride_plan (base_plan_id, rider_id, name, description, total_distance_miles,
			avg_moving_speed, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		cp.BasePlanID, cp.RiderID, cp.Name, cp.Description, cp.TotalDistanceMiles,
		cp.AvgMovingSpeed, cp.IsPublic,
	).Scan(&cp.ID, &cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("custom plan of rider %d: %w", cp.RiderID, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create custom plan: %w", err)
	}
	return &cp, nil
}

// UpdateCustomPlanSettings saves the rider-editable fields of a custom plan
func (s *Store) UpdateCustomPlanSettings(ctx context.Context, cp models.CustomPlan) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE custom_ride_plan SET
			name = $1, description = $2, is_public = $3, avg_moving_speed = $4,
			total_distance_miles = $5, updated_at = now()
		WHERE id = $6`,
		cp.Name, cp.Description, cp.IsPublic, cp.AvgMovingSpeed, cp.TotalDistanceMiles, cp.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update custom plan %d: %w", cp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("custom plan %d: %w", cp.ID, ErrNotFound)
	}
	return nil
}

// DeleteCustomPlan removes a custom plan; its override rows cascade
func (s *Store) DeleteCustomPlan(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM custom_ride_plan WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete custom plan %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("custom plan %d: %w", id, ErrNotFound)
	}
	return nil
}
