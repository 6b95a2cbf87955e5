package store

import (
	"context"
	"fmt"

	"github.com/asharando/rideplan_core/internal/models"
	"github.com/jackc/pgx/v5"
)

const planColumns = `id, slug, name, description, total_distance_miles, total_elevation_ft,
	avg_moving_speed, rwgps_url, created_at`

const stopColumns = `id, stop_order, location, stop_type, distance_miles, elevation_gain,
	segment_time_min, stop_duration_min, stop_name, notes`

func scanPlan(row pgx.Row) (*models.Plan, error) {
	var p models.Plan
	err := row.Scan(
		&p.ID,
		&p.Slug,
		&p.Name,
		&p.Description,
		&p.TotalDistanceMiles,
		&p.TotalElevationFt,
		&p.AvgMovingSpeed,
		&p.RWGPSURL,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans returns every base plan ordered by name
func (s *Store) ListPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+planColumns+` FROM ride_plan ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	plans := []models.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// GetPlanBySlug loads one base plan
func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	p, err := scanPlan(s.db.QueryRow(ctx, `SELECT `+planColumns+` FROM ride_plan WHERE slug = $1`, slug))
	if err != nil {
		return nil, notFound(err, "plan "+slug)
	}
	return p, nil
}

// GetPlanStops returns a base plan's stops in stop_order
func (s *Store) GetPlanStops(ctx context.Context, planID int64) ([]models.Stop, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+stopColumns+` FROM ride_plan_stop WHERE ride_plan_id = $1 ORDER BY stop_order`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var stops []models.Stop
	for rows.Next() {
		var st models.Stop
		err := rows.Scan(
			&st.ID,
			&st.StopOrder,
			&st.Location,
			&st.StopType,
			&st.DistanceMiles,
			&st.ElevationGain,
			&st.SegmentTimeMin,
			&st.StopDurationMin,
			&st.StopName,
			&st.Notes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stop: %w", err)
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

// CreateBasePlan inserts a base plan, or replaces the plan with the same slug,
// together with its stops in one transaction. Replacing a plan drops its old stops
// and with them every override that pointed at them.
func (s *Store) CreateBasePlan(ctx context.Context, plan models.Plan, stops []models.Stop) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var planID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO ride_plan (slug, name, description, total_distance_miles, total_elevation_ft, rwgps_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			total_distance_miles = EXCLUDED.total_distance_miles,
			total_elevation_ft = EXCLUDED.total_elevation_ft,
			rwgps_url = EXCLUDED.rwgps_url
		RETURNING id`,
		plan.Slug, plan.Name, plan.Description, plan.TotalDistanceMiles, plan.TotalElevationFt, plan.RWGPSURL,
	).Scan(&planID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert plan %s: %w", plan.Slug, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM ride_plan_stop WHERE ride_plan_id = $1`, planID); err != nil {
		return 0, fmt.Errorf("failed to clear stops: %w", err)
	}

	for i, st := range stops {
		_, err := tx.Exec(ctx, `
			INSERT INTO ride_plan_stop (ride_plan_id, stop_order, location, stop_type, distance_miles,
				elevation_gain, segment_time_min, stop_duration_min, stop_name, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			planID, i+1, st.Location, string(st.StopType), st.DistanceMiles,
			st.ElevationGain, st.SegmentTimeMin, st.StopDurationMin, st.StopName, st.Notes,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert stop %d (%s): %w", i+1, st.Location, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit plan %s: %w", plan.Slug, err)
	}
	return planID, nil
}

// SaveComputed persists derived per-stop metrics and plan totals. Stops are
// matched by id; each must carry the metrics from a computation.
func (s *Store) SaveComputed(ctx context.Context, planID int64, stops []models.Stop, sum models.Summary) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, st := range stops {
		_, err := tx.Exec(ctx, `
			UPDATE ride_plan_stop SET
				seg_dist = $1, ft_per_mi = $2, avg_speed = $3, cum_time_min = $4,
				bookend_time_min = $5, time_bank_min = $6, difficulty_score = $7
			WHERE id = $8 AND ride_plan_id = $9`,
			st.SegDist, st.FtPerMi, st.AvgSpeed, st.CumTimeMin,
			st.BookendTimeMin, st.TimeBankMin, st.DifficultyScore,
			st.ID, planID,
		)
		if err != nil {
			return fmt.Errorf("failed to update stop %d: %w", st.ID, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ride_plan SET
			distance_km = $1, cutoff_hours = $2, avg_moving_speed = $3, avg_elapsed_speed = $4,
			total_moving_time_min = $5, total_elapsed_time_min = $6, total_break_time_min = $7,
			overall_ft_per_mile = $8
		WHERE id = $9`,
		sum.DistanceKm, sum.CutoffHours, sum.AvgMovingSpeed, sum.AvgElapsedSpeed,
		sum.TotalMovingTimeMin, sum.TotalElapsedTimeMin, sum.TotalBreakTimeMin,
		sum.OverallFtPerMile, planID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan %d: %w", planID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("plan %d: %w", planID, ErrNotFound)
	}

	return tx.Commit(ctx)
}
