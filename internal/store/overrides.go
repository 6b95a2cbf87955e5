package store

import (
	"context"
	"fmt"

	"github.com/asharando/rideplan_core/internal/models"
)

const overrideColumns = `id, custom_plan_id, base_stop_id, is_hidden, is_custom_stop, stop_order, stop_type,
	location, distance_miles, elevation_gain, segment_time_min, stop_duration_min, stop_name, notes`

// ListOverrides returns a custom plan's override rows
func (s *Store) ListOverrides(ctx context.Context, customPlanID int64) ([]models.Override, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+overrideColumns+` FROM custom_ride_plan_stop WHERE custom_plan_id = $1 ORDER BY id`,
		customPlanID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []models.Override
	for rows.Next() {
		var (
			ov       models.Override
			stopType *string
			rest     *int
		)
		err := rows.Scan(
			&ov.ID,
			&ov.CustomPlanID,
			&ov.BaseStopID,
			&ov.IsHidden,
			&ov.IsCustomStop,
			&ov.StopOrder,
			&stopType,
			&ov.Location,
			&ov.DistanceMiles,
			&ov.ElevationGain,
			&ov.SegmentTimeMin,
			&rest,
			&ov.StopName,
			&ov.Notes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}

		if stopType != nil {
			t := models.StopType(*stopType)
			ov.StopType = &t
		}
		if ov.Rest, err = models.RestOverrideFromColumn(rest); err != nil {
			return nil, fmt.Errorf("override %d: %w", ov.ID, err)
		}

		overrides = append(overrides, ov)
	}
	return overrides, rows.Err()
}

// UpsertOverride writes one override row and returns it with its id.
// Rows for a base stop are keyed by (custom plan, base stop), and the stop must
// belong to the custom plan's base plan. Inserted stops are updated in place
// when ov.ID is set and created otherwise.
func (s *Store) UpsertOverride(ctx context.Context, ov models.Override) (*models.Override, error) {
	if err := ov.Rest.Validate(); err != nil {
		return nil, err
	}

	ov.IsCustomStop = ov.BaseStopID == nil

	var stopType *string
	if ov.StopType != nil {
		t := string(*ov.StopType)
		stopType = &t
	}
	args := []any{
		ov.CustomPlanID, ov.BaseStopID, ov.IsHidden, ov.IsCustomStop, ov.StopOrder, stopType,
		ov.Location, ov.DistanceMiles, ov.ElevationGain, ov.SegmentTimeMin, ov.Rest.Column(),
		ov.StopName, ov.Notes,
	}

	if ov.BaseStopID != nil {
		var belongs bool
		err := s.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM ride_plan_stop s
				JOIN custom_ride_plan c ON c.base_plan_id = s.ride_plan_id
				WHERE c.id = $1 AND s.id = $2
			)`,
			ov.CustomPlanID, *ov.BaseStopID,
		).Scan(&belongs)
		if err != nil {
			return nil, fmt.Errorf("failed to check base stop: %w", err)
		}
		if !belongs {
			return nil, fmt.Errorf("stop %d: %w", *ov.BaseStopID, ErrForeignStop)
		}

		err = s.db.QueryRow(ctx, `
			INSERT INTO custom_ride_plan_stop (custom_plan_id, base_stop_id, is_hidden, is_custom_stop,
				stop_order, stop_type, location, distance_miles, elevation_gain, segment_time_min,
				stop_duration_min, stop_name, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (custom_plan_id, base_stop_id) DO UPDATE SET
				is_hidden = EXCLUDED.is_hidden,
				is_custom_stop = EXCLUDED.is_custom_stop,
				stop_order = EXCLUDED.stop_order,
				stop_type = EXCLUDED.stop_type,
				location = EXCLUDED.location,
				distance_miles = EXCLUDED.distance_miles,
				elevation_gain = EXCLUDED.elevation_gain,
				segment_time_min = EXCLUDED.segment_time_min,
				stop_duration_min = EXCLUDED.stop_duration_min,
				stop_name = EXCLUDED.stop_name,
				notes = EXCLUDED.notes
			RETURNING id`,
			args...,
		).Scan(&ov.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert override: %w", err)
		}
		return &ov, nil
	}

	if ov.ID != 0 {
		tag, err := s.db.Exec(ctx, `
			UPDATE custom_ride_plan_stop SET
				stop_order = $3, stop_type = $4, location = $5, distance_miles = $6,
				elevation_gain = $7, segment_time_min = $8, stop_duration_min = $9,
				stop_name = $10, notes = $11
			WHERE id = $1 AND custom_plan_id = $2 AND base_stop_id IS NULL`,
			ov.ID, ov.CustomPlanID, ov.StopOrder, stopType, ov.Location, ov.DistanceMiles,
			ov.ElevationGain, ov.SegmentTimeMin, ov.Rest.Column(), ov.StopName, ov.Notes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update override %d: %w", ov.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("override %d: %w", ov.ID, ErrNotFound)
		}
		return &ov, nil
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO custom_ride_plan_stop (custom_plan_id, base_stop_id, is_hidden, is_custom_stop,
			stop_order, stop_type, location, distance_miles, elevation_gain, segment_time_min,
			stop_duration_min, stop_name, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		args...,
	).Scan(&ov.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert stop: %w", err)
	}
	return &ov, nil
}

// DeleteOverride removes one override row of a custom plan, reverting the stop
// to its base values or dropping an inserted stop
func (s *Store) DeleteOverride(ctx context.Context, customPlanID, overrideID int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM custom_ride_plan_stop WHERE id = $1 AND custom_plan_id = $2`,
		overrideID, customPlanID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete override %d: %w", overrideID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("override %d: %w", overrideID, ErrNotFound)
	}
	return nil
}
