package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/asharando/rideplan_core/internal/cache"
	"github.com/asharando/rideplan_core/internal/models"
	"github.com/asharando/rideplan_core/internal/pacing"
)

// SettingsUpdate patches a custom plan's settings; nil fields are left unchanged
type SettingsUpdate struct {
	Name               *string  `json:"name"`
	Description        *string  `json:"description"`
	IsPublic           *bool    `json:"is_public"`
	AvgMovingSpeed     *float64 `json:"avg_moving_speed"`
	TotalDistanceMiles *float64 `json:"total_distance_miles"`
	// ClearPace drops the saved pace so the plan shows its stored segment times again
	ClearPace bool `json:"clear_pace"`
}

// Customize creates a rider's custom plan on top of a base plan. A rider has at
// most one custom plan per base plan.
func (s *Service) Customize(ctx context.Context, slug string, riderID int64, name string) (*models.CustomPlan, error) {
	if riderID <= 0 {
		return nil, fmt.Errorf("%w: rider id is required", ErrInvalidInput)
	}

	plan, err := s.store.GetPlanBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = plan.Name + " (custom)"
	}

	cp, err := s.store.CreateCustomPlan(ctx, models.CustomPlan{
		BasePlanID: plan.ID,
		RiderID:    riderID,
		Name:       name,
	})
	if err != nil {
		return nil, err
	}
	cp.BasePlanSlug = plan.Slug
	cp.BasePlanName = plan.Name

	s.log.WithField("custom_plan_id", cp.ID).WithField("base_plan", slug).Info("custom plan created")
	return cp, nil
}

// CustomPlanForRider returns a rider's custom plan of a base plan
func (s *Service) CustomPlanForRider(ctx context.Context, slug string, riderID int64) (*models.CustomPlan, error) {
	plan, err := s.store.GetPlanBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.store.GetCustomPlanForRider(ctx, plan.ID, riderID)
}

// PublicCustomPlans lists the custom plans riders shared for a base plan
func (s *Service) PublicCustomPlans(ctx context.Context, slug string) ([]models.CustomPlan, error) {
	plan, err := s.store.GetPlanBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.store.ListPublicCustomPlans(ctx, plan.ID)
}

// UpdateSettings applies a settings patch to a rider's custom plan
func (s *Service) UpdateSettings(ctx context.Context, id, riderID int64, upd SettingsUpdate) (*models.CustomPlan, error) {
	cp, err := s.owned(ctx, id, riderID)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		cp.Name = name
	}
	if upd.Description != nil {
		cp.Description = *upd.Description
	}
	if upd.IsPublic != nil {
		cp.IsPublic = *upd.IsPublic
	}
	if upd.TotalDistanceMiles != nil {
		if *upd.TotalDistanceMiles < 0 {
			return nil, fmt.Errorf("%w: total distance cannot be negative", ErrInvalidInput)
		}
		cp.TotalDistanceMiles = upd.TotalDistanceMiles
		if *upd.TotalDistanceMiles == 0 {
			cp.TotalDistanceMiles = nil
		}
	}
	switch {
	case upd.ClearPace:
		cp.AvgMovingSpeed = nil
	case upd.AvgMovingSpeed != nil:
		if *upd.AvgMovingSpeed <= 0 {
			return nil, fmt.Errorf("%w: got %.2f", pacing.ErrInvalidPace, *upd.AvgMovingSpeed)
		}
		cp.AvgMovingSpeed = upd.AvgMovingSpeed
	}

	if err := s.store.UpdateCustomPlanSettings(ctx, *cp); err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.CustomPlanPattern(id))

	return cp, nil
}

// SetPace saves the average moving speed a custom plan is retimed to
func (s *Service) SetPace(ctx context.Context, id, riderID int64, avgMovingSpeed float64) (*models.CustomPlan, error) {
	return s.UpdateSettings(ctx, id, riderID, SettingsUpdate{AvgMovingSpeed: &avgMovingSpeed})
}

// DeleteCustomPlan removes a rider's custom plan and its overrides
func (s *Service) DeleteCustomPlan(ctx context.Context, id, riderID int64) error {
	if _, err := s.owned(ctx, id, riderID); err != nil {
		return err
	}
	if err := s.store.DeleteCustomPlan(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, cache.CustomPlanPattern(id))
	return nil
}

// Overrides lists the override rows of a custom plan
func (s *Service) Overrides(ctx context.Context, id int64) ([]models.Override, error) {
	if _, err := s.store.GetCustomPlan(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListOverrides(ctx, id)
}

// UpsertOverride validates an override against the merged plan it would produce and
// stores it. The plan must stay computable: neither the start nor the last stop
// can be hidden, and distances must still run forward.
func (s *Service) UpsertOverride(ctx context.Context, id, riderID int64, ov models.Override) (*models.Override, error) {
	cp, err := s.owned(ctx, id, riderID)
	if err != nil {
		return nil, err
	}
	ov.CustomPlanID = id

	if err := checkOverride(ov); err != nil {
		return nil, err
	}

	_, baseStops, err := s.loadBase(ctx, cp.BasePlanSlug)
	if err != nil {
		return nil, err
	}
	if ov.IsHidden && len(baseStops) > 0 && *ov.BaseStopID == baseStops[len(baseStops)-1].ID {
		return nil, fmt.Errorf("%w: stop %d", ErrHiddenFinish, *ov.BaseStopID)
	}
	existing, err := s.store.ListOverrides(ctx, id)
	if err != nil {
		return nil, err
	}
	trial, err := pacing.MergeOverrides(baseStops, replaceOverride(existing, ov))
	if err != nil {
		return nil, err
	}
	if err := pacing.ValidateSequence(trial); err != nil {
		return nil, err
	}

	saved, err := s.store.UpsertOverride(ctx, ov)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.CustomPlanPattern(id))

	return saved, nil
}

// DeleteOverride reverts a modified stop to its base values or drops an inserted stop
func (s *Service) DeleteOverride(ctx context.Context, id, riderID, overrideID int64) error {
	if _, err := s.owned(ctx, id, riderID); err != nil {
		return err
	}
	if err := s.store.DeleteOverride(ctx, id, overrideID); err != nil {
		return err
	}
	s.invalidate(ctx, cache.CustomPlanPattern(id))
	return nil
}

func (s *Service) owned(ctx context.Context, id, riderID int64) (*models.CustomPlan, error) {
	cp, err := s.store.GetCustomPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.RiderID != riderID {
		return nil, fmt.Errorf("custom plan %d: %w", id, ErrForbidden)
	}
	return cp, nil
}

// checkOverride rejects override values that no merge could make sense of
func checkOverride(ov models.Override) error {
	if err := ov.Rest.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if ov.StopType != nil && !ov.StopType.Valid() {
		return fmt.Errorf("%w: unknown stop type %q", ErrInvalidInput, *ov.StopType)
	}
	if ov.SegmentTimeMin != nil && *ov.SegmentTimeMin < 0 {
		return fmt.Errorf("%w: segment time cannot be negative", ErrInvalidInput)
	}
	if ov.ElevationGain != nil && *ov.ElevationGain < 0 {
		return fmt.Errorf("%w: elevation gain cannot be negative", ErrInvalidInput)
	}
	if ov.DistanceMiles != nil && *ov.DistanceMiles < 0 {
		return fmt.Errorf("%w: distance cannot be negative", ErrInvalidInput)
	}

	if ov.BaseStopID != nil {
		return nil
	}
	if ov.IsHidden {
		return fmt.Errorf("%w: inserted stops are deleted, not hidden", ErrInvalidInput)
	}
	if ov.DistanceMiles == nil {
		return fmt.Errorf("%w: inserted stop needs a distance", ErrInvalidInput)
	}
	if ov.Location == nil || strings.TrimSpace(*ov.Location) == "" {
		return fmt.Errorf("%w: inserted stop needs a location", ErrInvalidInput)
	}
	return nil
}

// replaceOverride returns overrides with ov in place of the row it would overwrite
func replaceOverride(overrides []models.Override, ov models.Override) []models.Override {
	out := make([]models.Override, 0, len(overrides)+1)
	for _, o := range overrides {
		switch {
		case ov.BaseStopID != nil && o.BaseStopID != nil && *o.BaseStopID == *ov.BaseStopID:
			continue
		case ov.BaseStopID == nil && ov.ID != 0 && o.ID == ov.ID:
			continue
		}
		out = append(out, o)
	}
	return append(out, ov)
}
