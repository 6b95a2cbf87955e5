package pacing

import (
	"fmt"

	"github.com/asharando/rideplan_core/internal/models"
)

// MergeOverrides applies a custom plan's override rows to its base plan's stops.
//
// Hidden base stops are dropped, but their riding time is carried onto the next
// visible base stop so the elapsed total is conserved. Modified stops take each
// override field that is set. Inserted stops are appended, and the result is
// ordered with SortStops, ready for ComputeMetrics.
func MergeOverrides(base []models.Stop, overrides []models.Override) ([]models.Stop, error) {
	byBaseStop, inserted, err := partitionOverrides(base, overrides)
	if err != nil {
		return nil, err
	}

	state := mergeState{stops: make([]models.Stop, 0, len(base)+len(inserted))}
	for _, b := range base {
		state, err = state.step(b, byBaseStop[b.ID])
		if err != nil {
			return nil, err
		}
	}

	merged := state.stops
	for _, ov := range inserted {
		merged = append(merged, insertedStop(ov))
	}

	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: every stop is hidden", ErrEmptyPlan)
	}

	SortStops(merged)
	return merged, nil
}

// partitionOverrides splits override rows into modifications keyed by base stop id
// and stops the rider inserted
func partitionOverrides(base []models.Stop, overrides []models.Override) (map[int64]*models.Override, []models.Override, error) {
	known := make(map[int64]struct{}, len(base))
	for _, b := range base {
		known[b.ID] = struct{}{}
	}

	byBaseStop := make(map[int64]*models.Override)
	var inserted []models.Override

	for i := range overrides {
		ov := &overrides[i]
		if ov.BaseStopID == nil {
			inserted = append(inserted, *ov)
			continue
		}
		if _, ok := known[*ov.BaseStopID]; !ok {
			return nil, nil, fmt.Errorf("%w: override %d points at stop %d", ErrUnknownBaseStop, ov.ID, *ov.BaseStopID)
		}
		byBaseStop[*ov.BaseStopID] = ov
	}

	return byBaseStop, inserted, nil
}

// mergeState is the accumulator of the fold over base stops. carriedMin holds the
// riding time of hidden stops not yet credited to a visible stop.
type mergeState struct {
	stops      []models.Stop
	carriedMin int
}

// step folds one base stop and its optional override into the state
func (st mergeState) step(base models.Stop, ov *models.Override) (mergeState, error) {
	if ov != nil && ov.IsHidden {
		if base.StopType == models.StopStart {
			return st, fmt.Errorf("%w: stop %d (%s)", ErrHiddenStart, base.ID, base.Location)
		}
		st.carriedMin += intValue(base.SegmentTimeMin)
		return st, nil
	}

	baseID := base.ID
	stop := base
	stop.BaseStopID = &baseID
	stop.IsModified = false
	stop.IsCustomStop = false
	stop.StopMetrics = models.StopMetrics{}

	if ov != nil {
		stop = applyOverride(stop, *ov)
	}

	st.stops = append(st.stops, creditCarried(stop, st.carriedMin))
	st.carriedMin = 0
	return st, nil
}

// creditCarried adds riding time from preceding hidden stops onto stop
func creditCarried(stop models.Stop, carriedMin int) models.Stop {
	if carriedMin <= 0 {
		return stop
	}
	stop.SegmentTimeMin = intPtr(intValue(stop.SegmentTimeMin) + carriedMin)
	stop.IsModified = true
	return stop
}

// applyOverride copies every set field of ov onto stop
func applyOverride(stop models.Stop, ov models.Override) models.Stop {
	id := ov.ID
	stop.OverrideID = &id

	if ov.SegmentTimeMin != nil {
		stop.SegmentTimeMin = intPtr(*ov.SegmentTimeMin)
		stop.IsModified = true
	}
	if ov.DistanceMiles != nil {
		stop.DistanceMiles = *ov.DistanceMiles
		stop.IsModified = true
	}
	if ov.ElevationGain != nil {
		stop.ElevationGain = intPtr(*ov.ElevationGain)
		stop.IsModified = true
	}
	if ov.Location != nil {
		stop.Location = *ov.Location
		stop.IsModified = true
	}
	if ov.Notes != nil {
		stop.Notes = *ov.Notes
		stop.IsModified = true
	}

	duration, name, changed := resolveRest(stop.StopDurationMin, stop.StopName, ov.Rest, ov.StopName)
	stop.StopDurationMin = duration
	stop.StopName = name
	if changed {
		stop.IsModified = true
	}

	return stop
}

// resolveRest settles the rest duration and its name together.
// Removed clears both, Set takes the override minutes and the override name when
// one is given, Inherit keeps the base pair untouched.
func resolveRest(baseDuration *int, baseName *string, rest models.RestOverride, name *string) (*int, *string, bool) {
	switch rest.Mode {
	case models.RestRemoved:
		return intPtr(0), nil, true
	case models.RestSet:
		if rest.Minutes <= 0 {
			return baseDuration, baseName, false
		}
		resolvedName := baseName
		if name != nil {
			resolvedName = name
		}
		changed := rest.Minutes != intValue(baseDuration) || stringValue(resolvedName) != stringValue(baseName)
		return intPtr(rest.Minutes), resolvedName, changed
	}
	return baseDuration, baseName, false
}

// insertedStop builds a full stop record from a rider-inserted override row
func insertedStop(ov models.Override) models.Stop {
	id := ov.ID
	stop := models.Stop{
		OverrideID:     &id,
		StopType:       models.StopWaypoint,
		StopOrder:      unorderedStop,
		ElevationGain:  ov.ElevationGain,
		SegmentTimeMin: ov.SegmentTimeMin,
		StopName:       ov.StopName,
		IsCustomStop:   true,
		IsModified:     true,
	}
	if ov.StopOrder != nil {
		stop.StopOrder = *ov.StopOrder
	}
	if ov.StopType != nil {
		stop.StopType = *ov.StopType
	}
	if ov.DistanceMiles != nil {
		stop.DistanceMiles = *ov.DistanceMiles
	}
	if ov.Location != nil {
		stop.Location = *ov.Location
	}
	if ov.Notes != nil {
		stop.Notes = *ov.Notes
	}
	if ov.Rest.Mode == models.RestSet && ov.Rest.Minutes > 0 {
		stop.StopDurationMin = intPtr(ov.Rest.Minutes)
	}
	return stop
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
