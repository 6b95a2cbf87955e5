package pacing

import (
	"errors"
	"fmt"

	"github.com/asharando/rideplan_core/internal/models"
)

var (
	// ErrInvalidSequence marks a stop sequence that violates the route contract
	ErrInvalidSequence = errors.New("invalid stop sequence")
	// ErrEmptyPlan is returned when a plan has no stops to compute
	ErrEmptyPlan = errors.New("plan has no stops")
	// ErrUnknownBaseStop is returned when an override points at a stop outside the base plan
	ErrUnknownBaseStop = errors.New("override references unknown base stop")
	// ErrHiddenStart is returned when an override hides the start stop
	ErrHiddenStart = errors.New("start stop cannot be hidden")
	// ErrInvalidPace is returned for a non-positive target speed
	ErrInvalidPace = errors.New("average moving speed must be positive")
)

// ValidateSequence checks that stops form a computable route: a start at mile 0,
// no negative values, and distances that never decrease.
func ValidateSequence(stops []models.Stop) error {
	if len(stops) == 0 {
		return ErrEmptyPlan
	}

	first := stops[0]
	if first.StopType != models.StopStart {
		return fmt.Errorf("%w: first stop %q is %q, expected start", ErrInvalidSequence, first.Location, first.StopType)
	}
	if first.DistanceMiles != 0 {
		return fmt.Errorf("%w: start stop is at mile %.1f, expected 0", ErrInvalidSequence, first.DistanceMiles)
	}

	prev := 0.0
	for i, s := range stops {
		if s.DistanceMiles < 0 {
			return fmt.Errorf("%w: stop %d (%s) has negative distance %.1f", ErrInvalidSequence, i, s.Location, s.DistanceMiles)
		}
		if s.DistanceMiles < prev {
			return fmt.Errorf("%w: stop %d (%s) at mile %.1f comes after mile %.1f", ErrInvalidSequence, i, s.Location, s.DistanceMiles, prev)
		}
		if s.SegmentTimeMin != nil && *s.SegmentTimeMin < 0 {
			return fmt.Errorf("%w: stop %d (%s) has negative segment time", ErrInvalidSequence, i, s.Location)
		}
		if s.StopDurationMin != nil && *s.StopDurationMin < 0 {
			return fmt.Errorf("%w: stop %d (%s) has negative stop duration", ErrInvalidSequence, i, s.Location)
		}
		if s.ElevationGain != nil && *s.ElevationGain < 0 {
			return fmt.Errorf("%w: stop %d (%s) has negative elevation gain", ErrInvalidSequence, i, s.Location)
		}
		prev = s.DistanceMiles
	}

	return nil
}
