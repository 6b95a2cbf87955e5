package pacing

import (
	"fmt"

	"github.com/asharando/rideplan_core/internal/models"
)

// AdjustPace retimes every riding segment from a single average moving speed (mph).
// Stops must already carry SegDist from ComputeMetrics. Zero-length segments, and
// all rest durations, are left as they are. Returns a new slice; run ComputeMetrics
// again to refresh the derived fields.
func AdjustPace(stops []models.Stop, avgMovingSpeed float64) ([]models.Stop, error) {
	if avgMovingSpeed <= 0 {
		return nil, fmt.Errorf("%w: got %.2f", ErrInvalidPace, avgMovingSpeed)
	}

	adjusted := make([]models.Stop, len(stops))
	for i, s := range stops {
		if s.SegDist > 0 {
			s.SegmentTimeMin = intPtr(roundInt((s.SegDist / avgMovingSpeed) * 60))
			s.IsModified = true
			s.IsEstimated = false
		}
		adjusted[i] = s
	}

	return adjusted, nil
}
