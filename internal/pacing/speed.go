package pacing

import (
	"math"

	"github.com/asharando/rideplan_core/internal/models"
)

const (
	baselineSpeedMph = 12.0
	minSpeedMph      = 7.0
	maxSpeedMph      = 15.0
)

// EstimateSpeed predicts average moving speed in mph from segment grade with a
// piecewise-linear model: 0 ft/mi -> 15, 30 -> 13.5, 40 -> 12, 100 -> 9,
// clamped to [7, 15]. Unknown grade falls back to 12 mph.
func EstimateSpeed(ftPerMi *int) float64 {
	if ftPerMi == nil || *ftPerMi < 0 {
		return baselineSpeedMph
	}

	grade := float64(*ftPerMi)
	var speed float64
	switch {
	case grade <= 30:
		speed = 15.0 - 0.05*grade
	case grade <= 40:
		speed = 13.5 - (grade-30)*0.15
	default:
		speed = 12.0 - (grade-40)*0.05
	}

	return round1(math.Max(minSpeedMph, math.Min(maxSpeedMph, speed)))
}

// EstimateUntimed fills segment times that were never entered using the grade
// speed model. Stops must carry SegDist and FtPerMi from ComputeMetrics; filled
// stops are flagged IsEstimated. Returns a new slice.
func EstimateUntimed(stops []models.Stop) []models.Stop {
	out := make([]models.Stop, len(stops))
	for i, s := range stops {
		if s.SegmentTimeMin == nil && s.SegDist > 0 {
			s.SegmentTimeMin = intPtr(roundInt(s.SegDist / EstimateSpeed(s.FtPerMi) * 60))
			s.IsEstimated = true
		}
		out[i] = s
	}
	return out
}
