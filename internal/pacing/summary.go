package pacing

import "github.com/asharando/rideplan_core/internal/models"

// Summarize rolls a computed stop sequence into plan-level totals.
// Speeds are nil when the corresponding time is zero.
func Summarize(c *Computation, totalElevationFt int, distanceKm *int) models.Summary {
	sum := models.Summary{
		TotalDistanceMiles:  c.TotalDistanceMiles,
		TotalElevationFt:    totalElevationFt,
		DistanceKm:          distanceKm,
		CutoffHours:         c.CutoffHours,
		TotalMovingTimeMin:  c.TotalMovingTimeMin,
		TotalBreakTimeMin:   c.TotalBreakTimeMin,
		TotalElapsedTimeMin: c.ElapsedTimeMin(),
	}

	if sum.TotalMovingTimeMin > 0 {
		v := round1(sum.TotalDistanceMiles / (float64(sum.TotalMovingTimeMin) / 60.0))
		sum.AvgMovingSpeed = &v
	}
	if sum.TotalElapsedTimeMin > 0 {
		v := round1(sum.TotalDistanceMiles / (float64(sum.TotalElapsedTimeMin) / 60.0))
		sum.AvgElapsedSpeed = &v
	}
	if sum.TotalDistanceMiles > 0 {
		sum.OverallFtPerMile = round1(float64(totalElevationFt) / sum.TotalDistanceMiles)
	}

	sum.WeightedDifficulty = WeightedDifficulty(c.Stops)
	sum.MinTimeBankMin = minTimeBank(c.Stops)

	return sum
}

// WeightedDifficulty is the distance-weighted mean of segment difficulty.
// Zero-length segments carry no weight.
func WeightedDifficulty(stops []models.Stop) float64 {
	var weighted, miles float64
	for _, s := range stops {
		if s.SegDist <= 0 {
			continue
		}
		weighted += s.DifficultyScore * s.SegDist
		miles += s.SegDist
	}
	if miles == 0 {
		return 0
	}
	return round1(weighted / miles)
}

func minTimeBank(stops []models.Stop) *int {
	var low *int
	for _, s := range stops {
		if s.TimeBankMin == nil {
			continue
		}
		if low == nil || *s.TimeBankMin < *low {
			low = intPtr(*s.TimeBankMin)
		}
	}
	return low
}
