package pacing

import (
	"math"

	"github.com/asharando/rideplan_core/internal/models"
)

// Computation is a stop sequence with every derived field populated,
// plus the moving and break totals accumulated on the way.
type Computation struct {
	Stops              []models.Stop
	TotalMovingTimeMin int
	TotalBreakTimeMin  int
	CutoffHours        *float64
	TotalDistanceMiles float64
}

// ElapsedTimeMin is the cumulative time at the final stop
func (c *Computation) ElapsedTimeMin() int {
	if len(c.Stops) == 0 {
		return 0
	}
	return c.Stops[len(c.Stops)-1].CumTimeMin
}

// ComputeMetrics walks an ordered stop sequence once and derives segment distance,
// grade, moving speed, cumulative and arrival time, time bank against the cutoff
// and difficulty for each stop. The input slice is not modified.
//
// cutoffHours may be nil when the plan's distance class has no standard limit;
// bookend and time bank are then left unset.
func ComputeMetrics(stops []models.Stop, totalDistanceMiles float64, cutoffHours *float64) (*Computation, error) {
	if err := ValidateSequence(stops); err != nil {
		return nil, err
	}

	out := make([]models.Stop, len(stops))
	copy(out, stops)

	result := &Computation{
		Stops:              out,
		CutoffHours:        cutoffHours,
		TotalDistanceMiles: totalDistanceMiles,
	}

	prevDistance := 0.0
	cumTime := 0

	for i := range out {
		s := &out[i]
		m := models.StopMetrics{}

		m.SegDist = round1(s.DistanceMiles - prevDistance)

		if s.ElevationGain != nil && m.SegDist > 0 {
			ftPerMi := roundInt(float64(*s.ElevationGain) / m.SegDist)
			m.FtPerMi = &ftPerMi
		}

		segTime := intValue(s.SegmentTimeMin)
		if segTime > 0 && m.SegDist > 0 {
			speed := round1(m.SegDist / (float64(segTime) / 60.0))
			m.AvgSpeed = &speed
		}

		if s.SegmentTimeMin != nil {
			cumTime += segTime
			result.TotalMovingTimeMin += segTime
		}

		rest := intValue(s.StopDurationMin)
		if rest > 0 {
			cumTime += rest
			result.TotalBreakTimeMin += rest
		}

		m.CumTimeMin = cumTime
		m.ArrivalTimeMin = cumTime - rest

		if cutoffHours != nil && totalDistanceMiles > 0 && s.DistanceMiles > 0 {
			bookend := roundInt((s.DistanceMiles / totalDistanceMiles) * *cutoffHours * 60)
			bank := bookend - m.ArrivalTimeMin
			m.BookendTimeMin = &bookend
			m.TimeBankMin = &bank
		}

		m.DifficultyScore, m.DifficultyLabel, m.DifficultyColor = Difficulty(m.FtPerMi, s.Notes)

		s.StopMetrics = m
		prevDistance = s.DistanceMiles
	}

	return result, nil
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func intPtr(v int) *int {
	return &v
}

// round1 rounds half away from zero to one decimal place
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
