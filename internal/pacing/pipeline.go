package pacing

import "github.com/asharando/rideplan_core/internal/models"

// Input describes one plan computation
type Input struct {
	PlanName           string
	TotalDistanceMiles float64
	TotalElevationFt   int
	Stops              []models.Stop

	// AvgMovingSpeed retimes riding segments when set
	AvgMovingSpeed *float64
	// EstimateUntimed fills segments without a time from the grade speed model
	EstimateUntimed bool
}

// Run computes metrics for an ordered stop sequence, applies the optional pace
// and estimation passes, and summarizes the result. The cutoff is derived from the
// distance class in the plan name. A zero plan distance falls back to the last
// stop's distance.
func Run(in Input) (*Computation, models.Summary, error) {
	km, cutoff := CutoffForPlanName(in.PlanName)

	total := in.TotalDistanceMiles
	if total <= 0 && len(in.Stops) > 0 {
		total = in.Stops[len(in.Stops)-1].DistanceMiles
	}

	comp, err := ComputeMetrics(in.Stops, total, cutoff)
	if err != nil {
		return nil, models.Summary{}, err
	}

	switch {
	case in.AvgMovingSpeed != nil:
		paced, err := AdjustPace(comp.Stops, *in.AvgMovingSpeed)
		if err != nil {
			return nil, models.Summary{}, err
		}
		if comp, err = ComputeMetrics(paced, total, cutoff); err != nil {
			return nil, models.Summary{}, err
		}
	case in.EstimateUntimed:
		if comp, err = ComputeMetrics(EstimateUntimed(comp.Stops), total, cutoff); err != nil {
			return nil, models.Summary{}, err
		}
	}

	return comp, Summarize(comp, in.TotalElevationFt, km), nil
}
