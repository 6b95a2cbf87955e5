package pacing

import "github.com/asharando/rideplan_core/internal/models"

// ComparePlans diffs a base stop list against its merged custom derivative.
// Both inputs are expected to come from ComputeMetrics.
func ComparePlans(base, custom []models.Stop) models.Comparison {
	cmp := models.Comparison{SegmentDiffs: []models.SegmentDiff{}}

	baseByID := make(map[int64]models.Stop, len(base))
	baseTotal := 0
	for _, s := range base {
		baseByID[s.ID] = s
		baseTotal += intValue(s.SegmentTimeMin)
	}

	customTotal := 0
	kept := 0
	for _, s := range custom {
		customTotal += intValue(s.SegmentTimeMin)

		if s.IsCustomStop {
			cmp.StopsAdded++
			cmp.SegmentDiffs = append(cmp.SegmentDiffs, models.SegmentDiff{
				Location: s.Location,
				Type:     models.DiffAdded,
				TimeDiff: intValue(s.SegmentTimeMin),
			})
			continue
		}

		kept++
		if !s.IsModified {
			continue
		}
		cmp.StopsModified++

		b, ok := baseByID[baseStopID(s)]
		if !ok {
			continue
		}
		baseTime, customTime := intValue(b.SegmentTimeMin), intValue(s.SegmentTimeMin)
		if diff := customTime - baseTime; diff != 0 {
			cmp.SegmentDiffs = append(cmp.SegmentDiffs, models.SegmentDiff{
				Location:   s.Location,
				Type:       models.DiffModified,
				TimeDiff:   diff,
				BaseTime:   intPtr(baseTime),
				CustomTime: intPtr(customTime),
			})
		}
	}

	cmp.TotalTimeDiffMin = customTotal - baseTotal
	cmp.StopsHidden = len(base) - kept
	return cmp
}

func baseStopID(s models.Stop) int64 {
	if s.BaseStopID != nil {
		return *s.BaseStopID
	}
	return s.ID
}
