package pacing

import (
	"sort"

	"github.com/asharando/rideplan_core/internal/models"
)

// unorderedStop is assigned to inserted stops that carry no explicit order,
// placing them after ordered stops at the same mile
const unorderedStop = 999

// StopLess is the single ordering used for every stop sequence:
// distance ascending, base stops before rider-inserted stops at the same mile,
// then stop_order ascending.
func StopLess(a, b models.Stop) bool {
	if a.DistanceMiles != b.DistanceMiles {
		return a.DistanceMiles < b.DistanceMiles
	}
	if a.IsCustomStop != b.IsCustomStop {
		return !a.IsCustomStop
	}
	return a.StopOrder < b.StopOrder
}

// SortStops orders stops in place with StopLess. The sort is stable so
// stops that compare equal keep their incoming order.
func SortStops(stops []models.Stop) {
	sort.SliceStable(stops, func(i, j int) bool {
		return StopLess(stops[i], stops[j])
	})
}

