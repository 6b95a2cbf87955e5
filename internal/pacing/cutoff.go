package pacing

import (
	"regexp"
	"strconv"
)

// cutoffTable lists ACP/RUSA overall time limits by brevet distance class
var cutoffTable = []struct {
	km    int
	hours float64
}{
	{200, 13.5},
	{300, 20},
	{400, 27},
	{600, 40},
	{1000, 75},
	{1200, 90},
}

var distanceClassRe = regexp.MustCompile(`(?i)(\d{3,4})\s*k`)

// DistanceKmFromName extracts a brevet distance class such as "300k" from a plan name
func DistanceKmFromName(name string) *int {
	m := distanceClassRe.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	km, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &km
}

// CutoffHours returns the time limit of the smallest distance class covering km,
// or nil when km is unknown or longer than any standard class
func CutoffHours(km *int) *float64 {
	if km == nil || *km <= 0 {
		return nil
	}
	for _, c := range cutoffTable {
		if *km <= c.km {
			h := c.hours
			return &h
		}
	}
	return nil
}

// CutoffForPlanName chains DistanceKmFromName and CutoffHours
func CutoffForPlanName(name string) (*int, *float64) {
	km := DistanceKmFromName(name)
	return km, CutoffHours(km)
}
