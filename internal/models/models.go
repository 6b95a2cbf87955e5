package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StopType classifies a waypoint along a route
type StopType string

const (
	StopStart    StopType = "start"
	StopFinish   StopType = "finish"
	StopControl  StopType = "control"
	StopRest     StopType = "rest"
	StopWaypoint StopType = "waypoint"
)

// Valid reports whether t is one of the known stop types
func (t StopType) Valid() bool {
	switch t {
	case StopStart, StopFinish, StopControl, StopRest, StopWaypoint:
		return true
	}
	return false
}

// Plan is a club-maintained base ride plan
type Plan struct {
	ID                 int64     `json:"id"`
	Slug               string    `json:"slug"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	TotalDistanceMiles float64   `json:"total_distance_miles"`
	TotalElevationFt   int       `json:"total_elevation_ft"`
	AvgMovingSpeed     *float64  `json:"avg_moving_speed,omitempty"`
	RWGPSURL           string    `json:"rwgps_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// CustomPlan is one rider's personal derivative of a base plan
type CustomPlan struct {
	ID                 int64     `json:"id"`
	BasePlanID         int64     `json:"base_plan_id"`
	BasePlanSlug       string    `json:"base_plan_slug"`
	BasePlanName       string    `json:"base_plan_name"`
	RiderID            int64     `json:"rider_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	TotalDistanceMiles *float64  `json:"total_distance_miles,omitempty"`
	AvgMovingSpeed     *float64  `json:"avg_moving_speed,omitempty"`
	IsPublic           bool      `json:"is_public"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Stop is a waypoint in a plan. Raw inputs come from the store; the embedded
// StopMetrics are derived by the pacing engine and never treated as primary truth.
type Stop struct {
	ID              int64    `json:"id,omitempty"`
	StopOrder       int      `json:"stop_order"`
	BaseStopID      *int64   `json:"base_stop_id,omitempty"`
	OverrideID      *int64   `json:"override_id,omitempty"`
	Location        string   `json:"location"`
	StopType        StopType `json:"stop_type"`
	DistanceMiles   float64  `json:"distance_miles"`
	ElevationGain   *int     `json:"elevation_gain"`
	SegmentTimeMin  *int     `json:"segment_time_min"`
	StopDurationMin *int     `json:"stop_duration_min"`
	StopName        *string  `json:"stop_name"`
	Notes           string   `json:"notes,omitempty"`
	IsModified      bool     `json:"is_modified"`
	IsCustomStop    bool     `json:"is_custom_stop"`
	IsEstimated     bool     `json:"is_estimated,omitempty"`

	StopMetrics
}

// StopMetrics holds the per-stop figures derived from a stop sequence
type StopMetrics struct {
	SegDist         float64  `json:"seg_dist"`
	FtPerMi         *int     `json:"ft_per_mi"`
	AvgSpeed        *float64 `json:"avg_speed"`
	CumTimeMin      int      `json:"cum_time_min"`
	ArrivalTimeMin  int      `json:"arrival_time_min"`
	BookendTimeMin  *int     `json:"bookend_time_min"`
	TimeBankMin     *int     `json:"time_bank_min"`
	DifficultyScore float64  `json:"difficulty_score"`
	DifficultyLabel string   `json:"difficulty_label"`
	DifficultyColor string   `json:"difficulty_color"`
}

// RestMode tells how an override treats the rest time inherited from its base stop
type RestMode string

const (
	RestInherit RestMode = "inherit"
	RestRemoved RestMode = "removed"
	RestSet     RestMode = "set"
)

// restRemovedColumn is the column value that marks an explicitly removed rest
const restRemovedColumn = -1

// RestOverride is the tri-state rest duration carried by an override row
type RestOverride struct {
	Mode    RestMode `json:"mode"`
	Minutes int      `json:"minutes,omitempty"`
}

// InheritRest keeps the base stop's rest duration and name
func InheritRest() RestOverride { return RestOverride{Mode: RestInherit} }

// RemoveRest clears any inherited rest duration and name
func RemoveRest() RestOverride { return RestOverride{Mode: RestRemoved} }

// SetRest overrides the rest duration; minutes must be positive
func SetRest(minutes int) RestOverride { return RestOverride{Mode: RestSet, Minutes: minutes} }

// RestOverrideFromColumn decodes the stop_duration_min column of an override row.
// NULL and 0 inherit, -1 removes, positive values override.
func RestOverrideFromColumn(v *int) (RestOverride, error) {
	switch {
	case v == nil || *v == 0:
		return InheritRest(), nil
	case *v == restRemovedColumn:
		return RemoveRest(), nil
	case *v > 0:
		return SetRest(*v), nil
	}
	return RestOverride{}, fmt.Errorf("invalid stop_duration_min %d", *v)
}

// Column encodes the override back into its stop_duration_min column value
func (r RestOverride) Column() *int {
	switch r.Mode {
	case RestRemoved:
		v := restRemovedColumn
		return &v
	case RestSet:
		v := r.Minutes
		return &v
	}
	return nil
}

// Validate rejects modes the store cannot represent. The zero value inherits.
func (r RestOverride) Validate() error {
	switch r.Mode {
	case "", RestInherit, RestRemoved:
		return nil
	case RestSet:
		if r.Minutes <= 0 {
			return fmt.Errorf("rest minutes must be positive, got %d", r.Minutes)
		}
		return nil
	}
	return fmt.Errorf("unknown rest mode %q", r.Mode)
}

// UnmarshalJSON accepts an absent/null value as inherit
func (r *RestOverride) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = InheritRest()
		return nil
	}
	type plain RestOverride
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Mode == "" {
		p.Mode = RestInherit
	}
	*r = RestOverride(p)
	return nil
}

// Override is a custom-plan row: either a modification of one base stop
// (BaseStopID set) or a newly inserted stop (IsCustomStop, BaseStopID nil).
type Override struct {
	ID             int64        `json:"id"`
	CustomPlanID   int64        `json:"custom_plan_id"`
	BaseStopID     *int64       `json:"base_stop_id,omitempty"`
	IsHidden       bool         `json:"is_hidden"`
	IsCustomStop   bool         `json:"is_custom_stop"`
	StopOrder      *int         `json:"stop_order,omitempty"`
	StopType       *StopType    `json:"stop_type,omitempty"`
	SegmentTimeMin *int         `json:"segment_time_min,omitempty"`
	DistanceMiles  *float64     `json:"distance_miles,omitempty"`
	ElevationGain  *int         `json:"elevation_gain,omitempty"`
	Rest           RestOverride `json:"rest"`
	StopName       *string      `json:"stop_name,omitempty"`
	Location       *string      `json:"location,omitempty"`
	Notes          *string      `json:"notes,omitempty"`
}

// Summary rolls per-stop metrics up to plan level
type Summary struct {
	TotalDistanceMiles  float64  `json:"total_distance_miles"`
	TotalElevationFt    int      `json:"total_elevation_ft"`
	DistanceKm          *int     `json:"distance_km"`
	CutoffHours         *float64 `json:"cutoff_hours"`
	TotalMovingTimeMin  int      `json:"total_moving_time_min"`
	TotalBreakTimeMin   int      `json:"total_break_time_min"`
	TotalElapsedTimeMin int      `json:"total_elapsed_time_min"`
	AvgMovingSpeed      *float64 `json:"avg_moving_speed"`
	AvgElapsedSpeed     *float64 `json:"avg_elapsed_speed"`
	OverallFtPerMile    float64  `json:"overall_ft_per_mile"`
	WeightedDifficulty  float64  `json:"weighted_difficulty"`
	MinTimeBankMin      *int     `json:"min_time_bank_min"`
}

// PlanView is a plan with its fully computed stop sequence, ready for rendering
type PlanView struct {
	Plan       Plan        `json:"plan"`
	CustomPlan *CustomPlan `json:"custom_plan,omitempty"`
	Stops      []Stop      `json:"stops"`
	Summary    Summary     `json:"summary"`
}

// DiffType labels an entry of a plan comparison
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffModified DiffType = "modified"
)

// SegmentDiff is the timing delta of one added or modified stop
type SegmentDiff struct {
	Location   string   `json:"location"`
	Type       DiffType `json:"type"`
	TimeDiff   int      `json:"time_diff"`
	BaseTime   *int     `json:"base_time,omitempty"`
	CustomTime *int     `json:"custom_time,omitempty"`
}

// Comparison is the structural and timing diff between a base plan and its custom derivative
type Comparison struct {
	TotalTimeDiffMin int           `json:"total_time_diff_min"`
	StopsAdded       int           `json:"stops_added"`
	StopsHidden      int           `json:"stops_hidden"`
	StopsModified    int           `json:"stops_modified"`
	SegmentDiffs     []SegmentDiff `json:"segment_diffs"`
}
