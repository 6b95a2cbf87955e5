package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/asharando/rideplan_core/internal/models"
	"github.com/asharando/rideplan_core/internal/pacing"
	"github.com/sirupsen/logrus"
)

// ErrTooFewStops is returned for a sheet that cannot be a route
var ErrTooFewStops = errors.New("plan needs at least 3 stops")

const (
	minStops       = 3
	maxLocationLen = 200
	maxNotesLen    = 500
)

// Column aliases, first match wins
var (
	colLocation     = []string{"location", "stop", "place"}
	colDistance     = []string{"distance", "distance_miles", "miles"}
	colElevation    = []string{"elevation", "elevation_gain", "climb"}
	colSegmentTime  = []string{"segment_time", "segment_time_min", "segment"}
	colStopDuration = []string{"stop_duration", "stop_duration_min", "rest"}
	colStopName     = []string{"stop_name", "activity"}
	colNotes        = []string{"notes", "note", "comments"}
)

// PlanFile is a base plan parsed from a CSV sheet
type PlanFile struct {
	Plan    models.Plan
	Stops   []models.Stop
	Skipped int
}

// ParseFile parses the plan CSV at filePath
func ParseFile(filePath, name string, log logrus.FieldLogger) (*PlanFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file, name, log)
}

// Parse reads a plan sheet: one header row, then one row per stop. Rows whose
// location is a URL are ride-with-gps links; rows without a numeric distance are
// skipped. A start stop at mile 0 is added when the sheet has none.
func Parse(reader io.Reader, name string, log logrus.FieldLogger) (*PlanFile, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colMap := makeColumnMap(header)
	if _, ok := lookup(colMap, colLocation); !ok {
		return nil, fmt.Errorf("missing location column in header %v", header)
	}
	if _, ok := lookup(colMap, colDistance); !ok {
		return nil, fmt.Errorf("missing distance column in header %v", header)
	}

	out := &PlanFile{Plan: models.Plan{Name: name, Slug: Slugify(name)}}

	for line := 2; ; line++ {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithError(err).WithField("line", line).Warn("skipping malformed row")
			out.Skipped++
			continue
		}

		location := getField(record, colMap, colLocation)
		if location == "" {
			continue
		}

		if strings.HasPrefix(location, "http") {
			label := strings.ToLower(getField(record, colMap, colDistance))
			if out.Plan.RWGPSURL == "" && !isTeamLabel(label) {
				out.Plan.RWGPSURL = location
			}
			continue
		}

		distance := parseFloat(getField(record, colMap, colDistance))
		if distance == nil {
			log.WithField("line", line).WithField("location", location).Warn("skipping row without distance")
			out.Skipped++
			continue
		}

		out.Stops = append(out.Stops, models.Stop{
			Location:        truncate(location, maxLocationLen),
			StopType:        DetectStopType(location),
			DistanceMiles:   math.Round(*distance*10) / 10,
			ElevationGain:   parseInt(getField(record, colMap, colElevation)),
			SegmentTimeMin:  parseInt(getField(record, colMap, colSegmentTime)),
			StopDurationMin: positive(parseInt(getField(record, colMap, colStopDuration))),
			StopName:        optional(getField(record, colMap, colStopName)),
			Notes:           truncate(getField(record, colMap, colNotes), maxNotesLen),
		})
	}

	out.Stops = ensureStart(out.Stops)
	if len(out.Stops) < minStops {
		return nil, fmt.Errorf("%s: %w, found %d", name, ErrTooFewStops, len(out.Stops))
	}
	for i := range out.Stops {
		out.Stops[i].StopOrder = i + 1
	}
	if err := pacing.ValidateSequence(out.Stops); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	out.Plan.TotalDistanceMiles, out.Plan.TotalElevationFt = Totals(out.Stops)
	return out, nil
}

var restKeywords = []string{"water", "refill", "snack", "lunch", "dinner", "food", "break", "coffee", "epp selfie"}

// DetectStopType classifies a stop from keywords in its location
func DetectStopType(location string) models.StopType {
	loc := strings.ToLower(location)
	switch {
	case strings.Contains(loc, "start") && !strings.Contains(loc, "finish"):
		return models.StopStart
	case strings.Contains(loc, "finish"):
		return models.StopFinish
	case strings.Contains(loc, "control"):
		return models.StopControl
	}
	for _, w := range restKeywords {
		if strings.Contains(loc, w) {
			return models.StopRest
		}
	}
	return models.StopWaypoint
}

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a plan name to a URL-friendly slug
func Slugify(name string) string {
	s := nonSlugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}

// Totals returns the furthest stop distance and the summed elevation gain
func Totals(stops []models.Stop) (float64, int) {
	var dist float64
	var elev int
	for _, s := range stops {
		dist = math.Max(dist, s.DistanceMiles)
		if s.ElevationGain != nil {
			elev += *s.ElevationGain
		}
	}
	return math.Round(dist*10) / 10, elev
}

// ensureStart makes the first stop a start at mile 0
func ensureStart(stops []models.Stop) []models.Stop {
	if len(stops) > 0 && stops[0].DistanceMiles == 0 {
		stops[0].StopType = models.StopStart
		return stops
	}
	start := models.Stop{Location: "Start", StopType: models.StopStart, ElevationGain: new(int)}
	return append([]models.Stop{start}, stops...)
}

func isTeamLabel(label string) bool {
	return strings.Contains(label, "team") || strings.Contains(label, "asha") || strings.Contains(label, "control")
}

// makeColumnMap creates a map from normalized column name to index
func makeColumnMap(header []string) map[string]int {
	colMap := make(map[string]int)
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if _, seen := colMap[key]; !seen {
			colMap[key] = i
		}
	}
	return colMap
}

func lookup(colMap map[string]int, names []string) (int, bool) {
	for _, n := range names {
		if idx, ok := colMap[n]; ok {
			return idx, true
		}
	}
	return 0, false
}

// getField safely gets a field from a record by the first matching column name
func getField(record []string, colMap map[string]int, names []string) string {
	idx, ok := lookup(colMap, names)
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseFloat(s string) *float64 {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// parseInt accepts decimal cells and truncates them
func parseInt(s string) *int {
	f := parseFloat(s)
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}

func positive(v *int) *int {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
