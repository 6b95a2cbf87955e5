package pacing

import (
	"fmt"
	"math"
	"strings"
)

const (
	maxGradeScore = 7.0
	maxDifficulty = 10.0
)

// noteModifier adjusts the difficulty score when any of its keywords appears in a stop's notes
type noteModifier struct {
	keywords []string
	delta    float64
}

var noteModifiers = []noteModifier{
	{keywords: []string{"headwind"}, delta: 1.5},
	{keywords: []string{"steep"}, delta: 1.0},
	{keywords: []string{"exposed", "gravel"}, delta: 0.5},
	{keywords: []string{"tailwind"}, delta: -0.5},
}

// Difficulty scores a segment from its grade and hazard notes.
// It returns the 0-10 score, its label, and the display color for the grade.
func Difficulty(ftPerMi *int, notes string) (float64, string, string) {
	score := DifficultyScore(ftPerMi, notes)
	return score, DifficultyLabel(score), DifficultyColor(ftPerMi)
}

// DifficultyScore maps grade to a base score capped at 7 and applies note keyword modifiers.
// Segments with no grade score 0 regardless of notes.
func DifficultyScore(ftPerMi *int, notes string) float64 {
	if ftPerMi == nil || *ftPerMi == 0 {
		return 0
	}

	score := math.Min(float64(*ftPerMi)/10.0, maxGradeScore)

	lower := strings.ToLower(notes)
	for _, m := range noteModifiers {
		for _, kw := range m.keywords {
			if strings.Contains(lower, kw) {
				score += m.delta
				break
			}
		}
	}

	return round1(math.Max(0, math.Min(score, maxDifficulty)))
}

// DifficultyLabel buckets a difficulty score
func DifficultyLabel(score float64) string {
	switch {
	case score >= 7:
		return "hard"
	case score >= 4:
		return "moderate"
	case score >= 1.5:
		return "easy"
	default:
		return "flat"
	}
}

type rgb struct{ r, g, b float64 }

type colorAnchor struct {
	ftPerMi float64
	color   rgb
}

// gradeGradient runs slate gray -> green -> amber -> red -> dark red
var gradeGradient = []colorAnchor{
	{0, rgb{0x94, 0xa3, 0xb8}},
	{25, rgb{0x22, 0xc5, 0x5e}},
	{50, rgb{0xf5, 0x9e, 0x0b}},
	{75, rgb{0xef, 0x44, 0x44}},
	{100, rgb{0x99, 0x1b, 0x1b}},
}

// DifficultyColor interpolates a hex color for a grade along the five-point gradient.
// A missing grade renders as flat.
func DifficultyColor(ftPerMi *int) string {
	grade := 0.0
	if ftPerMi != nil {
		grade = float64(*ftPerMi)
	}

	first, last := gradeGradient[0], gradeGradient[len(gradeGradient)-1]
	if grade <= first.ftPerMi {
		return first.color.hex()
	}
	if grade >= last.ftPerMi {
		return last.color.hex()
	}

	for i := 1; i < len(gradeGradient); i++ {
		lo, hi := gradeGradient[i-1], gradeGradient[i]
		if grade <= hi.ftPerMi {
			t := (grade - lo.ftPerMi) / (hi.ftPerMi - lo.ftPerMi)
			return rgb{
				r: lo.color.r + (hi.color.r-lo.color.r)*t,
				g: lo.color.g + (hi.color.g-lo.color.g)*t,
				b: lo.color.b + (hi.color.b-lo.color.b)*t,
			}.hex()
		}
	}
	return last.color.hex()
}

func (c rgb) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", int(math.Round(c.r)), int(math.Round(c.g)), int(math.Round(c.b)))
}
