// Package severity defines the ordered severity scale shared by all
// governance subsystems. Evaluators pick the subset that makes sense
// for their findings; ordering is global.
package severity

import "fmt"

// Level is an ordered categorical severity label.
type Level string

const (
	None      Level = "none"
	Info      Level = "info"
	Low       Level = "low"
	Medium    Level = "medium"
	High      Level = "high"
	Critical  Level = "critical"
	Emergency Level = "emergency"
)

var ranks = map[Level]int{
	None:      0,
	Info:      1,
	Low:       2,
	Medium:    3,
	High:      4,
	Critical:  5,
	Emergency: 6,
}

// Parse validates a severity label.
func Parse(s string) (Level, error) {
	l := Level(s)
	if _, ok := ranks[l]; !ok {
		return "", fmt.Errorf("invalid severity: %q", s)
	}
	return l, nil
}

// Rank returns the position of l on the scale. Unknown levels rank
// below none so they never trip threshold comparisons.
func Rank(l Level) int {
	if r, ok := ranks[l]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether l is at or above the threshold level.
func AtLeast(l, threshold Level) bool {
	return Rank(l) >= Rank(threshold)
}

// Max returns the higher of two levels.
func Max(a, b Level) Level {
	if Rank(a) >= Rank(b) {
		return a
	}
	return b
}

// FromScore maps a [0,1] finding score to the bias severity tiers.
func FromScore(score float64) Level {
	switch {
	case score < 0.1:
		return None
	case score < 0.3:
		return Low
	case score < 0.5:
		return Medium
	case score < 0.7:
		return High
	default:
		return Critical
	}
}
