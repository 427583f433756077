package stats

import "math"

// Rating classifies a capability index
type Rating int

const (
	// RatingNone means the index could not be computed
	RatingNone Rating = iota
	// RatingPoor is an index below 1
	RatingPoor
	// RatingCapable is an index in [1, 1.33)
	RatingCapable
	// RatingExcellent is an index of 1.33 or more
	RatingExcellent
)

// Rate classifies a capability index into its colour band
func Rate(index *float64) Rating {
	if index == nil || math.IsNaN(*index) {
		return RatingNone
	}
	switch {
	case *index < 1:
		return RatingPoor
	case *index < 1.33:
		return RatingCapable
	default:
		return RatingExcellent
	}
}

func (r Rating) String() string {
	switch r {
	case RatingPoor:
		return "poor"
	case RatingCapable:
		return "capable"
	case RatingExcellent:
		return "excellent"
	default:
		return "none"
	}
}

// AxisRange returns a padded y-axis range covering the parseable samples and every present limit.
func AxisRange[S any](samples []S, limits ...*float64) (float64, float64) {
	all := Values(samples)
	for _, l := range limits {
		if v, ok := limit(l); ok {
			all = append(all, v)
		}
	}
	if len(all) == 0 {
		return 0, 10
	}

	minV, maxV := all[0], all[0]
	for _, v := range all[1:] {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}

	span := maxV - minV
	padding := span * 0.1
	if span == 0 {
		padding = math.Abs(minV) * 0.1
		if padding == 0 {
			padding = 1
		}
	}

	floor := math.Abs(minV) * 0.05
	if floor == 0 {
		floor = 0.1
	}
	padding = math.Max(padding, floor)

	return minV - padding, maxV + padding
}
