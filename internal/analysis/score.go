package analysis

import (
	"math"
	"sort"
	"strings"
)

// Score bands.
const (
	BandHigh    = "high"
	BandMedium  = "medium"
	BandLow     = "low"
	BandUnknown = "unknown"
)

// Score is the aggregate over scorable axes. MatchScore is nil when no axis
// could be scored.
type Score struct {
	MatchScore   *int     `json:"match_score"`
	Band         string   `json:"band"`
	ScoredAxes   []string `json:"scored_axes"`
	ExcludedAxes []string `json:"excluded_axes"`
}

// Aggregate computes the weighted mean axis score of a culture-fit payload.
// Axes with an unknown status, a non-numeric score or a zero weight are
// excluded and listed.
func Aggregate(payload map[string]any) Score {
	axes, _ := payload["axis_alignments"].(map[string]any)
	weights := axisWeights(payload)

	names := make([]string, 0, len(axes))
	for name := range axes {
		names = append(names, name)
	}
	sort.Strings(names)

	score := Score{ScoredAxes: []string{}, ExcludedAxes: []string{}}
	var sum, total float64
	for _, name := range names {
		value, ok := axisValue(axes[name])
		if !ok {
			score.ExcludedAxes = append(score.ExcludedAxes, name)
			continue
		}
		weight := 1.0
		if w, found := weights[name]; found {
			weight = w
		}
		if weight <= 0 {
			score.ExcludedAxes = append(score.ExcludedAxes, name)
			continue
		}
		sum += value * weight
		total += weight
		score.ScoredAxes = append(score.ScoredAxes, name)
	}

	if total == 0 {
		score.Band = BandUnknown
		return score
	}

	match := int(math.Round(sum / total))
	score.MatchScore = &match
	score.Band = band(match)
	return score
}

func axisValue(raw any) (float64, bool) {
	axis, ok := raw.(map[string]any)
	if !ok {
		return 0, false
	}
	if strings.EqualFold(coerceString(axis["status"]), "unknown") {
		return 0, false
	}
	if s, isString := axis["axis_score"].(string); isString && strings.EqualFold(strings.TrimSpace(s), "unknown") {
		return 0, false
	}
	value := coerceFloat(axis["axis_score"])
	if math.IsNaN(value) || value < 0 || value > 100 {
		return 0, false
	}
	return value, true
}

func axisWeights(payload map[string]any) map[string]float64 {
	overall, _ := payload["overall"].(map[string]any)
	scoring, _ := overall["scoring"].(map[string]any)
	raw, _ := scoring["weights"].(map[string]any)

	weights := make(map[string]float64, len(raw))
	for name, v := range raw {
		w := coerceFloat(v)
		if math.IsNaN(w) {
			continue
		}
		weights[name] = w
	}
	return weights
}

func band(score int) string {
	switch {
	case score >= 70:
		return BandHigh
	case score >= 40:
		return BandMedium
	default:
		return BandLow
	}
}
