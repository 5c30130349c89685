package ingest

import "math"

// LevelTitles maps levels crossed during a cascade to the title granted on
// arrival. Grants are idempotent; re-crossing a level never duplicates.
var LevelTitles = map[int]string{
	2:  "title_fate_awakened",
	5:  "title_fate_burning",
	10: "title_fate_ascendant",
}

// maxCascadeSteps bounds the cascade loop against degenerate tunings
// (multiplier 1.0 with a tiny base threshold).
const maxCascadeSteps = 500

// Threshold is the XP required to advance past the given level:
// floor(base * mult^(level-1)).
func Threshold(base, mult float64, level int) int64 {
	return int64(math.Floor(base * math.Pow(mult, float64(level-1))))
}

// CascadeResult is the post-application progression state. TitlesDue lists
// the level titles earned by levels crossed in this application, in order.
type CascadeResult struct {
	XP        int64
	Level     int
	FromLevel int
	LeveledUp bool
	TitlesDue []string
}

// Cascade applies an XP delta and walks the level thresholds, handling
// multi-level jumps in a single application.
func Cascade(base, mult float64, xp int64, level int, delta int64) CascadeResult {
	res := CascadeResult{
		XP:        xp + delta,
		Level:     level,
		FromLevel: level,
	}
	for steps := 0; res.XP >= Threshold(base, mult, res.Level) && steps < maxCascadeSteps; steps++ {
		res.Level++
		if title, ok := LevelTitles[res.Level]; ok {
			res.TitlesDue = append(res.TitlesDue, title)
		}
	}
	res.LeveledUp = res.Level > res.FromLevel
	return res
}
