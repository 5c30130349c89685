package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreshold(t *testing.T) {
	tests := []struct {
		name  string
		base  float64
		mult  float64
		level int
		want  int64
	}{
		{"level 1 is the base", 250, 1.5, 1, 250},
		{"level 2", 250, 1.5, 2, 375},
		{"level 3 floors the fraction", 250, 1.5, 3, 562},
		{"level 4", 250, 1.5, 4, 843},
		{"level 5", 250, 1.5, 5, 1265},
		{"multiplier 1.0 is flat", 100, 1.0, 7, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Threshold(tt.base, tt.mult, tt.level))
		})
	}
}

func TestCascadeNoLevelUp(t *testing.T) {
	res := Cascade(250, 1.5, 0, 1, 100)

	assert.Equal(t, int64(100), res.XP)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 1, res.FromLevel)
	assert.False(t, res.LeveledUp)
	assert.Empty(t, res.TitlesDue)
}

func TestCascadeSingleLevelUp(t *testing.T) {
	// 195 + 100 = 295 crosses the level-1 threshold of 250 but not the
	// level-2 threshold of 375.
	res := Cascade(250, 1.5, 195, 1, 100)

	assert.Equal(t, int64(295), res.XP)
	assert.Equal(t, 2, res.Level)
	assert.Equal(t, 1, res.FromLevel)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, []string{"title_fate_awakened"}, res.TitlesDue)
}

func TestCascadeMultiLevelJump(t *testing.T) {
	// Thresholds: 250, 375, 562, 843, 1265, 1898, 2847. A single 2000 XP
	// grant from zero clears the first six.
	res := Cascade(250, 1.5, 0, 1, 2000)

	require.Equal(t, 7, res.Level)
	assert.Equal(t, int64(2000), res.XP)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, []string{"title_fate_awakened", "title_fate_burning"}, res.TitlesDue)
}

func TestCascadeXPNeverResets(t *testing.T) {
	res := Cascade(250, 1.5, 240, 1, 20)

	// XP is cumulative; crossing a threshold does not subtract it.
	assert.Equal(t, int64(260), res.XP)
	assert.Equal(t, 2, res.Level)
}

func TestCascadeDegenerateTuningIsBounded(t *testing.T) {
	// A flat multiplier with a tiny base would loop forever without the
	// step cap.
	res := Cascade(10, 1.0, 0, 1, 1_000_000)

	assert.Equal(t, 1+maxCascadeSteps, res.Level)
	assert.Equal(t, int64(1_000_000), res.XP)
}
