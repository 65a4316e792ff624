package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

func threeTierLadder() models.Ladder {
	return models.Ladder{
		{Min: 0, Max: models.IntPtr(199), Title: "A"},
		{Min: 200, Max: models.IntPtr(399), Title: "B"},
		{Min: 400, Title: "C"},
	}
}

func TestGetTierBoundaries(t *testing.T) {
	ladder := threeTierLadder()

	cases := []struct {
		points int
		title  string
	}{
		{0, "A"},
		{199, "A"},
		{200, "B"},
		{399, "B"},
		{400, "C"},
		{10000, "C"},
	}
	for _, tc := range cases {
		rule, matched := GetTier(tc.points, ladder)
		assert.True(t, matched)
		assert.Equal(t, tc.title, rule.Title, "points=%d", tc.points)
	}
}

func TestGetNextTier(t *testing.T) {
	ladder := threeTierLadder()

	next := GetNextTier(199, ladder)
	require.NotNil(t, next)
	assert.Equal(t, "B", next.Title)
	assert.Equal(t, 200, next.Threshold)
	assert.Equal(t, 1, next.PointsNeeded)

	next = GetNextTier(0, ladder)
	require.NotNil(t, next)
	assert.Equal(t, 200, next.PointsNeeded)

	assert.Nil(t, GetNextTier(10000, ladder))
	assert.Nil(t, GetNextTier(400, ladder))
	assert.Nil(t, GetNextTier(10, nil))
}

func TestGetTierFallsBackToFirstRule(t *testing.T) {
	gappy := models.Ladder{
		{Min: 0, Max: models.IntPtr(99), Title: "Low"},
		{Min: 150, Title: "High"},
	}
	rule, matched := GetTier(120, gappy)
	assert.False(t, matched)
	assert.Equal(t, "Low", rule.Title)

	rule, matched = GetTier(100, gappy)
	assert.False(t, matched)
	assert.Equal(t, "Low", rule.Title)

	_, matched = GetTier(10, nil)
	assert.False(t, matched)
}

func TestGetTierPlacesNegativeBalanceInFirstTier(t *testing.T) {
	rule, matched := GetTier(-40, DefaultLadder(1))
	assert.True(t, matched)
	assert.Equal(t, "Rookie", rule.Title)

	shifted := models.Ladder{{Min: 10, Max: models.IntPtr(49), Title: "Low"}, {Min: 50, Title: "High"}}
	rule, matched = GetTier(-1, shifted)
	assert.True(t, matched)
	assert.Equal(t, "Low", rule.Title)

	_, matched = GetTier(5, shifted)
	assert.False(t, matched)
}

func TestDefaultLaddersAreTotalAndMonotonic(t *testing.T) {
	for b := models.MinBimester; b <= models.MaxBimester; b++ {
		ladder := DefaultLadder(b)
		require.NoError(t, ValidateLadder(ladder), "bimester %d", b)

		prev := 0
		for points := 0; points <= 3000; points++ {
			rule, matched := GetTier(points, ladder)
			require.True(t, matched)
			idx := -1
			for i := range ladder {
				if ladder[i].Title == rule.Title {
					idx = i
				}
			}
			assert.GreaterOrEqual(t, idx, prev)
			prev = idx
		}
	}
}

func TestDefaultLadderValues(t *testing.T) {
	ladder := DefaultLadder(2)
	require.Len(t, ladder, 5)
	assert.Equal(t, "Rookie", ladder[0].Title)
	assert.Equal(t, 149, *ladder[0].Max)
	assert.Equal(t, 1100, ladder[4].Min)
	assert.Nil(t, ladder[4].Max)

	assert.Equal(t, DefaultLadder(1), DefaultLadder(9))
}

func TestValidateLadder(t *testing.T) {
	cases := []struct {
		name   string
		ladder models.Ladder
		ok     bool
	}{
		{"well formed", threeTierLadder(), true},
		{"empty", models.Ladder{}, false},
		{"not starting at zero", models.Ladder{{Min: 1, Title: "A"}}, false},
		{"bounded top", models.Ladder{{Min: 0, Max: models.IntPtr(10), Title: "A"}}, false},
		{"unbounded middle", models.Ladder{{Min: 0, Title: "A"}, {Min: 10, Title: "B"}}, false},
		{"gap", models.Ladder{{Min: 0, Max: models.IntPtr(10), Title: "A"}, {Min: 12, Title: "B"}}, false},
		{"overlap", models.Ladder{{Min: 0, Max: models.IntPtr(10), Title: "A"}, {Min: 10, Title: "B"}}, false},
		{"inverted", models.Ladder{{Min: 0, Max: models.IntPtr(-1), Title: "A"}, {Min: 0, Title: "B"}}, false},
		{"untitled", models.Ladder{{Min: 0}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateLadder(tc.ladder)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrMalformedLadder)
		})
	}
}

func TestProgress(t *testing.T) {
	p, matched := Progress(2, 250, threeTierLadder(), true)
	assert.True(t, matched)
	assert.Equal(t, "B", p.Tier.Title)
	require.NotNil(t, p.Next)
	assert.Equal(t, 150, p.Next.PointsNeeded)
	assert.True(t, p.Custom)
}
