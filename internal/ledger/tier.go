package ledger

import (
	"fmt"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

var defaultTitles = [...]string{"Rookie", "Explorer", "Adventurer", "Hero", "Legend"}

var defaultColors = [...]string{"#9CA3AF", "#34D399", "#60A5FA", "#A78BFA", "#F59E0B"}

// lower bounds of every default tier after the first, per bimester.
var defaultThresholds = map[int][4]int{
	1: {100, 250, 500, 900},
	2: {150, 350, 650, 1100},
	3: {200, 450, 800, 1300},
	4: {250, 550, 950, 1500},
}

// DefaultLadder returns the built-in ladder for bimester. Out of range bimesters get
// the first bimester's ladder.
func DefaultLadder(bimester int) models.Ladder {
	bounds, ok := defaultThresholds[bimester]
	if !ok {
		bounds = defaultThresholds[models.MinBimester]
	}
	ladder := make(models.Ladder, 0, len(defaultTitles))
	lower := 0
	for i, title := range defaultTitles {
		rule := models.LevelRule{Min: lower, Title: title, Color: defaultColors[i]}
		if i < len(bounds) {
			rule.Max = models.IntPtr(bounds[i] - 1)
			lower = bounds[i]
		}
		ladder = append(ladder, rule)
	}
	return ladder
}

// GetTier returns the first rule containing points. Negative balances belong to the
// first rule. When a non-negative balance matches no rule it falls back to the first
// rule and reports matched=false so callers can flag the ladder. An empty ladder yields
// a zero rule.
func GetTier(points int, ladder models.Ladder) (rule models.LevelRule, matched bool) {
	if len(ladder) == 0 {
		return models.LevelRule{}, false
	}
	idx, ok := tierIndex(points, ladder)
	return ladder[idx], ok
}

// GetNextTier returns nil when points sit in the unbounded top tier, otherwise the
// following rule's threshold and the points still missing to reach it.
func GetNextTier(points int, ladder models.Ladder) *models.NextTier {
	if len(ladder) == 0 {
		return nil
	}
	idx, _ := tierIndex(points, ladder)
	current := ladder[idx]
	if current.Max == nil || idx+1 >= len(ladder) {
		return nil
	}
	next := ladder[idx+1]
	needed := next.Min - points
	if needed < 0 {
		needed = 0
	}
	return &models.NextTier{Title: next.Title, Threshold: next.Min, PointsNeeded: needed}
}

// Progress combines GetTier and GetNextTier for one bimester balance.
func Progress(bimester, points int, ladder models.Ladder, custom bool) (models.TierProgress, bool) {
	tier, matched := GetTier(points, ladder)
	return models.TierProgress{
		Bimester: bimester,
		Points:   points,
		Tier:     tier,
		Next:     GetNextTier(points, ladder),
		Custom:   custom,
	}, matched
}

// ValidateLadder checks that ladder starts at zero, is ordered without gaps or overlaps
// and ends with exactly one unbounded rule.
func ValidateLadder(ladder models.Ladder) error {
	if len(ladder) == 0 {
		return fmt.Errorf("%w: ladder is empty", ErrMalformedLadder)
	}
	if ladder[0].Min != 0 {
		return fmt.Errorf("%w: first tier must start at 0", ErrMalformedLadder)
	}
	for i, rule := range ladder {
		if rule.Title == "" {
			return fmt.Errorf("%w: tier %d has no title", ErrMalformedLadder, i)
		}
		last := i == len(ladder)-1
		if rule.Max == nil {
			if !last {
				return fmt.Errorf("%w: only the last tier may be unbounded", ErrMalformedLadder)
			}
			continue
		}
		if last {
			return fmt.Errorf("%w: last tier must be unbounded", ErrMalformedLadder)
		}
		if *rule.Max < rule.Min {
			return fmt.Errorf("%w: tier %d max below min", ErrMalformedLadder, i)
		}
		if ladder[i+1].Min != *rule.Max+1 {
			return fmt.Errorf("%w: gap or overlap after tier %d", ErrMalformedLadder, i)
		}
	}
	return nil
}

func tierIndex(points int, ladder models.Ladder) (int, bool) {
	if points < 0 {
		return 0, true
	}
	for i, rule := range ladder {
		if rule.Contains(points) {
			return i, true
		}
	}
	return 0, false
}
