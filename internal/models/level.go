package models

// LevelRule is one tier of a bimester ladder. A nil Max marks the unbounded top tier.
type LevelRule struct {
	Min   int    `json:"min" db:"min_points"`
	Max   *int   `json:"max" db:"max_points"`
	Title string `json:"title" db:"title"`
	Color string `json:"color" db:"color"`
}

// Contains reports whether points fall inside the rule.
func (r LevelRule) Contains(points int) bool {
	return points >= r.Min && (r.Max == nil || points <= *r.Max)
}

// Ladder is an ordered partition of the non-negative integers into tiers.
type Ladder []LevelRule

// NextTier describes the tier after the current one.
type NextTier struct {
	Title        string `json:"title"`
	Threshold    int    `json:"threshold"`
	PointsNeeded int    `json:"points_needed"`
}

// TierProgress reports a student's standing within one bimester.
type TierProgress struct {
	Bimester int       `json:"bimester"`
	Points   int       `json:"points"`
	Tier     LevelRule `json:"tier"`
	Next     *NextTier `json:"next,omitempty"`
	Custom   bool      `json:"custom_ladder"`
}

// IntPtr is a helper for building ladders.
func IntPtr(v int) *int {
	return &v
}
