package service

import "github.com/noah-isme/lxc-ledger-api/internal/models"

// PointRange is an inclusive bound on catalog points.
type PointRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Clamp forces v into the range.
func (r PointRange) Clamp(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

var taskRanges = map[models.TaskCategory]PointRange{
	models.TaskDaily:     {Min: 10, Max: 100},
	models.TaskWeekly:    {Min: 20, Max: 200},
	models.TaskSideQuest: {Min: 5, Max: 50},
	models.TaskBoss:      {Min: 50, Max: 250},
	models.TaskCustom:    {Min: 5, Max: 100},
}

var (
	penaltyRange     = PointRange{Min: -30, Max: -1}
	badgeRewardRange = PointRange{Min: 0, Max: 100}
)

// TaskRange returns the allowed points of a task category.
func TaskRange(category models.TaskCategory) (PointRange, bool) {
	r, ok := taskRanges[category]
	return r, ok
}

// ClampTaskPoints bounds points by the category range. Unknown categories use CUSTOM.
func ClampTaskPoints(category models.TaskCategory, points int) int {
	r, ok := taskRanges[category]
	if !ok {
		r = taskRanges[models.TaskCustom]
	}
	return r.Clamp(points)
}

// ClampPenaltyPoints bounds a penalty deduction.
func ClampPenaltyPoints(points int) int {
	return penaltyRange.Clamp(points)
}

// ClampBadgeReward bounds a badge reward.
func ClampBadgeReward(reward int) int {
	return badgeRewardRange.Clamp(reward)
}
