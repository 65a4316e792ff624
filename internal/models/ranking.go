package models

import "time"

// StudentProgress reports balances and tiers for every bimester.
type StudentProgress struct {
	Student   Student        `json:"student"`
	Bimesters []TierProgress `json:"bimesters"`
	Total     int            `json:"total"`
}

// RankingEntry is one line of a class leaderboard.
type RankingEntry struct {
	Rank      int    `json:"rank"`
	StudentID string `json:"student_id"`
	FullName  string `json:"full_name"`
	Points    int    `json:"points"`
	Tier      string `json:"tier"`
	Color     string `json:"color"`
	Badges    int    `json:"badges"`
}

// ClassRanking orders the students of a class by their balance in one bimester.
type ClassRanking struct {
	ClassID     string         `json:"class_id"`
	Bimester    int            `json:"bimester"`
	Entries     []RankingEntry `json:"entries"`
	GeneratedAt time.Time      `json:"generated_at"`
}
