package models

import (
	"sort"
	"time"
)

// Balances maps a bimester to the cached LXC total for that period.
type Balances map[int]int

// Get returns the balance for a bimester, zero when absent.
func (b Balances) Get(bimester int) int {
	if b == nil {
		return 0
	}
	return b[bimester]
}

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Total sums every period.
func (b Balances) Total() int {
	total := 0
	for _, v := range b {
		total += v
	}
	return total
}

// Student is an enrolled learner with per-period cached balances and owned badges.
// SchoolID and ClassID are lookup keys into the roster.
type Student struct {
	ID        string    `db:"id" json:"id"`
	SchoolID  string    `db:"school_id" json:"school_id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	LXCTotal  Balances  `db:"-" json:"lxc_total"`
	Badges    []string  `db:"-" json:"badges"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers cannot alias store state.
func (s Student) Clone() Student {
	out := s
	out.LXCTotal = s.LXCTotal.Clone()
	out.Badges = append([]string(nil), s.Badges...)
	return out
}

// HasBadge reports whether the student owns badgeID.
func (s *Student) HasBadge(badgeID string) bool {
	for _, b := range s.Badges {
		if b == badgeID {
			return true
		}
	}
	return false
}

// AddBadge inserts badgeID into the owned set. It returns false when already owned.
func (s *Student) AddBadge(badgeID string) bool {
	if badgeID == "" || s.HasBadge(badgeID) {
		return false
	}
	s.Badges = append(s.Badges, badgeID)
	sort.Strings(s.Badges)
	return true
}

// RemoveBadge drops badgeID from the owned set. It returns false when not owned.
func (s *Student) RemoveBadge(badgeID string) bool {
	for i, b := range s.Badges {
		if b == badgeID {
			s.Badges = append(s.Badges[:i], s.Badges[i+1:]...)
			return true
		}
	}
	return false
}

// AddLXC applies a signed delta to the balance of a bimester.
func (s *Student) AddLXC(bimester, delta int) {
	if s.LXCTotal == nil {
		s.LXCTotal = make(Balances)
	}
	s.LXCTotal[bimester] += delta
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	SchoolID string
	ClassID  string
	Search   string
	Page     int
	PageSize int
}
