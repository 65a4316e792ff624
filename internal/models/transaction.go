package models

import "time"

// TransactionType classifies a scoring event in the ledger.
type TransactionType string

const (
	TransactionTask    TransactionType = "TASK"
	TransactionBonus   TransactionType = "BONUS"
	TransactionPenalty TransactionType = "PENALTY"
	TransactionBadge   TransactionType = "BADGE"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTask, TransactionBonus, TransactionPenalty, TransactionBadge:
		return true
	default:
		return false
	}
}

// TriggersUnlock reports whether appending a transaction of this type runs badge unlock evaluation.
func (t TransactionType) TriggersUnlock() bool {
	return t == TransactionTask || t == TransactionBonus || t == TransactionPenalty
}

// Bimesters are the four scoring periods of a school year.
const (
	MinBimester = 1
	MaxBimester = 4
)

// ValidBimester reports whether b is within the supported scoring periods.
func ValidBimester(b int) bool {
	return b >= MinBimester && b <= MaxBimester
}

// Transaction is one scoring event. Only Amount, Description and Note change after creation.
type Transaction struct {
	ID          string          `db:"id" json:"id"`
	StudentID   string          `db:"student_id" json:"student_id"`
	Type        TransactionType `db:"type" json:"type"`
	Amount      int             `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	BadgeID     string          `db:"badge_id" json:"badge_id,omitempty"`
	Bimester    int             `db:"bimester" json:"bimester"`
	Date        time.Time       `db:"date" json:"date"`
	Note        string          `db:"note" json:"note,omitempty"`
	TeacherName string          `db:"teacher_name" json:"teacher_name,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// OwnedBadgeID returns the badge a BADGE transaction grants. Older records carry the
// badge identifier in Description only.
func (t Transaction) OwnedBadgeID() string {
	if t.Type != TransactionBadge {
		return ""
	}
	if t.BadgeID != "" {
		return t.BadgeID
	}
	return t.Description
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	StudentID string
	ClassID   string
	Bimester  int
	Types     []TransactionType
	Page      int
	PageSize  int
}
