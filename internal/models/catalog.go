package models

import "time"

// CatalogKind discriminates catalog item variants.
type CatalogKind string

const (
	CatalogTask    CatalogKind = "TASK"
	CatalogBadge   CatalogKind = "BADGE"
	CatalogPenalty CatalogKind = "PENALTY"
)

// TaskCategory groups tasks by cadence and difficulty.
type TaskCategory string

const (
	TaskDaily     TaskCategory = "DAILY"
	TaskWeekly    TaskCategory = "WEEKLY"
	TaskSideQuest TaskCategory = "SIDE_QUEST"
	TaskBoss      TaskCategory = "BOSS"
	TaskCustom    TaskCategory = "CUSTOM"
)

// UnlockCriteriaType selects what an automatic unlock measures.
type UnlockCriteriaType string

const (
	UnlockByLXC   UnlockCriteriaType = "LXC"
	UnlockByTasks UnlockCriteriaType = "TASKS"
)

// UnlockCriteria is a badge's declarative automatic-award rule.
type UnlockCriteria struct {
	Type      UnlockCriteriaType `json:"type"`
	Threshold int                `json:"threshold"`
}

// CatalogItem is implemented by TaskDefinition, BadgeDefinition and PenaltyDefinition only.
type CatalogItem interface {
	CatalogID() string
	Kind() CatalogKind
	catalogItem()
}

// TaskDefinition is a reusable task template.
type TaskDefinition struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Category  TaskCategory `json:"category"`
	Points    int          `json:"points"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// BadgeDefinition is a badge template. Empty Bimesters means available in every period.
type BadgeDefinition struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	RewardValue        int             `json:"reward_value"`
	Bimesters          []int           `json:"bimesters,omitempty"`
	AutoUnlockCriteria *UnlockCriteria `json:"auto_unlock_criteria,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// AvailableIn reports whether the badge can be earned in bimester.
func (b BadgeDefinition) AvailableIn(bimester int) bool {
	if len(b.Bimesters) == 0 {
		return true
	}
	for _, v := range b.Bimesters {
		if v == bimester {
			return true
		}
	}
	return false
}

// PenaltyDefinition is a reusable deduction.
type PenaltyDefinition struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t TaskDefinition) CatalogID() string    { return t.ID }
func (t TaskDefinition) Kind() CatalogKind    { return CatalogTask }
func (TaskDefinition) catalogItem()           {}
func (b BadgeDefinition) CatalogID() string   { return b.ID }
func (b BadgeDefinition) Kind() CatalogKind   { return CatalogBadge }
func (BadgeDefinition) catalogItem()          {}
func (p PenaltyDefinition) CatalogID() string { return p.ID }
func (p PenaltyDefinition) Kind() CatalogKind { return CatalogPenalty }
func (PenaltyDefinition) catalogItem()        {}

// CatalogEntry is the wire form of a CatalogItem: exactly one variant is set, matching Kind.
type CatalogEntry struct {
	Kind    CatalogKind        `json:"kind"`
	Task    *TaskDefinition    `json:"task,omitempty"`
	Badge   *BadgeDefinition   `json:"badge,omitempty"`
	Penalty *PenaltyDefinition `json:"penalty,omitempty"`
}

// NewCatalogEntry wraps an item into its tagged form.
func NewCatalogEntry(item CatalogItem) CatalogEntry {
	switch v := item.(type) {
	case TaskDefinition:
		return CatalogEntry{Kind: CatalogTask, Task: &v}
	case BadgeDefinition:
		return CatalogEntry{Kind: CatalogBadge, Badge: &v}
	case PenaltyDefinition:
		return CatalogEntry{Kind: CatalogPenalty, Penalty: &v}
	default:
		return CatalogEntry{}
	}
}

// Item unwraps the entry. It returns nil when Kind and payload disagree.
func (e CatalogEntry) Item() CatalogItem {
	switch e.Kind {
	case CatalogTask:
		if e.Task != nil {
			return *e.Task
		}
	case CatalogBadge:
		if e.Badge != nil {
			return *e.Badge
		}
	case CatalogPenalty:
		if e.Penalty != nil {
			return *e.Penalty
		}
	}
	return nil
}

// ID returns the identifier of the wrapped item.
func (e CatalogEntry) ID() string {
	if item := e.Item(); item != nil {
		return item.CatalogID()
	}
	return ""
}

// Catalog groups every catalog definition.
type Catalog struct {
	Tasks     []TaskDefinition    `json:"tasks"`
	Badges    []BadgeDefinition   `json:"badges"`
	Penalties []PenaltyDefinition `json:"penalties"`
}

// Entries flattens the catalog into tagged entries.
func (c Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(c.Tasks)+len(c.Badges)+len(c.Penalties))
	for _, t := range c.Tasks {
		out = append(out, NewCatalogEntry(t))
	}
	for _, b := range c.Badges {
		out = append(out, NewCatalogEntry(b))
	}
	for _, p := range c.Penalties {
		out = append(out, NewCatalogEntry(p))
	}
	return out
}
