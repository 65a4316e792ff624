package models

import "time"

// School groups classes under one institution.
type School struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Class is a roster of students managed by an owner and optional collaborator teachers.
type Class struct {
	ID            string    `db:"id" json:"id"`
	SchoolID      string    `db:"school_id" json:"school_id"`
	Name          string    `db:"name" json:"name"`
	OwnerID       string    `db:"owner_id" json:"owner_id"`
	Collaborators []string  `db:"-" json:"collaborators"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CanManage reports whether userID owns or collaborates on the class.
func (c Class) CanManage(userID string) bool {
	if userID == "" {
		return false
	}
	if c.OwnerID == userID {
		return true
	}
	for _, id := range c.Collaborators {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the collaborator slice.
func (c Class) Clone() Class {
	out := c
	out.Collaborators = append([]string(nil), c.Collaborators...)
	return out
}
