package models

import "time"

// SnapshotVersion is bumped whenever the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the self-describing export of the whole data graph.
type Snapshot struct {
	Version      int               `json:"version"`
	ExportedAt   time.Time         `json:"exported_at"`
	Schools      []SnapshotSchool  `json:"schools"`
	Transactions []Transaction     `json:"transactions"`
	Catalog      Catalog           `json:"catalog"`
	LevelRules   map[int]Ladder    `json:"level_rules,omitempty"`
	Teachers     []SnapshotTeacher `json:"teachers,omitempty"`
}

// SnapshotSchool nests classes under their school.
type SnapshotSchool struct {
	School
	Classes []SnapshotClass `json:"classes"`
}

// SnapshotClass nests students under their class.
type SnapshotClass struct {
	Class
	Students []Student `json:"students"`
}

// SnapshotTeacher keeps attribution readable after an import.
type SnapshotTeacher struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// Flatten returns roster entities in parent-first order.
func (s Snapshot) Flatten() ([]School, []Class, []Student) {
	var (
		schools  []School
		classes  []Class
		students []Student
	)
	for _, sc := range s.Schools {
		schools = append(schools, sc.School)
		for _, cl := range sc.Classes {
			classes = append(classes, cl.Class)
			students = append(students, cl.Students...)
		}
	}
	return schools, classes, students
}

// State is the flat form of everything the service keeps in memory.
type State struct {
	Schools      []School
	Classes      []Class
	Students     []Student
	Transactions []Transaction
	Catalog      Catalog
	LevelRules   map[int]Ladder
}
