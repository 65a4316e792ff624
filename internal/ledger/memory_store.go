package ledger

import (
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// MemoryStore is the process-local view of the roster and ledger. It indexes students
// by class and transactions by student so neither lookup scans the whole tree.
type MemoryStore struct {
	mu sync.RWMutex

	schools  map[string]models.School
	classes  map[string]models.Class
	students map[string]models.Student
	txs      map[string]models.Transaction

	byStudent map[string]map[string]struct{}
	byClass   map[string]map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.schools = make(map[string]models.School)
	s.classes = make(map[string]models.Class)
	s.students = make(map[string]models.Student)
	s.txs = make(map[string]models.Transaction)
	s.byStudent = make(map[string]map[string]struct{})
	s.byClass = make(map[string]map[string]struct{})
}

// View runs fn under a read lock.
func (s *MemoryStore) View(fn func(r Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(baseReader{s})
}

// Update stages writes made by fn and applies them only when fn returns nil.
func (s *MemoryStore) Update(fn func(w Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		base:     baseReader{s},
		students: make(map[string]models.Student),
		txs:      make(map[string]models.Transaction),
		deleted:  make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for _, st := range tx.students {
		s.putStudentLocked(st)
	}
	for id := range tx.deleted {
		s.deleteTransactionLocked(id)
	}
	for _, t := range tx.txs {
		s.putTransactionLocked(t)
	}
	return nil
}

func (s *MemoryStore) putStudentLocked(st models.Student) {
	if prev, ok := s.students[st.ID]; ok && prev.ClassID != st.ClassID {
		if set := s.byClass[prev.ClassID]; set != nil {
			delete(set, st.ID)
		}
	}
	s.students[st.ID] = st.Clone()
	set := s.byClass[st.ClassID]
	if set == nil {
		set = make(map[string]struct{})
		s.byClass[st.ClassID] = set
	}
	set[st.ID] = struct{}{}
}

func (s *MemoryStore) putTransactionLocked(t models.Transaction) {
	if prev, ok := s.txs[t.ID]; ok && prev.StudentID != t.StudentID {
		delete(s.byStudent[prev.StudentID], t.ID)
	}
	s.txs[t.ID] = t
	set := s.byStudent[t.StudentID]
	if set == nil {
		set = make(map[string]struct{})
		s.byStudent[t.StudentID] = set
	}
	set[t.ID] = struct{}{}
}

func (s *MemoryStore) deleteTransactionLocked(id string) {
	t, ok := s.txs[id]
	if !ok {
		return
	}
	delete(s.txs, id)
	if set := s.byStudent[t.StudentID]; set != nil {
		delete(set, id)
	}
}

// Replace swaps the whole content of the store.
func (s *MemoryStore) Replace(schools []models.School, classes []models.Class, students []models.Student, txs []models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	for _, sc := range schools {
		s.schools[sc.ID] = sc
	}
	for _, c := range classes {
		s.classes[c.ID] = c.Clone()
	}
	for _, st := range students {
		s.putStudentLocked(st)
	}
	for _, t := range txs {
		s.putTransactionLocked(t)
	}
}

// PutSchool inserts or replaces a school.
func (s *MemoryStore) PutSchool(school models.School) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools[school.ID] = school
}

// School returns a school by id.
func (s *MemoryStore) School(id string) (models.School, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schools[id]
	return sc, ok
}

// Schools lists schools ordered by name.
func (s *MemoryStore) Schools() []models.School {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.School, 0, len(s.schools))
	for _, sc := range s.schools {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeleteSchool removes a school that has no classes left.
func (s *MemoryStore) DeleteSchool(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schools[id]; !ok {
		return false
	}
	for _, c := range s.classes {
		if c.SchoolID == id {
			return false
		}
	}
	delete(s.schools, id)
	return true
}

// PutClass inserts or replaces a class.
func (s *MemoryStore) PutClass(class models.Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[class.ID] = class.Clone()
}

// Class returns a class by id.
func (s *MemoryStore) Class(id string) (models.Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	return c.Clone(), ok
}

// Classes lists classes of a school, or every class when schoolID is empty.
func (s *MemoryStore) Classes(schoolID string) []models.Class {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Class, 0)
	for _, c := range s.classes {
		if schoolID == "" || c.SchoolID == schoolID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeleteClass removes an empty class.
func (s *MemoryStore) DeleteClass(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[id]; !ok {
		return false
	}
	if len(s.byClass[id]) > 0 {
		return false
	}
	delete(s.classes, id)
	delete(s.byClass, id)
	return true
}

// Student returns a student by id.
func (s *MemoryStore) Student(id string) (models.Student, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return baseReader{s}.Student(id)
}

// PutStudent inserts or replaces a student outside of a ledger operation.
func (s *MemoryStore) PutStudent(student models.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putStudentLocked(student)
}

// DeleteStudent removes a student and purges its transactions so they are never
// projected again. It returns the purged transactions.
func (s *MemoryStore) DeleteStudent(id string) ([]models.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return nil, false
	}
	purged := make([]models.Transaction, 0, len(s.byStudent[id]))
	for txID := range s.byStudent[id] {
		purged = append(purged, s.txs[txID])
		delete(s.txs, txID)
	}
	delete(s.byStudent, id)
	delete(s.students, id)
	if set := s.byClass[st.ClassID]; set != nil {
		delete(set, id)
	}
	sortTransactions(purged)
	return purged, true
}

// ClassStudents returns the students enrolled in a class, ordered by name.
func (s *MemoryStore) ClassStudents(classID string) []models.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Student, 0, len(s.byClass[classID]))
	for id := range s.byClass[classID] {
		out = append(out, s.students[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out
}

// ListStudents filters and paginates students.
func (s *MemoryStore) ListStudents(filter models.StudentFilter) ([]models.Student, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]models.Student, 0)
	for _, st := range s.students {
		if filter.ClassID != "" && st.ClassID != filter.ClassID {
			continue
		}
		if filter.SchoolID != "" && st.SchoolID != filter.SchoolID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(st.FullName), search) {
			continue
		}
		matched = append(matched, st.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].FullName == matched[j].FullName {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].FullName < matched[j].FullName
	})
	page, size := models.NormalizePage(filter.Page, filter.PageSize, 50, 500)
	return paginate(matched, page, size), len(matched)
}

// ListTransactions filters transactions, newest first.
func (s *MemoryStore) ListTransactions(filter models.TransactionFilter) ([]models.Transaction, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make(map[models.TransactionType]struct{}, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = struct{}{}
	}
	var candidates []models.Transaction
	if filter.StudentID != "" {
		candidates = baseReader{s}.StudentTransactions(filter.StudentID)
	} else {
		candidates = make([]models.Transaction, 0, len(s.txs))
		for _, t := range s.txs {
			candidates = append(candidates, t)
		}
	}
	matched := make([]models.Transaction, 0, len(candidates))
	for _, t := range candidates {
		if filter.Bimester != 0 && t.Bimester != filter.Bimester {
			continue
		}
		if len(types) > 0 {
			if _, ok := types[t.Type]; !ok {
				continue
			}
		}
		if filter.ClassID != "" {
			st, ok := s.students[t.StudentID]
			if !ok || st.ClassID != filter.ClassID {
				continue
			}
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date.Equal(matched[j].Date) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Date.After(matched[j].Date)
	})
	page, size := models.NormalizePage(filter.Page, filter.PageSize, 50, 1000)
	return paginate(matched, page, size), len(matched)
}

// All returns a consistent copy of every entity.
func (s *MemoryStore) All() ([]models.School, []models.Class, []models.Student, []models.Transaction) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schools := make([]models.School, 0, len(s.schools))
	for _, sc := range s.schools {
		schools = append(schools, sc)
	}
	sort.Slice(schools, func(i, j int) bool { return schools[i].ID < schools[j].ID })
	classes := make([]models.Class, 0, len(s.classes))
	for _, c := range s.classes {
		classes = append(classes, c.Clone())
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	students := make([]models.Student, 0, len(s.students))
	for _, st := range s.students {
		students = append(students, st.Clone())
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
	txs := make([]models.Transaction, 0, len(s.txs))
	for _, t := range s.txs {
		txs = append(txs, t)
	}
	sortTransactions(txs)
	return schools, classes, students, txs
}

func paginate[T any](items []T, page, size int) []T {
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func sortTransactions(txs []models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Date.Equal(txs[j].Date) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].Date.Before(txs[j].Date)
	})
}

type baseReader struct {
	s *MemoryStore
}

func (r baseReader) Student(id string) (models.Student, bool) {
	st, ok := r.s.students[id]
	if !ok {
		return models.Student{}, false
	}
	return st.Clone(), true
}

func (r baseReader) Transaction(id string) (models.Transaction, bool) {
	t, ok := r.s.txs[id]
	return t, ok
}

func (r baseReader) StudentTransactions(studentID string) []models.Transaction {
	ids := r.s.byStudent[studentID]
	out := make([]models.Transaction, 0, len(ids))
	for id := range ids {
		out = append(out, r.s.txs[id])
	}
	sortTransactions(out)
	return out
}

// memTx overlays staged writes on top of the committed state.
type memTx struct {
	base     baseReader
	students map[string]models.Student
	txs      map[string]models.Transaction
	deleted  map[string]struct{}
}

func (t *memTx) Student(id string) (models.Student, bool) {
	if st, ok := t.students[id]; ok {
		return st.Clone(), true
	}
	return t.base.Student(id)
}

func (t *memTx) Transaction(id string) (models.Transaction, bool) {
	if tx, ok := t.txs[id]; ok {
		return tx, true
	}
	if _, gone := t.deleted[id]; gone {
		return models.Transaction{}, false
	}
	return t.base.Transaction(id)
}

func (t *memTx) StudentTransactions(studentID string) []models.Transaction {
	out := make([]models.Transaction, 0)
	seen := make(map[string]struct{})
	for _, tx := range t.base.StudentTransactions(studentID) {
		if _, gone := t.deleted[tx.ID]; gone {
			continue
		}
		if staged, ok := t.txs[tx.ID]; ok {
			tx = staged
		}
		seen[tx.ID] = struct{}{}
		if tx.StudentID == studentID {
			out = append(out, tx)
		}
	}
	for id, tx := range t.txs {
		if _, ok := seen[id]; ok {
			continue
		}
		if tx.StudentID == studentID {
			out = append(out, tx)
		}
	}
	sortTransactions(out)
	return out
}

func (t *memTx) PutStudent(student models.Student) {
	t.students[student.ID] = student.Clone()
}

func (t *memTx) PutTransaction(tx models.Transaction) {
	delete(t.deleted, tx.ID)
	t.txs[tx.ID] = tx
}

func (t *memTx) DeleteTransaction(id string) {
	delete(t.txs, id)
	t.deleted[id] = struct{}{}
}

// Restore replaces the roster and the ledger with state.
func (s *MemoryStore) Restore(state models.State) {
	s.Replace(state.Schools, state.Classes, state.Students, state.Transactions)
}
