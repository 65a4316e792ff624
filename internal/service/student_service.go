package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/export"
)

type studentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	CreateBatch(ctx context.Context, students []models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

type pendingCounter interface {
	Pending() int
}

type csvParser interface {
	Parse(r io.Reader, required ...string) (export.Dataset, error)
}

// CreateStudentRequest holds payload for enrolling a student in a class.
type CreateStudentRequest struct {
	ClassID  string `json:"class_id" validate:"required"`
	FullName string `json:"full_name" validate:"required,max=200"`
}

// UpdateStudentRequest renames a student or moves them to another class.
type UpdateStudentRequest struct {
	ClassID  string `json:"class_id"`
	FullName string `json:"full_name" validate:"required,max=200"`
}

// ImportResult reports a CSV roster import.
type ImportResult struct {
	Created []models.Student `json:"created"`
	Skipped []string         `json:"skipped,omitempty"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	store     *ledger.MemoryStore
	sync      pendingCounter
	rankings  *RankingCache
	csv       csvParser
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, store *ledger.MemoryStore, sync pendingCounter, rankings *RankingCache, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, store: store, sync: sync, rankings: rankings, csv: export.NewCSVExporter(), validator: validate, logger: logger}
}

// List returns students and pagination metadata. Teachers must scope the listing to a
// class they manage.
func (s *StudentService) List(actor *models.JWTClaims, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	if filter.ClassID != "" {
		if _, err := managedClass(s.store, actor, filter.ClassID); err != nil {
			return nil, nil, err
		}
	} else if !actor.IsAdmin() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "class_id is required")
	}
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize, 20, 200)
	students, total := s.store.ListStudents(filter)
	return students, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one student.
func (s *StudentService) Get(actor *models.JWTClaims, id string) (*models.Student, error) {
	student, ok := s.store.Student(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	if _, err := managedClass(s.store, actor, student.ClassID); err != nil {
		return nil, err
	}
	return &student, nil
}

// Create enrols a new student with zero balances.
func (s *StudentService) Create(ctx context.Context, actor *models.JWTClaims, req CreateStudentRequest) (*models.Student, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	class, err := managedClass(s.store, actor, req.ClassID)
	if err != nil {
		return nil, err
	}
	student := &models.Student{SchoolID: class.SchoolID, ClassID: class.ID, FullName: req.FullName}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	student.LXCTotal = models.Balances{}
	student.Badges = []string{}
	s.store.PutStudent(*student)
	s.invalidateRanking(ctx, class.ID)
	return student, nil
}

// Update renames a student and optionally moves them to another managed class.
func (s *StudentService) Update(ctx context.Context, actor *models.JWTClaims, id string, req UpdateStudentRequest) (*models.Student, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	current, err := s.Get(actor, id)
	if err != nil {
		return nil, err
	}
	updated := current.Clone()
	updated.FullName = req.FullName
	if req.ClassID != "" && req.ClassID != current.ClassID {
		target, err := managedClass(s.store, actor, req.ClassID)
		if err != nil {
			return nil, err
		}
		updated.ClassID, updated.SchoolID = target.ID, target.SchoolID
	}
	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	s.store.PutStudent(updated)
	s.invalidateRanking(ctx, current.ClassID)
	if updated.ClassID != current.ClassID {
		s.invalidateRanking(ctx, updated.ClassID)
	}
	return &updated, nil
}

// Delete removes a student with every transaction and badge. It is refused while ledger
// batches are still on their way to the database, since a queued append would otherwise
// reference a deleted row.
func (s *StudentService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	student, err := s.Get(actor, id)
	if err != nil {
		return err
	}
	if s.sync != nil && s.sync.Pending() > 0 {
		return appErrors.Clone(appErrors.ErrSyncPending, "ledger sync in progress, retry shortly")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	removed, _ := s.store.DeleteStudent(id)
	s.logger.Info("student deleted",
		zap.String("student_id", id),
		zap.Int("transactions_removed", len(removed)))
	s.invalidateRanking(ctx, student.ClassID)
	return nil
}

// Import enrols every row of a CSV file with a full_name column into classID. Blank
// and duplicate names are skipped; the remaining rows are written in one transaction.
func (s *StudentService) Import(ctx context.Context, actor *models.JWTClaims, classID string, r io.Reader) (*ImportResult, error) {
	class, err := managedClass(s.store, actor, classID)
	if err != nil {
		return nil, err
	}
	dataset, err := s.csv.Parse(r, "full_name")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	existing := make(map[string]struct{})
	for _, st := range s.store.ClassStudents(class.ID) {
		existing[strings.ToLower(st.FullName)] = struct{}{}
	}
	result := &ImportResult{Created: []models.Student{}}
	batch := make([]models.Student, 0, len(dataset.Rows))
	for i, row := range dataset.Rows {
		name := strings.TrimSpace(row["full_name"])
		if err := s.validator.Var(name, "required,max=200"); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: invalid name", i+2))
			continue
		}
		key := strings.ToLower(name)
		if _, dup := existing[key]; dup {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: %s already enrolled", i+2, name))
			continue
		}
		existing[key] = struct{}{}
		batch = append(batch, models.Student{SchoolID: class.SchoolID, ClassID: class.ID, FullName: name})
	}
	if len(batch) == 0 {
		return result, nil
	}
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import students")
	}
	for _, st := range batch {
		st.LXCTotal = models.Balances{}
		st.Badges = []string{}
		s.store.PutStudent(st)
		result.Created = append(result.Created, st)
	}
	s.logger.Info("students imported", zap.String("class_id", class.ID), zap.Int("created", len(batch)), zap.Int("skipped", len(result.Skipped)))
	s.invalidateRanking(ctx, class.ID)
	return result, nil
}

func (s *StudentService) invalidateRanking(ctx context.Context, classID string) {
	s.rankings.InvalidateClasses(ctx, classID)
}
