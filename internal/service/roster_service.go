package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

type schoolRepository interface {
	Create(ctx context.Context, school *models.School) error
	Update(ctx context.Context, school *models.School) error
	Delete(ctx context.Context, id string) error
}

type classRepository interface {
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
}

// SchoolRequest is the payload for creating or renaming a school.
type SchoolRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// ClassRequest is the payload for creating or updating a class. SchoolID is ignored on update.
type ClassRequest struct {
	SchoolID      string   `json:"school_id"`
	Name          string   `json:"name" validate:"required,max=200"`
	Collaborators []string `json:"collaborators" validate:"omitempty,dive,required"`
}

// RosterService manages schools and classes. Writes go to the database first and are
// mirrored into the in-memory store once they succeed.
type RosterService struct {
	store     *ledger.MemoryStore
	schools   schoolRepository
	classes   classRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRosterService constructs a RosterService.
func NewRosterService(store *ledger.MemoryStore, schools schoolRepository, classes classRepository, validate *validator.Validate, logger *zap.Logger) *RosterService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{store: store, schools: schools, classes: classes, validator: validate, logger: logger}
}

// ListSchools returns the schools visible to actor: every school for administrators,
// otherwise owned schools and schools holding a class the actor manages.
func (s *RosterService) ListSchools(actor *models.JWTClaims) []models.School {
	all := s.store.Schools()
	if actor.IsAdmin() {
		return all
	}
	visible := make(map[string]struct{})
	for _, c := range s.store.Classes("") {
		if c.CanManage(actor.UserID) {
			visible[c.SchoolID] = struct{}{}
		}
	}
	out := make([]models.School, 0, len(all))
	for _, sc := range all {
		if _, ok := visible[sc.ID]; ok || sc.OwnerID == actor.UserID {
			out = append(out, sc)
		}
	}
	return out
}

// CreateSchool registers a school owned by actor.
func (s *RosterService) CreateSchool(ctx context.Context, actor *models.JWTClaims, req SchoolRequest) (*models.School, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}
	school := &models.School{Name: req.Name, OwnerID: actor.UserID}
	if err := s.schools.Create(ctx, school); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create school")
	}
	s.store.PutSchool(*school)
	return school, nil
}

// UpdateSchool renames a school.
func (s *RosterService) UpdateSchool(ctx context.Context, actor *models.JWTClaims, id string, req SchoolRequest) (*models.School, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}
	school, err := s.ownedSchool(actor, id)
	if err != nil {
		return nil, err
	}
	school.Name = req.Name
	if err := s.schools.Update(ctx, &school); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update school")
	}
	s.store.PutSchool(school)
	return &school, nil
}

// DeleteSchool removes a school without classes.
func (s *RosterService) DeleteSchool(ctx context.Context, actor *models.JWTClaims, id string) error {
	if _, err := s.ownedSchool(actor, id); err != nil {
		return err
	}
	if len(s.store.Classes(id)) > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "school still has classes")
	}
	if err := s.schools.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete school")
	}
	s.store.DeleteSchool(id)
	return nil
}

// ListClasses returns the classes of schoolID (all schools when empty) that actor manages.
func (s *RosterService) ListClasses(actor *models.JWTClaims, schoolID string) []models.Class {
	all := s.store.Classes(schoolID)
	if actor.IsAdmin() {
		return all
	}
	out := make([]models.Class, 0, len(all))
	for _, c := range all {
		if c.CanManage(actor.UserID) {
			out = append(out, c)
		}
	}
	return out
}

// GetClass returns a class the actor may manage.
func (s *RosterService) GetClass(actor *models.JWTClaims, id string) (*models.Class, error) {
	class, err := managedClass(s.store, actor, id)
	if err != nil {
		return nil, err
	}
	return &class, nil
}

// CreateClass adds a class to a school owned by actor.
func (s *RosterService) CreateClass(ctx context.Context, actor *models.JWTClaims, req ClassRequest) (*models.Class, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if _, err := s.ownedSchool(actor, req.SchoolID); err != nil {
		return nil, err
	}
	class := &models.Class{
		SchoolID:      req.SchoolID,
		Name:          req.Name,
		OwnerID:       actor.UserID,
		Collaborators: uniqueIDs(req.Collaborators, actor.UserID),
	}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	s.store.PutClass(*class)
	return class, nil
}

// UpdateClass renames a class and replaces its collaborators. Only the owner or an
// administrator may do so.
func (s *RosterService) UpdateClass(ctx context.Context, actor *models.JWTClaims, id string, req ClassRequest) (*models.Class, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	class, ok := s.store.Class(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	if !actor.IsAdmin() && class.OwnerID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class owner can edit it")
	}
	class.Name = req.Name
	class.Collaborators = uniqueIDs(req.Collaborators, class.OwnerID)
	if err := s.classes.Update(ctx, &class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	s.store.PutClass(class)
	return &class, nil
}

// DeleteClass removes a class without students.
func (s *RosterService) DeleteClass(ctx context.Context, actor *models.JWTClaims, id string) error {
	class, ok := s.store.Class(id)
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	if !actor.IsAdmin() && class.OwnerID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the class owner can delete it")
	}
	if len(s.store.ClassStudents(id)) > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "class still has students")
	}
	if err := s.classes.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	s.store.DeleteClass(id)
	return nil
}

func (s *RosterService) ownedSchool(actor *models.JWTClaims, id string) (models.School, error) {
	school, ok := s.store.School(id)
	if !ok {
		return models.School{}, appErrors.Clone(appErrors.ErrNotFound, "school not found")
	}
	if !actor.IsAdmin() && school.OwnerID != actor.UserID {
		return models.School{}, appErrors.Clone(appErrors.ErrForbidden, "school belongs to another teacher")
	}
	return school, nil
}

// managedClass loads a class and checks that actor owns or collaborates on it.
func managedClass(store *ledger.MemoryStore, actor *models.JWTClaims, id string) (models.Class, error) {
	class, ok := store.Class(id)
	if !ok {
		return models.Class{}, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	if !actor.IsAdmin() && !class.CanManage(actor.UserID) {
		return models.Class{}, appErrors.Clone(appErrors.ErrForbidden, "class is managed by another teacher")
	}
	return class, nil
}

func uniqueIDs(ids []string, exclude string) []string {
	seen := map[string]struct{}{exclude: {}}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
