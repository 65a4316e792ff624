package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

type catalogRepository interface {
	Save(ctx context.Context, item models.CatalogItem) error
	Delete(ctx context.Context, kind models.CatalogKind, id string) error
}

// CatalogService owns the task, badge and penalty definitions. Points are clamped to
// their category ranges on every write. The ledger reads badges through Badges.
type CatalogService struct {
	repo      catalogRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	catalog models.Catalog
}

// NewCatalogService constructs a CatalogService with an empty catalog.
func NewCatalogService(repo catalogRepository, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerLedgerValidations(validate)
	return &CatalogService{
		repo:      repo,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		catalog:   models.Catalog{Tasks: []models.TaskDefinition{}, Badges: []models.BadgeDefinition{}, Penalties: []models.PenaltyDefinition{}},
	}
}

// Restore replaces the in-memory catalog.
func (s *CatalogService) Restore(state models.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = copyCatalog(state.Catalog)
}

// Catalog returns a copy of every definition.
func (s *CatalogService) Catalog() models.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCatalog(s.catalog)
}

// Badges implements ledger.BadgeCatalog.
func (s *CatalogService) Badges() []models.BadgeDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.BadgeDefinition(nil), s.catalog.Badges...)
}

// Get returns one item by kind and id.
func (s *CatalogService) Get(kind models.CatalogKind, id string) (models.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item := s.findLocked(kind, id); item != nil {
		return item, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, string(kind)+" not found")
}

// Save validates, clamps and stores an entry, creating it when the id is new.
func (s *CatalogService) Save(ctx context.Context, entry models.CatalogEntry) (models.CatalogEntry, error) {
	item := entry.Item()
	if item == nil {
		return models.CatalogEntry{}, appErrors.Clone(appErrors.ErrValidation, "catalog kind and payload do not match")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := now
	if item.CatalogID() != "" {
		if existing := s.findLocked(item.Kind(), item.CatalogID()); existing != nil {
			created = createdAt(existing)
		}
	}

	normalized, err := s.normalize(item, created, now)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	if err := s.repo.Save(ctx, normalized); err != nil {
		return models.CatalogEntry{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save catalog item")
	}
	s.putLocked(normalized)
	s.logger.Info("catalog item saved", zap.String("kind", string(normalized.Kind())), zap.String("id", normalized.CatalogID()))
	return models.NewCatalogEntry(normalized), nil
}

// Delete removes an item. Transactions already granted from it are untouched.
func (s *CatalogService) Delete(ctx context.Context, kind models.CatalogKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(kind, id) == nil {
		return appErrors.Clone(appErrors.ErrNotFound, string(kind)+" not found")
	}
	if err := s.repo.Delete(ctx, kind, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete catalog item")
	}
	switch kind {
	case models.CatalogTask:
		s.catalog.Tasks = removeByID(s.catalog.Tasks, id, func(t models.TaskDefinition) string { return t.ID })
	case models.CatalogBadge:
		s.catalog.Badges = removeByID(s.catalog.Badges, id, func(b models.BadgeDefinition) string { return b.ID })
	case models.CatalogPenalty:
		s.catalog.Penalties = removeByID(s.catalog.Penalties, id, func(p models.PenaltyDefinition) string { return p.ID })
	}
	return nil
}

func (s *CatalogService) normalize(item models.CatalogItem, created, now time.Time) (models.CatalogItem, error) {
	invalid := func(msg string) error { return appErrors.Clone(appErrors.ErrValidation, msg) }
	id := item.CatalogID()
	if id == "" {
		id = uuid.NewString()
	}
	switch v := item.(type) {
	case models.TaskDefinition:
		v.ID, v.CreatedAt, v.UpdatedAt = id, created, now
		v.Title = strings.TrimSpace(v.Title)
		if err := s.validator.Var(v.Title, "required,max=200"); err != nil {
			return nil, invalid("task title is required")
		}
		if err := s.validator.Var(string(v.Category), "task_category"); err != nil {
			return nil, invalid("unknown task category")
		}
		v.Points = ClampTaskPoints(v.Category, v.Points)
		return v, nil
	case models.BadgeDefinition:
		v.ID, v.CreatedAt, v.UpdatedAt = id, created, now
		v.Name = strings.TrimSpace(v.Name)
		if err := s.validator.Var(v.Name, "required,max=200"); err != nil {
			return nil, invalid("badge name is required")
		}
		v.RewardValue = ClampBadgeReward(v.RewardValue)
		bimesters, err := normalizeBimesters(v.Bimesters)
		if err != nil {
			return nil, err
		}
		v.Bimesters = bimesters
		if v.AutoUnlockCriteria != nil {
			if err := ledger.ValidateCriteria(*v.AutoUnlockCriteria); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid unlock criteria")
			}
		}
		return v, nil
	case models.PenaltyDefinition:
		v.ID, v.CreatedAt, v.UpdatedAt = id, created, now
		v.Title = strings.TrimSpace(v.Title)
		if err := s.validator.Var(v.Title, "required,max=200"); err != nil {
			return nil, invalid("penalty title is required")
		}
		v.Points = ClampPenaltyPoints(v.Points)
		return v, nil
	default:
		return nil, invalid("unsupported catalog item")
	}
}

func normalizeBimesters(in []int) ([]int, error) {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, b := range in {
		if !models.ValidBimester(b) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "badge bimesters must be between 1 and 4")
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	sort.Ints(out)
	return out, nil
}

func (s *CatalogService) findLocked(kind models.CatalogKind, id string) models.CatalogItem {
	switch kind {
	case models.CatalogTask:
		for _, t := range s.catalog.Tasks {
			if t.ID == id {
				return t
			}
		}
	case models.CatalogBadge:
		for _, b := range s.catalog.Badges {
			if b.ID == id {
				return b
			}
		}
	case models.CatalogPenalty:
		for _, p := range s.catalog.Penalties {
			if p.ID == id {
				return p
			}
		}
	}
	return nil
}

func (s *CatalogService) putLocked(item models.CatalogItem) {
	switch v := item.(type) {
	case models.TaskDefinition:
		s.catalog.Tasks = append(removeByID(s.catalog.Tasks, v.ID, func(t models.TaskDefinition) string { return t.ID }), v)
		sort.Slice(s.catalog.Tasks, func(i, j int) bool { return s.catalog.Tasks[i].Title < s.catalog.Tasks[j].Title })
	case models.BadgeDefinition:
		s.catalog.Badges = append(removeByID(s.catalog.Badges, v.ID, func(b models.BadgeDefinition) string { return b.ID }), v)
		sort.Slice(s.catalog.Badges, func(i, j int) bool { return s.catalog.Badges[i].Name < s.catalog.Badges[j].Name })
	case models.PenaltyDefinition:
		s.catalog.Penalties = append(removeByID(s.catalog.Penalties, v.ID, func(p models.PenaltyDefinition) string { return p.ID }), v)
		sort.Slice(s.catalog.Penalties, func(i, j int) bool { return s.catalog.Penalties[i].Title < s.catalog.Penalties[j].Title })
	}
}

func createdAt(item models.CatalogItem) time.Time {
	switch v := item.(type) {
	case models.TaskDefinition:
		return v.CreatedAt
	case models.BadgeDefinition:
		return v.CreatedAt
	case models.PenaltyDefinition:
		return v.CreatedAt
	}
	return time.Time{}
}

func removeByID[T any](items []T, id string, key func(T) string) []T {
	out := items[:0:0]
	for _, it := range items {
		if key(it) != id {
			out = append(out, it)
		}
	}
	return out
}

func copyCatalog(c models.Catalog) models.Catalog {
	out := models.Catalog{
		Tasks:     append([]models.TaskDefinition{}, c.Tasks...),
		Badges:    make([]models.BadgeDefinition, 0, len(c.Badges)),
		Penalties: append([]models.PenaltyDefinition{}, c.Penalties...),
	}
	for _, b := range c.Badges {
		b.Bimesters = append([]int(nil), b.Bimesters...)
		if b.AutoUnlockCriteria != nil {
			criteria := *b.AutoUnlockCriteria
			b.AutoUnlockCriteria = &criteria
		}
		out.Badges = append(out.Badges, b)
	}
	return out
}
