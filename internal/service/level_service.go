package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

type levelRepository interface {
	Replace(ctx context.Context, bimester int, rules models.Ladder) error
	Delete(ctx context.Context, bimester int) error
}

// LevelService resolves tier ladders. A custom ladder overrides the built-in one for its
// bimester as a whole.
type LevelService struct {
	repo      levelRepository
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger

	mu     sync.RWMutex
	custom map[int]models.Ladder
}

// NewLevelService constructs a LevelService with no custom ladders.
func NewLevelService(repo levelRepository, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *LevelService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LevelService{repo: repo, validator: validate, metrics: metrics, logger: logger, custom: make(map[int]models.Ladder)}
}

// Restore replaces the custom ladders.
func (s *LevelService) Restore(state models.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom = make(map[int]models.Ladder, len(state.LevelRules))
	for b, ladder := range state.LevelRules {
		if len(ladder) > 0 {
			s.custom[b] = copyLadder(ladder)
		}
	}
}

// Ladder returns the ladder in effect for bimester and whether it is custom.
func (s *LevelService) Ladder(bimester int) (models.Ladder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ladder, ok := s.custom[bimester]; ok {
		return copyLadder(ladder), true
	}
	return ledger.DefaultLadder(bimester), false
}

// Custom returns every custom ladder keyed by bimester.
func (s *LevelService) Custom() map[int]models.Ladder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]models.Ladder, len(s.custom))
	for b, ladder := range s.custom {
		out[b] = copyLadder(ladder)
	}
	return out
}

// Set validates and stores a custom ladder for bimester.
func (s *LevelService) Set(ctx context.Context, bimester int, rules models.Ladder) (models.Ladder, error) {
	if !models.ValidBimester(bimester) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bimester must be between 1 and 4")
	}
	ladder := copyLadder(rules)
	sort.SliceStable(ladder, func(i, j int) bool { return ladder[i].Min < ladder[j].Min })
	for i := range ladder {
		ladder[i].Title = strings.TrimSpace(ladder[i].Title)
		if ladder[i].Color != "" {
			if err := s.validator.Var(ladder[i].Color, "hexcolor"); err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, "tier color must be a hex color")
			}
		}
	}
	if err := ledger.ValidateLadder(ladder); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if err := s.repo.Replace(ctx, bimester, ladder); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save ladder")
	}
	s.mu.Lock()
	s.custom[bimester] = ladder
	s.mu.Unlock()
	return copyLadder(ladder), nil
}

// Reset drops the custom ladder of bimester.
func (s *LevelService) Reset(ctx context.Context, bimester int) error {
	if !models.ValidBimester(bimester) {
		return appErrors.Clone(appErrors.ErrValidation, "bimester must be between 1 and 4")
	}
	if err := s.repo.Delete(ctx, bimester); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset ladder")
	}
	s.mu.Lock()
	delete(s.custom, bimester)
	s.mu.Unlock()
	return nil
}

// Progress returns the tier standing for points in bimester. A lookup that matches no
// rule is logged and counted; the first tier is reported.
func (s *LevelService) Progress(bimester, points int) models.TierProgress {
	ladder, custom := s.Ladder(bimester)
	progress, matched := ledger.Progress(bimester, points, ladder, custom)
	if !matched {
		s.logger.Warn("tier lookup fell back to first tier",
			zap.Int("bimester", bimester),
			zap.Int("points", points),
			zap.Bool("custom_ladder", custom))
		s.metrics.RecordTierFallback(bimester)
	}
	return progress
}

func copyLadder(in models.Ladder) models.Ladder {
	out := make(models.Ladder, len(in))
	for i, rule := range in {
		if rule.Max != nil {
			rule.Max = models.IntPtr(*rule.Max)
		}
		out[i] = rule
	}
	return out
}
