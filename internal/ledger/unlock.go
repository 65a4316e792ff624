package ledger

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// SkippedBadge records a candidate that could not be evaluated.
type SkippedBadge struct {
	BadgeID string
	Err     error
}

// Evaluation is the outcome of one unlock pass.
type Evaluation struct {
	Unlocked []models.BadgeDefinition
	Skipped  []SkippedBadge
}

// Evaluator decides which catalog badges a student has just earned.
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// Evaluate checks every badge that declares criteria, is available in bimester and is not
// already owned. taskCount is the number of TASK transactions the student has in bimester.
// A badge with malformed criteria is skipped without affecting the others.
func (e *Evaluator) Evaluate(student models.Student, bimester, taskCount int, badges []models.BadgeDefinition) Evaluation {
	var out Evaluation
	seen := make(map[string]struct{}, len(badges))
	for _, badge := range badges {
		if badge.AutoUnlockCriteria == nil || !badge.AvailableIn(bimester) {
			continue
		}
		if student.HasBadge(badge.ID) {
			continue
		}
		if _, dup := seen[badge.ID]; dup {
			continue
		}
		ok, err := criteriaMet(*badge.AutoUnlockCriteria, student.LXCTotal.Get(bimester), taskCount)
		if err != nil {
			e.logger.Warn("skipping badge with malformed unlock criteria",
				zap.String("badge_id", badge.ID),
				zap.String("student_id", student.ID),
				zap.Error(err))
			out.Skipped = append(out.Skipped, SkippedBadge{BadgeID: badge.ID, Err: err})
			continue
		}
		if ok {
			seen[badge.ID] = struct{}{}
			out.Unlocked = append(out.Unlocked, badge)
		}
	}
	return out
}

// ValidateCriteria reports whether criteria can be evaluated.
func ValidateCriteria(c models.UnlockCriteria) error {
	_, err := criteriaMet(c, 0, 0)
	return err
}

func criteriaMet(c models.UnlockCriteria, points, taskCount int) (bool, error) {
	if c.Threshold < 0 {
		return false, fmt.Errorf("%w: negative threshold %d", ErrMalformedCriteria, c.Threshold)
	}
	switch c.Type {
	case models.UnlockByLXC:
		return points >= c.Threshold, nil
	case models.UnlockByTasks:
		return taskCount >= c.Threshold, nil
	default:
		return false, fmt.Errorf("%w: unknown type %q", ErrMalformedCriteria, c.Type)
	}
}
