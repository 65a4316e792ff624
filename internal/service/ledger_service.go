package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

type batchSubmitter interface {
	Submit(ctx context.Context, batch models.LedgerBatch) models.SyncOutcome
	Pending() int
}

type durableLedger interface {
	ListTransactions(ctx context.Context) ([]models.Transaction, error)
}

type catalogLookup interface {
	Get(kind models.CatalogKind, id string) (models.CatalogItem, error)
}

type tierResolver interface {
	Progress(bimester, points int) models.TierProgress
}

// GrantRequest applies one catalog item to a selection of students. Overrides replaces
// the item's points per student and is clamped to the item's range.
type GrantRequest struct {
	Kind       models.CatalogKind `json:"kind" validate:"required,oneof=TASK BADGE PENALTY"`
	ItemID     string             `json:"item_id" validate:"required"`
	StudentIDs []string           `json:"student_ids" validate:"required,min=1,dive,required"`
	Bimester   int                `json:"bimester" validate:"omitempty,bimester"`
	Overrides  map[string]int     `json:"overrides"`
	Note       string             `json:"note" validate:"max=500"`
	Date       *time.Time         `json:"date"`
}

// CustomGrantRequest records a free-form transaction that is not backed by the catalog.
// The amount is stored as given.
type CustomGrantRequest struct {
	StudentIDs  []string               `json:"student_ids" validate:"required,min=1,dive,required"`
	Type        models.TransactionType `json:"type" validate:"omitempty,tx_type,ne=BADGE"`
	Amount      int                    `json:"amount" validate:"ne=0"`
	Description string                 `json:"description" validate:"required,max=200"`
	Bimester    int                    `json:"bimester" validate:"omitempty,bimester"`
	Note        string                 `json:"note" validate:"max=500"`
	Date        *time.Time             `json:"date"`
}

// EditTransactionRequest changes the editable fields of a transaction.
type EditTransactionRequest struct {
	Amount      *int    `json:"amount"`
	Description *string `json:"description" validate:"omitempty,max=200"`
	Note        *string `json:"note" validate:"omitempty,max=500"`
}

// LedgerOutcome is returned by every ledger write.
type LedgerOutcome struct {
	Results []ledger.Result    `json:"results"`
	Sync    models.SyncOutcome `json:"sync"`
}

// LedgerService is the authorised entry point to the transaction ledger. Every write is
// committed in memory, handed to the sync pipeline and invalidates cached rankings.
type LedgerService struct {
	ledger          *ledger.Ledger
	store           *ledger.MemoryStore
	catalog         catalogLookup
	levels          tierResolver
	sync            batchSubmitter
	durable         durableLedger
	rankings        *RankingCache
	metrics         *MetricsService
	validator       *validator.Validate
	logger          *zap.Logger
	defaultBimester int
}

// LedgerServiceConfig groups LedgerService collaborators.
type LedgerServiceConfig struct {
	Ledger          *ledger.Ledger
	Store           *ledger.MemoryStore
	Catalog         catalogLookup
	Levels          tierResolver
	Sync            batchSubmitter
	Durable         durableLedger
	Rankings        *RankingCache
	Metrics         *MetricsService
	Validator       *validator.Validate
	Logger          *zap.Logger
	DefaultBimester int
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(cfg LedgerServiceConfig) *LedgerService {
	if cfg.Validator == nil {
		cfg.Validator = validator.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if !models.ValidBimester(cfg.DefaultBimester) {
		cfg.DefaultBimester = models.MinBimester
	}
	registerLedgerValidations(cfg.Validator)
	return &LedgerService{
		ledger:          cfg.Ledger,
		store:           cfg.Store,
		catalog:         cfg.Catalog,
		levels:          cfg.Levels,
		sync:            cfg.Sync,
		durable:         cfg.Durable,
		rankings:        cfg.Rankings,
		metrics:         cfg.Metrics,
		validator:       cfg.Validator,
		logger:          cfg.Logger,
		defaultBimester: cfg.DefaultBimester,
	}
}

// Grant applies a catalog item to every selected student as one batch.
func (s *LedgerService) Grant(ctx context.Context, actor *models.JWTClaims, req GrantRequest) (*LedgerOutcome, error) {
	if len(req.StudentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "select at least one student")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grant payload")
	}
	item, err := s.catalog.Get(req.Kind, req.ItemID)
	if err != nil {
		return nil, err
	}
	students, err := s.authorizedStudents(actor, req.StudentIDs)
	if err != nil {
		return nil, err
	}

	bimester := s.bimesterOrDefault(req.Bimester)
	if badge, ok := item.(models.BadgeDefinition); ok && !badge.AvailableIn(bimester) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "badge is not available in bimester "+strconv.Itoa(bimester))
	}

	txs := make([]models.Transaction, 0, len(students))
	for _, st := range students {
		tx := transactionFromItem(item, st.ID, bimester)
		if override, ok := req.Overrides[st.ID]; ok {
			tx.Amount = clampOverride(item, override)
		}
		tx.Note = strings.TrimSpace(req.Note)
		tx.TeacherName = attribution(actor)
		if req.Date != nil {
			tx.Date = req.Date.UTC()
		}
		txs = append(txs, tx)
	}
	return s.appendAll(ctx, "grant", txs)
}

// RecordCustom stores a free-form bonus or penalty for every selected student.
func (s *LedgerService) RecordCustom(ctx context.Context, actor *models.JWTClaims, req CustomGrantRequest) (*LedgerOutcome, error) {
	if len(req.StudentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "select at least one student")
	}
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transaction payload")
	}
	students, err := s.authorizedStudents(actor, req.StudentIDs)
	if err != nil {
		return nil, err
	}
	typ := req.Type
	if typ == "" {
		typ = models.TransactionBonus
	}
	bimester := s.bimesterOrDefault(req.Bimester)
	txs := make([]models.Transaction, 0, len(students))
	for _, st := range students {
		tx := models.Transaction{
			StudentID:   st.ID,
			Type:        typ,
			Amount:      req.Amount,
			Description: req.Description,
			Bimester:    bimester,
			Note:        strings.TrimSpace(req.Note),
			TeacherName: attribution(actor),
		}
		if req.Date != nil {
			tx.Date = req.Date.UTC()
		}
		txs = append(txs, tx)
	}
	return s.appendAll(ctx, "custom", txs)
}

// EditTransaction amends the amount, description or note of a transaction.
func (s *LedgerService) EditTransaction(ctx context.Context, actor *models.JWTClaims, id string, req EditTransactionRequest) (*LedgerOutcome, error) {
	if req.Amount == nil && req.Description == nil && req.Note == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transaction payload")
	}
	tx, err := s.GetTransaction(actor, id)
	if err != nil {
		return nil, err
	}
	res, err := s.ledger.Edit(id, ledger.Edit{Amount: req.Amount, Description: req.Description, Note: req.Note})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.metrics.RecordLedgerOperation("amend")
	return s.commit(ctx, []ledger.Result{*res}, res.Batch, tx.StudentID), nil
}

// RemoveTransaction deletes a transaction and reverses its effect on the balance.
func (s *LedgerService) RemoveTransaction(ctx context.Context, actor *models.JWTClaims, id string) (*LedgerOutcome, error) {
	if _, err := s.GetTransaction(actor, id); err != nil {
		return nil, err
	}
	res, err := s.ledger.Remove(id)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.metrics.RecordLedgerOperation("remove")
	return s.commit(ctx, []ledger.Result{*res}, res.Batch, res.Transaction.StudentID), nil
}

// EvaluateUnlocks re-runs automatic badge evaluation for a student.
func (s *LedgerService) EvaluateUnlocks(ctx context.Context, actor *models.JWTClaims, studentID string, bimester int) (*LedgerOutcome, error) {
	if _, err := s.authorizedStudents(actor, []string{studentID}); err != nil {
		return nil, err
	}
	res, err := s.ledger.EvaluateUnlocks(studentID, s.bimesterOrDefault(bimester))
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.recordUnlocks(res.Unlocked)
	return s.commit(ctx, []ledger.Result{*res}, res.Batch, studentID), nil
}

// GetTransaction returns one transaction visible to actor.
func (s *LedgerService) GetTransaction(actor *models.JWTClaims, id string) (*models.Transaction, error) {
	var (
		tx    models.Transaction
		found bool
	)
	_ = s.store.View(func(r ledger.Reader) error {
		tx, found = r.Transaction(id)
		return nil
	})
	if !found {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "transaction not found")
	}
	if _, err := s.authorizedStudents(actor, []string{tx.StudentID}); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactions returns the transaction history matching filter. Teachers must scope
// the listing to a class or student they manage.
func (s *LedgerService) ListTransactions(actor *models.JWTClaims, filter models.TransactionFilter) ([]models.Transaction, *models.Pagination, error) {
	if filter.Bimester != 0 && !models.ValidBimester(filter.Bimester) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "bimester must be between 1 and 4")
	}
	for _, t := range filter.Types {
		if !t.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown transaction type "+string(t))
		}
	}
	switch {
	case filter.StudentID != "":
		if _, err := s.authorizedStudents(actor, []string{filter.StudentID}); err != nil {
			return nil, nil, err
		}
	case filter.ClassID != "":
		if _, err := managedClass(s.store, actor, filter.ClassID); err != nil {
			return nil, nil, err
		}
	case !actor.IsAdmin():
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "class_id or student_id is required")
	}
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize, 50, 500)
	txs, total := s.store.ListTransactions(filter)
	return txs, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Progress reports a student's balance and tier for every bimester.
func (s *LedgerService) Progress(actor *models.JWTClaims, studentID string) (*models.StudentProgress, error) {
	students, err := s.authorizedStudents(actor, []string{studentID})
	if err != nil {
		return nil, err
	}
	st := students[0]
	progress := &models.StudentProgress{Student: st, Bimesters: make([]models.TierProgress, 0, models.MaxBimester)}
	for b := models.MinBimester; b <= models.MaxBimester; b++ {
		progress.Bimesters = append(progress.Bimesters, s.levels.Progress(b, st.LXCTotal.Get(b)))
	}
	progress.Total = st.LXCTotal.Total()
	return progress, nil
}

// Ranking orders a class by bimester balance and reports whether it came from cache.
// Results are cached until the next ledger write touching the class.
func (s *LedgerService) Ranking(ctx context.Context, actor *models.JWTClaims, classID string, bimester int) (*models.ClassRanking, bool, error) {
	if _, err := managedClass(s.store, actor, classID); err != nil {
		return nil, false, err
	}
	bimester = s.bimesterOrDefault(bimester)
	ranking, hit := s.rankings.Fetch(ctx, classID, bimester, func() *models.ClassRanking {
		return s.buildRanking(classID, bimester)
	})
	return ranking, hit, nil
}

func (s *LedgerService) buildRanking(classID string, bimester int) *models.ClassRanking {
	students := s.store.ClassStudents(classID)
	sort.SliceStable(students, func(i, j int) bool {
		pi, pj := students[i].LXCTotal.Get(bimester), students[j].LXCTotal.Get(bimester)
		if pi != pj {
			return pi > pj
		}
		return students[i].FullName < students[j].FullName
	})
	ranking := &models.ClassRanking{
		ClassID:     classID,
		Bimester:    bimester,
		Entries:     make([]models.RankingEntry, 0, len(students)),
		GeneratedAt: time.Now().UTC(),
	}
	for i, st := range students {
		points := st.LXCTotal.Get(bimester)
		rank := i + 1
		if i > 0 && ranking.Entries[i-1].Points == points {
			rank = ranking.Entries[i-1].Rank
		}
		tier := s.levels.Progress(bimester, points).Tier
		ranking.Entries = append(ranking.Entries, models.RankingEntry{
			Rank:      rank,
			StudentID: st.ID,
			FullName:  st.FullName,
			Points:    points,
			Tier:      tier.Title,
			Color:     tier.Color,
			Badges:    len(st.Badges),
		})
	}
	return ranking
}

// Verify compares every cached balance against the transaction log.
func (s *LedgerService) Verify() []ledger.Drift {
	_, _, students, txs := s.store.All()
	drifts := ledger.Verify(students, txs)
	if len(drifts) > 0 {
		s.logger.Warn("ledger drift detected", zap.Int("drifts", len(drifts)))
	}
	return drifts
}

// VerifyDurable compares the cached balances in memory against the transaction log in
// the database and returns the drifts with the number of durable transactions read.
// It is refused while batches are pending since the durable log is still behind.
func (s *LedgerService) VerifyDurable(ctx context.Context) ([]ledger.Drift, int, error) {
	if s.durable == nil {
		return nil, 0, appErrors.Clone(appErrors.ErrInternal, "durable ledger is not configured")
	}
	if pending := s.sync.Pending(); pending > 0 {
		return nil, 0, appErrors.Clone(appErrors.ErrSyncPending, strconv.Itoa(pending)+" ledger batches are still pending")
	}
	txs, err := s.durable.ListTransactions(ctx)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrPersistenceFailure.Code, appErrors.ErrPersistenceFailure.Status, "failed to read durable ledger")
	}
	_, _, students, _ := s.store.All()
	drifts := ledger.Verify(students, txs)
	if len(drifts) > 0 {
		s.logger.Warn("memory and database ledgers disagree",
			zap.Int("drifts", len(drifts)),
			zap.Int("durable_transactions", len(txs)))
	}
	return drifts, len(txs), nil
}

func (s *LedgerService) appendAll(ctx context.Context, op string, txs []models.Transaction) (*LedgerOutcome, error) {
	results, batch, err := s.ledger.AppendAll(txs)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	touched := make([]string, 0, len(results))
	for _, res := range results {
		s.metrics.RecordLedgerOperation(op)
		s.recordUnlocks(res.Unlocked)
		touched = append(touched, res.Transaction.StudentID)
	}
	return s.commit(ctx, results, batch, touched...), nil
}

func (s *LedgerService) commit(ctx context.Context, results []ledger.Result, batch models.LedgerBatch, studentIDs ...string) *LedgerOutcome {
	outcome := s.sync.Submit(ctx, batch)
	if outcome == models.SyncFailed {
		s.logger.Error("ledger batch saved locally but not persisted", zap.String("batch_id", batch.ID))
	}
	seen := make(map[string]struct{})
	classes := make([]string, 0, 1)
	for _, id := range studentIDs {
		st, ok := s.store.Student(id)
		if !ok {
			continue
		}
		if _, dup := seen[st.ClassID]; !dup {
			seen[st.ClassID] = struct{}{}
			classes = append(classes, st.ClassID)
		}
	}
	s.rankings.InvalidateClasses(ctx, classes...)
	return &LedgerOutcome{Results: results, Sync: outcome}
}

func (s *LedgerService) recordUnlocks(unlocked []models.Transaction) {
	for _, t := range unlocked {
		s.metrics.RecordBadgeUnlock(t.BadgeID)
		s.logger.Info("badge unlocked",
			zap.String("student_id", t.StudentID),
			zap.String("badge_id", t.BadgeID),
			zap.Int("bimester", t.Bimester))
	}
}

// authorizedStudents resolves ids and checks that actor manages each student's class.
func (s *LedgerService) authorizedStudents(actor *models.JWTClaims, ids []string) ([]models.Student, error) {
	out := make([]models.Student, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		st, ok := s.store.Student(id)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student "+id+" not found")
		}
		if !actor.IsAdmin() {
			class, ok := s.store.Class(st.ClassID)
			if !ok || !class.CanManage(actor.UserID) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "student "+id+" belongs to another teacher")
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *LedgerService) bimesterOrDefault(b int) int {
	if b == 0 {
		return s.defaultBimester
	}
	return b
}

func attribution(actor *models.JWTClaims) string {
	if actor == nil {
		return ""
	}
	if actor.FullName != "" {
		return actor.FullName
	}
	return actor.Email
}

func transactionFromItem(item models.CatalogItem, studentID string, bimester int) models.Transaction {
	tx := models.Transaction{StudentID: studentID, Bimester: bimester}
	switch v := item.(type) {
	case models.TaskDefinition:
		tx.Type, tx.Amount, tx.Description = models.TransactionTask, v.Points, v.Title
	case models.PenaltyDefinition:
		tx.Type, tx.Amount, tx.Description = models.TransactionPenalty, v.Points, v.Title
	case models.BadgeDefinition:
		tx.Type, tx.Amount, tx.Description, tx.BadgeID = models.TransactionBadge, v.RewardValue, v.Name, v.ID
	}
	return tx
}

func clampOverride(item models.CatalogItem, points int) int {
	switch v := item.(type) {
	case models.TaskDefinition:
		return ClampTaskPoints(v.Category, points)
	case models.PenaltyDefinition:
		return ClampPenaltyPoints(points)
	case models.BadgeDefinition:
		return ClampBadgeReward(points)
	default:
		return points
	}
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrStudentNotFound):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "student not found")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "transaction not found")
	case errors.Is(err, ledger.ErrTransactionExists), errors.Is(err, ledger.ErrBadgeAlreadyOwned):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, err.Error())
	case errors.Is(err, ledger.ErrInvalidTransaction):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "ledger operation failed")
	}
}
