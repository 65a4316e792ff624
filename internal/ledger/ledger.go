package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// BadgePolicy decides whether a manually granted badge may duplicate an owned one.
type BadgePolicy string

const (
	BadgePolicyAllowDuplicates BadgePolicy = "allow"
	BadgePolicyRejectDuplicate BadgePolicy = "reject"
)

// AutoUnlockNote annotates synthetic badge transactions.
const AutoUnlockNote = "automatic unlock"

// BadgeCatalog supplies badge definitions. The ledger never mutates them.
type BadgeCatalog interface {
	Badges() []models.BadgeDefinition
}

// Options tunes a Ledger.
type Options struct {
	// SystemActor is the attribution written on automatic unlocks.
	SystemActor string
	BadgePolicy BadgePolicy
	Now         func() time.Time
	NewID       func() string
	Logger      *zap.Logger
}

// Result describes one committed ledger operation.
type Result struct {
	Transaction models.Transaction   `json:"transaction"`
	Unlocked    []models.Transaction `json:"unlocked,omitempty"`
	Student     models.Student       `json:"student"`
	Batch       models.LedgerBatch   `json:"-"`
}

// Edit lists the editable fields of a transaction. Nil fields are left unchanged.
type Edit struct {
	Amount      *int
	Description *string
	Note        *string
}

// Ledger maintains the transaction log and the cached per-bimester balances together.
type Ledger struct {
	store     Store
	badges    BadgeCatalog
	evaluator *Evaluator
	opts      Options
}

// New builds a ledger over store. badges may be nil, which disables automatic unlocks.
func New(store Store, badges BadgeCatalog, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SystemActor == "" {
		opts.SystemActor = "system"
	}
	if opts.BadgePolicy == "" {
		opts.BadgePolicy = BadgePolicyAllowDuplicates
	}
	return &Ledger{store: store, badges: badges, evaluator: NewEvaluator(opts.Logger), opts: opts}
}

// Append stores tx and adds its amount to the owner's balance for tx.Bimester. When the
// type is TASK, BONUS or PENALTY the unlock evaluator runs once against the new state and
// every unlocked badge is appended as a BADGE transaction within the same operation.
func (l *Ledger) Append(tx models.Transaction) (*Result, error) {
	results, batch, err := l.AppendAll([]models.Transaction{tx})
	if err != nil {
		return nil, err
	}
	res := results[0]
	res.Batch = batch
	return &res, nil
}

// AppendAll appends every transaction, with its automatic unlocks, in one store update
// and returns a single batch covering all of them. Either every transaction is stored or,
// when any of them is rejected, none is.
func (l *Ledger) AppendAll(txs []models.Transaction) ([]Result, models.LedgerBatch, error) {
	if len(txs) == 0 {
		return nil, models.LedgerBatch{}, fmt.Errorf("%w: no transactions", ErrInvalidTransaction)
	}
	for _, tx := range txs {
		if err := validateTransaction(tx); err != nil {
			return nil, models.LedgerBatch{}, err
		}
	}
	var (
		results []Result
		batch   models.LedgerBatch
	)
	err := l.store.Update(func(w Writer) error {
		now := l.opts.Now()
		batch = models.LedgerBatch{ID: l.opts.NewID(), CreatedAt: now}
		results = make([]Result, 0, len(txs))
		for _, tx := range txs {
			res, err := l.appendIn(w, tx, now, &batch)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, models.LedgerBatch{}, err
	}
	for _, res := range results {
		l.opts.Logger.Debug("ledger append",
			zap.String("transaction_id", res.Transaction.ID),
			zap.String("student_id", res.Transaction.StudentID),
			zap.Int("amount", res.Transaction.Amount),
			zap.Int("unlocked", len(res.Unlocked)))
	}
	return results, batch, nil
}

func (l *Ledger) appendIn(w Writer, tx models.Transaction, now time.Time, batch *models.LedgerBatch) (Result, error) {
	student, ok := w.Student(tx.StudentID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrStudentNotFound, tx.StudentID)
	}
	if tx.ID != "" {
		if _, exists := w.Transaction(tx.ID); exists {
			return Result{}, fmt.Errorf("%w: %s", ErrTransactionExists, tx.ID)
		}
	}
	if tx.Type == models.TransactionBadge && l.opts.BadgePolicy == BadgePolicyRejectDuplicate && student.HasBadge(tx.OwnedBadgeID()) {
		return Result{}, fmt.Errorf("%w: %s", ErrBadgeAlreadyOwned, tx.OwnedBadgeID())
	}

	stored := l.applyAppend(w, &student, tx, now, batch)
	var unlocked []models.Transaction
	if stored.Type.TriggersUnlock() && l.badges != nil {
		unlocked = l.unlock(w, &student, stored.Bimester, now, batch)
	}
	w.PutStudent(student)
	return Result{Transaction: stored, Unlocked: unlocked, Student: student}, nil
}

// Amend replaces a transaction's amount and shifts the balance by the difference.
func (l *Ledger) Amend(txID string, amount int) (*Result, error) {
	return l.Edit(txID, Edit{Amount: &amount})
}

// Describe replaces a transaction's description and note. The balance is unchanged.
func (l *Ledger) Describe(txID, description string, note *string) (*Result, error) {
	return l.Edit(txID, Edit{Description: &description, Note: note})
}

// Edit applies the supported edits to a transaction as one operation.
func (l *Ledger) Edit(txID string, edit Edit) (*Result, error) {
	if edit.Description != nil && strings.TrimSpace(*edit.Description) == "" {
		return nil, errDescriptionRequired
	}
	var res *Result
	err := l.store.Update(func(w Writer) error {
		tx, ok := w.Transaction(txID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
		}
		student, ok := w.Student(tx.StudentID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrStudentNotFound, tx.StudentID)
		}
		now := l.opts.Now()
		delta := 0
		if edit.Amount != nil {
			delta = *edit.Amount - tx.Amount
			tx.Amount = *edit.Amount
		}
		if edit.Description != nil {
			tx.Description = strings.TrimSpace(*edit.Description)
		}
		if edit.Note != nil {
			tx.Note = *edit.Note
		}
		tx.UpdatedAt = now
		w.PutTransaction(tx)
		if delta != 0 {
			student.AddLXC(tx.Bimester, delta)
			student.UpdatedAt = now
			w.PutStudent(student)
		}
		res = &Result{
			Transaction: tx,
			Student:     student,
			Batch: models.LedgerBatch{
				ID:        l.opts.NewID(),
				CreatedAt: now,
				Mutations: []models.LedgerMutation{{Kind: models.MutationAmend, Transaction: tx}},
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Remove deletes a transaction and subtracts its amount from the balance. Removing a
// BADGE transaction also drops the badge from the owned set unless another live grant
// of the same badge remains.
func (l *Ledger) Remove(txID string) (*Result, error) {
	var res *Result
	err := l.store.Update(func(w Writer) error {
		tx, ok := w.Transaction(txID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
		}
		student, ok := w.Student(tx.StudentID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrStudentNotFound, tx.StudentID)
		}
		now := l.opts.Now()
		w.DeleteTransaction(tx.ID)
		student.AddLXC(tx.Bimester, -tx.Amount)
		if badgeID := tx.OwnedBadgeID(); badgeID != "" && !stillGranted(w, student.ID, badgeID) {
			student.RemoveBadge(badgeID)
		}
		student.UpdatedAt = now
		w.PutStudent(student)
		res = &Result{
			Transaction: tx,
			Student:     student,
			Batch: models.LedgerBatch{
				ID:        l.opts.NewID(),
				CreatedAt: now,
				Mutations: []models.LedgerMutation{{Kind: models.MutationRemove, Transaction: tx}},
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// EvaluateUnlocks reruns automatic unlock evaluation for a student and bimester outside
// of an append. Already owned badges are never awarded again, so repeated calls are safe.
func (l *Ledger) EvaluateUnlocks(studentID string, bimester int) (*Result, error) {
	if !models.ValidBimester(bimester) {
		return nil, fmt.Errorf("%w: bimester %d", ErrInvalidTransaction, bimester)
	}
	var res *Result
	err := l.store.Update(func(w Writer) error {
		student, ok := w.Student(studentID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrStudentNotFound, studentID)
		}
		now := l.opts.Now()
		batch := models.LedgerBatch{ID: l.opts.NewID(), CreatedAt: now}
		var unlocked []models.Transaction
		if l.badges != nil {
			unlocked = l.unlock(w, &student, bimester, now, &batch)
		}
		if len(unlocked) > 0 {
			w.PutStudent(student)
		}
		res = &Result{Unlocked: unlocked, Student: student, Batch: batch}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Ledger) applyAppend(w Writer, student *models.Student, tx models.Transaction, now time.Time, batch *models.LedgerBatch) models.Transaction {
	if tx.ID == "" {
		tx.ID = l.opts.NewID()
	}
	if tx.Date.IsZero() {
		tx.Date = now
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	tx.Description = strings.TrimSpace(tx.Description)
	w.PutTransaction(tx)

	student.AddLXC(tx.Bimester, tx.Amount)
	if badgeID := tx.OwnedBadgeID(); badgeID != "" {
		student.AddBadge(badgeID)
	}
	student.UpdatedAt = now
	batch.Mutations = append(batch.Mutations, models.LedgerMutation{Kind: models.MutationAppend, Transaction: tx})
	return tx
}

// unlock appends one BADGE transaction per newly satisfied badge. Synthetic transactions
// never re-enter evaluation.
func (l *Ledger) unlock(w Writer, student *models.Student, bimester int, now time.Time, batch *models.LedgerBatch) []models.Transaction {
	taskCount := 0
	for _, t := range w.StudentTransactions(student.ID) {
		if t.Type == models.TransactionTask && t.Bimester == bimester {
			taskCount++
		}
	}
	eval := l.evaluator.Evaluate(*student, bimester, taskCount, l.badges.Badges())
	unlocked := make([]models.Transaction, 0, len(eval.Unlocked))
	for _, badge := range eval.Unlocked {
		description := strings.TrimSpace(badge.Name)
		if description == "" {
			description = badge.ID
		}
		synthetic := models.Transaction{
			StudentID:   student.ID,
			Type:        models.TransactionBadge,
			Amount:      badge.RewardValue,
			Description: description,
			BadgeID:     badge.ID,
			Bimester:    bimester,
			Note:        AutoUnlockNote,
			TeacherName: l.opts.SystemActor,
		}
		unlocked = append(unlocked, l.applyAppend(w, student, synthetic, now, batch))
	}
	return unlocked
}

func stillGranted(r Reader, studentID, badgeID string) bool {
	for _, t := range r.StudentTransactions(studentID) {
		if t.OwnedBadgeID() == badgeID {
			return true
		}
	}
	return false
}

var errDescriptionRequired = fmt.Errorf("%w: description is required", ErrInvalidTransaction)

func validateTransaction(tx models.Transaction) error {
	if strings.TrimSpace(tx.StudentID) == "" {
		return fmt.Errorf("%w: student id is required", ErrInvalidTransaction)
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, tx.Type)
	}
	if !models.ValidBimester(tx.Bimester) {
		return fmt.Errorf("%w: bimester %d out of range", ErrInvalidTransaction, tx.Bimester)
	}
	if tx.Type == models.TransactionBadge && tx.OwnedBadgeID() == "" {
		return fmt.Errorf("%w: badge transaction without badge id", ErrInvalidTransaction)
	}
	if strings.TrimSpace(tx.Description) == "" {
		return errDescriptionRequired
	}
	return nil
}
