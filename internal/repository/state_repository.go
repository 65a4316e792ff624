package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// StateRepository reads and replaces the whole data graph. It backs startup loading,
// reloads and snapshot imports.
type StateRepository struct {
	db *sqlx.DB
}

// NewStateRepository constructs a StateRepository.
func NewStateRepository(db *sqlx.DB) *StateRepository {
	return &StateRepository{db: db}
}

// LoadState reads every roster, ledger, catalog and ladder row inside one read-only
// transaction so the result is a consistent cut.
func (r *StateRepository) LoadState(ctx context.Context) (state models.State, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return state, fmt.Errorf("begin load state: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if state.Schools, err = loadSchools(ctx, tx); err != nil {
		return state, err
	}
	if state.Classes, err = loadClasses(ctx, tx); err != nil {
		return state, err
	}
	if state.Students, err = loadStudents(ctx, tx); err != nil {
		return state, err
	}
	if err = sqlx.SelectContext(ctx, tx, &state.Transactions, selectTransactionsQuery); err != nil {
		return state, fmt.Errorf("list ledger transactions: %w", err)
	}
	if state.Catalog, err = loadCatalog(ctx, tx); err != nil {
		return state, err
	}
	if state.LevelRules, err = loadLadders(ctx, tx); err != nil {
		return state, err
	}
	return state, nil
}

// ReplaceAll wipes every domain table and writes state in a single transaction.
// Student balances and badges are taken from the students as given.
func (r *StateRepository) ReplaceAll(ctx context.Context, state models.State) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace state: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{
		"student_badges", "student_balances", "ledger_transactions", "students",
		"class_collaborators", "classes", "schools",
		"catalog_tasks", "catalog_badges", "catalog_penalties", "level_rules",
	} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	now := time.Now().UTC()
	for i := range state.Schools {
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO schools (id, name, owner_id, created_at, updated_at) VALUES (:id, :name, :owner_id, :created_at, :updated_at)`, &state.Schools[i]); err != nil {
			return fmt.Errorf("import school %s: %w", state.Schools[i].ID, err)
		}
	}
	for i := range state.Classes {
		class := &state.Classes[i]
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO classes (id, school_id, name, owner_id, created_at, updated_at) VALUES (:id, :school_id, :name, :owner_id, :created_at, :updated_at)`, class); err != nil {
			return fmt.Errorf("import class %s: %w", class.ID, err)
		}
		if err = replaceCollaborators(ctx, tx, class.ID, class.Collaborators, now); err != nil {
			return err
		}
	}
	for i := range state.Students {
		student := &state.Students[i]
		if _, err = tx.NamedExecContext(ctx, insertStudentQuery, student); err != nil {
			return fmt.Errorf("import student %s: %w", student.ID, err)
		}
		for b, total := range student.LXCTotal {
			if _, err = tx.ExecContext(ctx, `INSERT INTO student_balances (student_id, bimester, lxc_total, updated_at) VALUES ($1, $2, $3, $4)`, student.ID, b, total, now); err != nil {
				return fmt.Errorf("import balance %s/%d: %w", student.ID, b, err)
			}
		}
		for _, badgeID := range student.Badges {
			if _, err = tx.ExecContext(ctx, `INSERT INTO student_badges (student_id, badge_id, awarded_at) VALUES ($1, $2, $3)`, student.ID, badgeID, now); err != nil {
				return fmt.Errorf("import badge %s/%s: %w", student.ID, badgeID, err)
			}
		}
	}
	for i := range state.Transactions {
		if _, err = tx.NamedExecContext(ctx, insertTransactionQuery, &state.Transactions[i]); err != nil {
			return fmt.Errorf("import transaction %s: %w", state.Transactions[i].ID, err)
		}
	}
	for _, item := range state.Catalog.Entries() {
		if err = saveCatalogItem(ctx, tx, item.Item()); err != nil {
			return err
		}
	}
	for bimester, ladder := range state.LevelRules {
		if err = writeLadder(ctx, tx, bimester, ladder); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace state: %w", err)
	}
	return nil
}
