package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// ClassRepository manages persistence for classes and their collaborators.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a new class repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// Create inserts a class together with its collaborators.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) (err error) {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create class: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	const query = `INSERT INTO classes (id, school_id, name, owner_id, created_at, updated_at) VALUES (:id, :school_id, :name, :owner_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	if err = replaceCollaborators(ctx, tx, class.ID, class.Collaborators, now); err != nil {
		return err
	}
	return tx.Commit()
}

// Update renames a class and replaces its collaborator list.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) (err error) {
	class.UpdatedAt = time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update class: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	const query = `UPDATE classes SET name = :name, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	if err = replaceCollaborators(ctx, tx, class.ID, class.Collaborators, class.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a class. Students still enrolled make the delete fail.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}

// ListAll returns every class with collaborators attached.
func (r *ClassRepository) ListAll(ctx context.Context) ([]models.Class, error) {
	return loadClasses(ctx, r.db)
}

func replaceCollaborators(ctx context.Context, tx *sqlx.Tx, classID string, userIDs []string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM class_collaborators WHERE class_id = $1`, classID); err != nil {
		return fmt.Errorf("clear collaborators: %w", err)
	}
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO class_collaborators (class_id, user_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, classID, userID, now); err != nil {
			return fmt.Errorf("add collaborator %s: %w", userID, err)
		}
	}
	return nil
}

type collaboratorRow struct {
	ClassID string `db:"class_id"`
	UserID  string `db:"user_id"`
}

func loadClasses(ctx context.Context, q sqlx.QueryerContext) ([]models.Class, error) {
	var classes []models.Class
	if err := sqlx.SelectContext(ctx, q, &classes, `SELECT id, school_id, name, owner_id, created_at, updated_at FROM classes ORDER BY name ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	var collaborators []collaboratorRow
	if err := sqlx.SelectContext(ctx, q, &collaborators, `SELECT class_id, user_id FROM class_collaborators ORDER BY created_at ASC`); err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	idx := make(map[string]int, len(classes))
	for i := range classes {
		classes[i].Collaborators = []string{}
		idx[classes[i].ID] = i
	}
	for _, c := range collaborators {
		if i, ok := idx[c.ClassID]; ok {
			classes[i].Collaborators = append(classes[i].Collaborators, c.UserID)
		}
	}
	return classes, nil
}
