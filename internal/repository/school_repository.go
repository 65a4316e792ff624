package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// SchoolRepository manages persistence for schools.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository constructs a SchoolRepository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

// Create inserts a school.
func (r *SchoolRepository) Create(ctx context.Context, school *models.School) error {
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if school.CreatedAt.IsZero() {
		school.CreatedAt = now
	}
	school.UpdatedAt = now
	const query = `INSERT INTO schools (id, name, owner_id, created_at, updated_at) VALUES (:id, :name, :owner_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, school); err != nil {
		return fmt.Errorf("create school: %w", err)
	}
	return nil
}

// Update renames a school.
func (r *SchoolRepository) Update(ctx context.Context, school *models.School) error {
	school.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schools SET name = :name, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, school); err != nil {
		return fmt.Errorf("update school: %w", err)
	}
	return nil
}

// Delete removes a school. Classes still referencing it make the delete fail.
func (r *SchoolRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schools WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete school: %w", err)
	}
	return nil
}

// ListAll returns every school ordered by name.
func (r *SchoolRepository) ListAll(ctx context.Context) ([]models.School, error) {
	return loadSchools(ctx, r.db)
}

func loadSchools(ctx context.Context, q sqlx.QueryerContext) ([]models.School, error) {
	var schools []models.School
	if err := sqlx.SelectContext(ctx, q, &schools, `SELECT id, name, owner_id, created_at, updated_at FROM schools ORDER BY name ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	return schools, nil
}
