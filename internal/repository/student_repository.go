package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// StudentRepository manages persistence for student records. Balances and badges are
// written by LedgerRepository and only read here.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const insertStudentQuery = `INSERT INTO students (id, school_id, class_id, full_name, created_at, updated_at)
VALUES (:id, :school_id, :class_id, :full_name, :created_at, :updated_at)`

func stampStudent(student *models.Student, now time.Time) {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	stampStudent(student, time.Now().UTC())
	if _, err := r.db.NamedExecContext(ctx, insertStudentQuery, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// CreateBatch inserts every student in one transaction.
func (r *StudentRepository) CreateBatch(ctx context.Context, students []models.Student) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin student import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	now := time.Now().UTC()
	for i := range students {
		stampStudent(&students[i], now)
		if _, err = tx.NamedExecContext(ctx, insertStudentQuery, &students[i]); err != nil {
			return fmt.Errorf("import student %s: %w", students[i].FullName, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit student import: %w", err)
	}
	return nil
}

// Update modifies the roster fields of an existing student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET school_id = :school_id, class_id = :class_id, full_name = :full_name, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student. Transactions, balances and badges cascade.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}

// ListAll returns every student with cached balances and owned badges attached.
func (r *StudentRepository) ListAll(ctx context.Context) ([]models.Student, error) {
	return loadStudents(ctx, r.db)
}

type balanceRow struct {
	StudentID string `db:"student_id"`
	Bimester  int    `db:"bimester"`
	LXCTotal  int    `db:"lxc_total"`
}

type badgeRow struct {
	StudentID string `db:"student_id"`
	BadgeID   string `db:"badge_id"`
}

func loadStudents(ctx context.Context, q sqlx.QueryerContext) ([]models.Student, error) {
	var students []models.Student
	const studentsQuery = `SELECT id, school_id, class_id, full_name, created_at, updated_at FROM students ORDER BY full_name ASC, id ASC`
	if err := sqlx.SelectContext(ctx, q, &students, studentsQuery); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	var balances []balanceRow
	if err := sqlx.SelectContext(ctx, q, &balances, `SELECT student_id, bimester, lxc_total FROM student_balances`); err != nil {
		return nil, fmt.Errorf("list student balances: %w", err)
	}
	var badges []badgeRow
	if err := sqlx.SelectContext(ctx, q, &badges, `SELECT student_id, badge_id FROM student_badges ORDER BY awarded_at ASC`); err != nil {
		return nil, fmt.Errorf("list student badges: %w", err)
	}

	idx := make(map[string]int, len(students))
	for i := range students {
		students[i].LXCTotal = make(models.Balances)
		students[i].Badges = []string{}
		idx[students[i].ID] = i
	}
	for _, b := range balances {
		if i, ok := idx[b.StudentID]; ok {
			students[i].LXCTotal[b.Bimester] = b.LXCTotal
		}
	}
	for _, b := range badges {
		if i, ok := idx[b.StudentID]; ok {
			students[i].AddBadge(b.BadgeID)
		}
	}
	return students, nil
}
