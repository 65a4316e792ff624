package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock, func() { db.Close() }
}

func TestStudentRepositoryListAllAttachesBalancesAndBadges(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, school_id, class_id, full_name, created_at, updated_at FROM students")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "school_id", "class_id", "full_name", "created_at", "updated_at"}).
			AddRow("s1", "sc1", "c1", "Ana", now, now).
			AddRow("s2", "sc1", "c1", "Bruno", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id, bimester, lxc_total FROM student_balances")).
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "bimester", "lxc_total"}).
			AddRow("s1", 1, 60).
			AddRow("s1", 2, -5).
			AddRow("ghost", 1, 10))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id, badge_id FROM student_badges")).
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "badge_id"}).AddRow("s1", "B1"))

	students, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, 60, students[0].LXCTotal.Get(1))
	assert.Equal(t, -5, students[0].LXCTotal.Get(2))
	assert.Equal(t, []string{"B1"}, students[0].Badges)
	assert.Equal(t, 0, students[1].LXCTotal.Get(1))
	assert.Empty(t, students[1].Badges)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), "sc1", "c1", "Ana", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{SchoolID: "sc1", ClassID: "c1", FullName: "Ana"}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.NotEmpty(t, student.ID)
	assert.False(t, student.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateBatchRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.CreateBatch(context.Background(), []models.Student{
		{SchoolID: "sc1", ClassID: "c1", FullName: "Ana"},
		{SchoolID: "sc1", ClassID: "c1", FullName: "Bruno"},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
