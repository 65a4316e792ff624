package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

func TestCatalogRepositoryLoad(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog_tasks")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "category", "points", "created_at", "updated_at"}).
			AddRow("t1", "Homework", "DAILY", 20, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog_badges")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "reward_value", "bimesters", "criteria_type", "criteria_threshold", "created_at", "updated_at"}).
			AddRow("B1", "First Steps", "", 10, "{1,2}", "LXC", 50, now, now).
			AddRow("B2", "Helper", "", 5, "{}", nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog_penalties")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "points", "created_at", "updated_at"}).
			AddRow("p1", "Late", -5, now, now))

	catalog, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Tasks, 1)
	assert.Equal(t, models.TaskDaily, catalog.Tasks[0].Category)
	require.Len(t, catalog.Badges, 2)
	assert.Equal(t, []int{1, 2}, catalog.Badges[0].Bimesters)
	require.NotNil(t, catalog.Badges[0].AutoUnlockCriteria)
	assert.Equal(t, models.UnlockByLXC, catalog.Badges[0].AutoUnlockCriteria.Type)
	assert.Equal(t, 50, catalog.Badges[0].AutoUnlockCriteria.Threshold)
	assert.Nil(t, catalog.Badges[1].AutoUnlockCriteria)
	assert.Empty(t, catalog.Badges[1].Bimesters)
	require.Len(t, catalog.Penalties, 1)
	assert.Equal(t, -5, catalog.Penalties[0].Points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositorySaveBadgeUpserts(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	mock.ExpectExec("INSERT INTO catalog_badges .* ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("B1", "First Steps", "", 10, sqlmock.AnyArg(), "TASKS", int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), models.BadgeDefinition{
		ID: "B1", Name: "First Steps", RewardValue: 10, Bimesters: []int{1},
		AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByTasks, Threshold: 3},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryDeleteRejectsUnknownKind(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	require.Error(t, repo.Delete(context.Background(), models.CatalogKind("WALLET"), "x"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM catalog_penalties WHERE id = $1")).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), models.CatalogPenalty, "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
