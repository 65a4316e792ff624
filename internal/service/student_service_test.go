package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

type mockStudentRepo struct {
	created []models.Student
	updated []models.Student
	deleted []string
	seq     int
	err     error
}

func (m *mockStudentRepo) nextID() string {
	m.seq++
	return fmt.Sprintf("new-%d", m.seq)
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.err != nil {
		return m.err
	}
	student.ID = m.nextID()
	student.CreatedAt = time.Now()
	m.created = append(m.created, *student)
	return nil
}

func (m *mockStudentRepo) CreateBatch(ctx context.Context, students []models.Student) error {
	if m.err != nil {
		return m.err
	}
	for i := range students {
		students[i].ID = m.nextID()
		m.created = append(m.created, students[i])
	}
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	if m.err != nil {
		return m.err
	}
	m.updated = append(m.updated, *student)
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func newStudentFixture() (*StudentService, *mockStudentRepo, *ledger.MemoryStore, *fakeSubmitter, *fakeRankingStore) {
	store := seedStore()
	store.PutSchool(models.School{ID: "sc2", Name: "South High", OwnerID: "t9"})
	store.PutClass(models.Class{ID: "c2", SchoolID: "sc2", Name: "8B", OwnerID: "t9"})
	store.PutClass(models.Class{ID: "c3", SchoolID: "sc1", Name: "7C", OwnerID: "t1"})
	repo := &mockStudentRepo{}
	pending := &fakeSubmitter{}
	rankingStore := newFakeRankingStore()
	svc := NewStudentService(repo, store, pending, NewRankingCache(rankingStore, nil, time.Minute, nil, true), nil, nil)
	return svc, repo, store, pending, rankingStore
}

func TestStudentServiceListRequiresClassForTeachers(t *testing.T) {
	svc, _, _, _, _ := newStudentFixture()

	_, _, err := svc.List(teacherClaims, models.StudentFilter{})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	students, page, err := svc.List(teacherClaims, models.StudentFilter{ClassID: "c1"})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "Ana", students[0].FullName)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 20, page.PageSize)

	_, _, err = svc.List(teacherClaims, models.StudentFilter{ClassID: "c2"})
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	students, _, err = svc.List(adminClaims, models.StudentFilter{})
	require.NoError(t, err)
	assert.Len(t, students, 2)
}

func TestStudentServiceCreate(t *testing.T) {
	svc, repo, store, _, rankingStore := newStudentFixture()

	student, err := svc.Create(context.Background(), helperClaims, CreateStudentRequest{ClassID: "c1", FullName: "  Carla "})
	require.NoError(t, err)
	assert.Equal(t, "Carla", student.FullName)
	assert.Equal(t, "sc1", student.SchoolID)
	assert.NotNil(t, student.LXCTotal)
	require.Len(t, repo.created, 1)

	stored, ok := store.Student(student.ID)
	require.True(t, ok)
	assert.Equal(t, "Carla", stored.FullName)
	assert.Contains(t, rankingStore.dropped, "c1")

	_, err = svc.Create(context.Background(), teacherClaims, CreateStudentRequest{ClassID: "c2", FullName: "Dora"})
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	_, err = svc.Create(context.Background(), teacherClaims, CreateStudentRequest{ClassID: "c1", FullName: "   "})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}

func TestStudentServiceUpdateMovesBetweenManagedClasses(t *testing.T) {
	svc, repo, store, _, _ := newStudentFixture()

	updated, err := svc.Update(context.Background(), teacherClaims, "s1", UpdateStudentRequest{ClassID: "c3", FullName: "Ana Maria"})
	require.NoError(t, err)
	assert.Equal(t, "c3", updated.ClassID)
	require.Len(t, repo.updated, 1)

	stored, _ := store.Student("s1")
	assert.Equal(t, "Ana Maria", stored.FullName)
	assert.Len(t, store.ClassStudents("c3"), 1)

	_, err = svc.Update(context.Background(), teacherClaims, "s2", UpdateStudentRequest{ClassID: "c2", FullName: "Bruno"})
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))
}

func TestStudentServiceDeleteRefusedWhileSyncPending(t *testing.T) {
	svc, repo, store, pending, _ := newStudentFixture()
	pending.pending = 1

	err := svc.Delete(context.Background(), teacherClaims, "s1")
	assert.Equal(t, appErrors.ErrSyncPending.Code, errCode(err))
	assert.Empty(t, repo.deleted)

	pending.pending = 0
	require.NoError(t, svc.Delete(context.Background(), teacherClaims, "s1"))
	assert.Equal(t, []string{"s1"}, repo.deleted)
	_, ok := store.Student("s1")
	assert.False(t, ok)
}

func TestStudentServiceDeleteRepositoryFailureKeepsStudent(t *testing.T) {
	svc, repo, store, _, _ := newStudentFixture()
	repo.err = errors.New("db down")

	err := svc.Delete(context.Background(), teacherClaims, "s1")
	assert.Equal(t, appErrors.ErrInternal.Code, errCode(err))
	_, ok := store.Student("s1")
	assert.True(t, ok)
}

func TestStudentServiceImportSkipsDuplicates(t *testing.T) {
	svc, repo, store, _, _ := newStudentFixture()

	csv := "full_name\nCarla\nana\n   \nDiego\ncarla\n"
	result, err := svc.Import(context.Background(), teacherClaims, "c1", strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, result.Created, 2)
	assert.Equal(t, "Carla", result.Created[0].FullName)
	assert.Equal(t, "Diego", result.Created[1].FullName)
	assert.Len(t, result.Skipped, 2)
	assert.Len(t, repo.created, 2)
	assert.Len(t, store.ClassStudents("c1"), 4)
}

func TestStudentServiceImportRejectsMissingColumn(t *testing.T) {
	svc, _, _, _, _ := newStudentFixture()

	_, err := svc.Import(context.Background(), teacherClaims, "c1", strings.NewReader("name\nCarla\n"))
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	_, err = svc.Import(context.Background(), outsiderClaims, "c1", strings.NewReader("full_name\nCarla\n"))
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))
}
