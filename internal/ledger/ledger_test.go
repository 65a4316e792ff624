package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

type staticBadges []models.BadgeDefinition

func (s staticBadges) Badges() []models.BadgeDefinition { return s }

func newTestLedger(t *testing.T, badges BadgeCatalog, policy BadgePolicy) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.PutStudent(models.Student{ID: "s1", SchoolID: "sc1", ClassID: "c1", FullName: "Ana"})
	store.PutStudent(models.Student{ID: "s2", SchoolID: "sc1", ClassID: "c1", FullName: "Bruno"})
	seq := 0
	l := New(store, badges, Options{
		SystemActor: "system",
		BadgePolicy: policy,
		Now:         func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
	})
	return l, store
}

func assertProjectionMatches(t *testing.T, store *MemoryStore) {
	t.Helper()
	_, _, students, txs := store.All()
	assert.Empty(t, Verify(students, txs))
}

func TestLedgerAppendUpdatesBalance(t *testing.T) {
	l, store := newTestLedger(t, nil, "")

	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 30, Description: "Homework", Bimester: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Transaction.ID)
	assert.False(t, res.Transaction.Date.IsZero())
	assert.Equal(t, 30, res.Student.LXCTotal.Get(1))
	require.Len(t, res.Batch.Mutations, 1)
	assert.Equal(t, models.MutationAppend, res.Batch.Mutations[0].Kind)

	st, ok := store.Student("s1")
	require.True(t, ok)
	assert.Equal(t, 30, st.LXCTotal.Get(1))
	assertProjectionMatches(t, store)
}

func TestLedgerAppendValidation(t *testing.T) {
	l, store := newTestLedger(t, nil, "")

	cases := []struct {
		name string
		tx   models.Transaction
		want error
	}{
		{"missing student", models.Transaction{Type: models.TransactionTask, Bimester: 1}, ErrInvalidTransaction},
		{"unknown type", models.Transaction{StudentID: "s1", Type: "GIFT", Bimester: 1}, ErrInvalidTransaction},
		{"bimester out of range", models.Transaction{StudentID: "s1", Type: models.TransactionTask, Bimester: 5}, ErrInvalidTransaction},
		{"badge without id", models.Transaction{StudentID: "s1", Type: models.TransactionBadge, Bimester: 1}, ErrInvalidTransaction},
		{"blank description", models.Transaction{StudentID: "s1", Type: models.TransactionTask, Bimester: 1, Amount: 5, Description: "  "}, ErrInvalidTransaction},
		{"unknown student", models.Transaction{StudentID: "ghost", Type: models.TransactionTask, Bimester: 1, Amount: 5, Description: "Essay"}, ErrStudentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Append(tc.tx)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, _, students, txs := store.All()
	assert.Empty(t, txs)
	for _, st := range students {
		assert.Zero(t, st.LXCTotal.Total())
	}
	_, ok := store.Student("ghost")
	assert.False(t, ok)
}

func TestLedgerAppendDuplicateID(t *testing.T) {
	l, _ := newTestLedger(t, nil, "")
	_, err := l.Append(models.Transaction{ID: "fixed", StudentID: "s1", Type: models.TransactionBonus, Amount: 5, Description: "Entry", Bimester: 2})
	require.NoError(t, err)

	_, err = l.Append(models.Transaction{ID: "fixed", StudentID: "s1", Type: models.TransactionBonus, Amount: 5, Description: "Entry", Bimester: 2})
	assert.ErrorIs(t, err, ErrTransactionExists)
}

func TestLedgerAmendRoundTrip(t *testing.T) {
	l, store := newTestLedger(t, nil, "")
	_, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionBonus, Amount: 100, Description: "Entry", Bimester: 3})
	require.NoError(t, err)
	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 20, Description: "Entry", Bimester: 3})
	require.NoError(t, err)
	before := res.Student.LXCTotal.Get(3)

	amended, err := l.Amend(res.Transaction.ID, -5)
	require.NoError(t, err)
	assert.Equal(t, before-25, amended.Student.LXCTotal.Get(3))
	assert.Equal(t, -5, amended.Transaction.Amount)
	assert.Equal(t, models.MutationAmend, amended.Batch.Mutations[0].Kind)
	assertProjectionMatches(t, store)

	restored, err := l.Amend(res.Transaction.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, before, restored.Student.LXCTotal.Get(3))
	assertProjectionMatches(t, store)
}

func TestLedgerAmendNotFound(t *testing.T) {
	l, _ := newTestLedger(t, nil, "")
	_, err := l.Amend("missing", 10)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestLedgerDescribeKeepsBalance(t *testing.T) {
	l, _ := newTestLedger(t, nil, "")
	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 40, Description: "Essay", Bimester: 1})
	require.NoError(t, err)

	note := "late submission"
	edited, err := l.Describe(res.Transaction.ID, "  Essay draft ", &note)
	require.NoError(t, err)
	assert.Equal(t, "Essay draft", edited.Transaction.Description)
	assert.Equal(t, note, edited.Transaction.Note)
	assert.Equal(t, 40, edited.Student.LXCTotal.Get(1))

	_, err = l.Describe(res.Transaction.ID, "   ", nil)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestLedgerRemoveIsInverseOfAppend(t *testing.T) {
	l, store := newTestLedger(t, nil, "")
	_, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 15, Description: "Entry", Bimester: 2})
	require.NoError(t, err)
	st, _ := store.Student("s1")
	before := st.LXCTotal.Get(2)

	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionPenalty, Amount: -10, Description: "Entry", Bimester: 2})
	require.NoError(t, err)
	removed, err := l.Remove(res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, before, removed.Student.LXCTotal.Get(2))
	assert.Equal(t, models.MutationRemove, removed.Batch.Mutations[0].Kind)

	_, ok := store.Student("s1")
	require.True(t, ok)
	assertProjectionMatches(t, store)
}

func TestLedgerRemoveBadgeDropsOwnership(t *testing.T) {
	l, store := newTestLedger(t, nil, "")
	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionBadge, Amount: 10, Description: "Star", BadgeID: "star", Bimester: 1})
	require.NoError(t, err)
	assert.Contains(t, res.Student.Badges, "star")

	removed, err := l.Remove(res.Transaction.ID)
	require.NoError(t, err)
	assert.NotContains(t, removed.Student.Badges, "star")
	assert.Equal(t, 0, removed.Student.LXCTotal.Get(1))
	assertProjectionMatches(t, store)
}

func TestLedgerRemoveNotFound(t *testing.T) {
	l, _ := newTestLedger(t, nil, "")
	_, err := l.Remove("missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestLedgerAutomaticUnlockOnLXCThreshold(t *testing.T) {
	badges := staticBadges{{
		ID:                 "B1",
		Name:               "First Steps",
		RewardValue:        10,
		Bimesters:          []int{1},
		AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: 50},
	}}
	l, store := newTestLedger(t, badges, "")

	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 50, Description: "Entry", Bimester: 1, TeacherName: "Ms. Lima"})
	require.NoError(t, err)

	require.Len(t, res.Unlocked, 1)
	synthetic := res.Unlocked[0]
	assert.Equal(t, models.TransactionBadge, synthetic.Type)
	assert.Equal(t, 10, synthetic.Amount)
	assert.Equal(t, "First Steps", synthetic.Description)
	assert.Equal(t, "B1", synthetic.BadgeID)
	assert.Equal(t, AutoUnlockNote, synthetic.Note)
	assert.Equal(t, "system", synthetic.TeacherName)
	assert.Equal(t, 60, res.Student.LXCTotal.Get(1))
	assert.Contains(t, res.Student.Badges, "B1")
	assert.Len(t, res.Batch.Mutations, 2)
	assertProjectionMatches(t, store)

	again, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 5, Description: "Entry", Bimester: 1})
	require.NoError(t, err)
	assert.Empty(t, again.Unlocked)
	assert.Equal(t, 65, again.Student.LXCTotal.Get(1))
}

func TestLedgerUnlockByTaskCountIncludesTrigger(t *testing.T) {
	badges := staticBadges{
		{ID: "worker", Name: "Hard Worker", RewardValue: 5, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByTasks, Threshold: 2}},
		{ID: "rich", Name: "Rich", RewardValue: 0, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: 20}},
		{ID: "other-period", Name: "Later", RewardValue: 1, Bimesters: []int{4}, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: 0}},
	}
	l, store := newTestLedger(t, badges, "")

	first, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 10, Description: "Entry", Bimester: 2})
	require.NoError(t, err)
	assert.Empty(t, first.Unlocked)

	second, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 10, Description: "Entry", Bimester: 2})
	require.NoError(t, err)
	require.Len(t, second.Unlocked, 2)
	assert.ElementsMatch(t, []string{"worker", "rich"}, []string{second.Unlocked[0].BadgeID, second.Unlocked[1].BadgeID})
	assert.Equal(t, 25, second.Student.LXCTotal.Get(2))
	assertProjectionMatches(t, store)
}

func TestLedgerBonusCountsForLXCButNotTasks(t *testing.T) {
	badges := staticBadges{{ID: "worker", Name: "Hard Worker", AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByTasks, Threshold: 1}}}
	l, _ := newTestLedger(t, badges, "")

	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionBonus, Amount: 100, Description: "Entry", Bimester: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
}

func TestLedgerBadgeAppendDoesNotCascade(t *testing.T) {
	badges := staticBadges{{ID: "rich", Name: "Rich", RewardValue: 5, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: 10}}}
	l, _ := newTestLedger(t, badges, "")

	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionBadge, Amount: 50, BadgeID: "manual", Description: "Manual", Bimester: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Equal(t, 50, res.Student.LXCTotal.Get(1))
}

func TestLedgerMalformedCriteriaSkipsOnlyThatBadge(t *testing.T) {
	badges := staticBadges{
		{ID: "broken", Name: "Broken", AutoUnlockCriteria: &models.UnlockCriteria{Type: "STREAK", Threshold: 1}},
		{ID: "negative", Name: "Negative", AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: -1}},
		{ID: "ok", Name: "Ok", RewardValue: 1, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: 1}},
	}
	l, _ := newTestLedger(t, badges, "")

	res, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 10, Description: "Entry", Bimester: 1})
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, "ok", res.Unlocked[0].BadgeID)
}

func TestLedgerEvaluateUnlocksIsIdempotent(t *testing.T) {
	badges := staticBadges{{ID: "rich", Name: "Rich", RewardValue: 3, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: 10}}}
	l, store := newTestLedger(t, nil, "")
	_, err := l.Append(models.Transaction{StudentID: "s1", Type: models.TransactionTask, Amount: 10, Description: "Entry", Bimester: 1})
	require.NoError(t, err)

	l.badges = badges
	first, err := l.EvaluateUnlocks("s1", 1)
	require.NoError(t, err)
	require.Len(t, first.Unlocked, 1)

	second, err := l.EvaluateUnlocks("s1", 1)
	require.NoError(t, err)
	assert.Empty(t, second.Unlocked)
	assert.Empty(t, second.Batch.Mutations)

	st, _ := store.Student("s1")
	assert.Equal(t, 13, st.LXCTotal.Get(1))
	assertProjectionMatches(t, store)
}

func TestLedgerManualBadgePolicy(t *testing.T) {
	grant := models.Transaction{StudentID: "s1", Type: models.TransactionBadge, Amount: 5, BadgeID: "star", Description: "Star", Bimester: 1}

	t.Run("allow", func(t *testing.T) {
		l, store := newTestLedger(t, nil, BadgePolicyAllowDuplicates)
		_, err := l.Append(grant)
		require.NoError(t, err)
		res, err := l.Append(grant)
		require.NoError(t, err)
		assert.Equal(t, 10, res.Student.LXCTotal.Get(1))
		assert.Equal(t, []string{"star"}, res.Student.Badges)
		assertProjectionMatches(t, store)
	})

	t.Run("reject", func(t *testing.T) {
		l, store := newTestLedger(t, nil, BadgePolicyRejectDuplicate)
		_, err := l.Append(grant)
		require.NoError(t, err)
		_, err = l.Append(grant)
		assert.True(t, errors.Is(err, ErrBadgeAlreadyOwned))
		st, _ := store.Student("s1")
		assert.Equal(t, 5, st.LXCTotal.Get(1))
	})
}

func TestLedgerRandomSequenceKeepsSumInvariant(t *testing.T) {
	badges := staticBadges{
		{ID: "b-lxc", Name: "Climber", RewardValue: 7, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: 60}},
		{ID: "b-tasks", Name: "Busy", RewardValue: 4, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByTasks, Threshold: 3}},
	}
	l, store := newTestLedger(t, badges, "")
	rng := rand.New(rand.NewSource(42))
	types := []models.TransactionType{models.TransactionTask, models.TransactionBonus, models.TransactionPenalty}
	var live []string

	for i := 0; i < 300; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			res, err := l.Append(models.Transaction{
				StudentID:   []string{"s1", "s2"}[rng.Intn(2)],
				Type:        types[rng.Intn(len(types))],
				Amount:      rng.Intn(61) - 20,
				Bimester:    rng.Intn(4) + 1,
				Description: "Random",
			})
			require.NoError(t, err)
			live = append(live, res.Transaction.ID)
			for _, u := range res.Unlocked {
				live = append(live, u.ID)
			}
		case op == 1:
			_, err := l.Amend(live[rng.Intn(len(live))], rng.Intn(101)-50)
			require.NoError(t, err)
		default:
			idx := rng.Intn(len(live))
			_, err := l.Remove(live[idx])
			require.NoError(t, err)
			live = append(live[:idx], live[idx+1:]...)
		}
		assertProjectionMatches(t, store)
	}
}

func TestLedgerRemoveDuplicateGrantKeepsBadge(t *testing.T) {
	l, _ := newTestLedger(t, nil, BadgePolicyAllowDuplicates)
	grant := models.Transaction{StudentID: "s1", Type: models.TransactionBadge, Amount: 5, BadgeID: "star", Description: "Star", Bimester: 1}
	first, err := l.Append(grant)
	require.NoError(t, err)
	_, err = l.Append(grant)
	require.NoError(t, err)

	res, err := l.Remove(first.Transaction.ID)
	require.NoError(t, err)
	assert.Contains(t, res.Student.Badges, "star")
	assert.Equal(t, 5, res.Student.LXCTotal.Get(1))
}

func TestLedgerAppendAllIsAtomic(t *testing.T) {
	l, store := newTestLedger(t, nil, BadgePolicyRejectDuplicate)
	_, err := l.Append(models.Transaction{StudentID: "s2", Type: models.TransactionBadge, Amount: 5, BadgeID: "star", Description: "Star", Bimester: 1})
	require.NoError(t, err)

	grant := func(studentID string) models.Transaction {
		return models.Transaction{StudentID: studentID, Type: models.TransactionBadge, Amount: 5, BadgeID: "star", Description: "Star", Bimester: 1}
	}
	_, _, err = l.AppendAll([]models.Transaction{grant("s1"), grant("s2")})
	assert.ErrorIs(t, err, ErrBadgeAlreadyOwned)

	s1, _ := store.Student("s1")
	assert.Zero(t, s1.LXCTotal.Get(1))
	assert.Empty(t, s1.Badges)
	_, total := store.ListTransactions(models.TransactionFilter{StudentID: "s1"})
	assert.Zero(t, total)
	assertProjectionMatches(t, store)

	results, batch, err := l.AppendAll([]models.Transaction{
		{StudentID: "s1", Type: models.TransactionTask, Amount: 10, Description: "Essay", Bimester: 2},
		{StudentID: "s2", Type: models.TransactionTask, Amount: 20, Description: "Essay", Bimester: 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, batch.Mutations, 2)
	assert.NotEmpty(t, batch.ID)
	assertProjectionMatches(t, store)
}
