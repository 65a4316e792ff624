package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

func sampleTransactions() []models.Transaction {
	return []models.Transaction{
		{ID: "t1", StudentID: "s1", Type: models.TransactionTask, Amount: 30, Bimester: 1},
		{ID: "t2", StudentID: "s1", Type: models.TransactionPenalty, Amount: -5, Bimester: 1},
		{ID: "t3", StudentID: "s1", Type: models.TransactionBadge, Amount: 10, BadgeID: "star", Bimester: 2},
		{ID: "t4", StudentID: "s2", Type: models.TransactionBonus, Amount: 7, Bimester: 1},
		{ID: "t5", StudentID: "gone", Type: models.TransactionTask, Amount: 99, Bimester: 1},
	}
}

func TestProjectIsPureSum(t *testing.T) {
	txs := sampleTransactions()
	assert.Equal(t, 25, Project(txs, "s1", 1))
	assert.Equal(t, 10, Project(txs, "s1", 2))
	assert.Equal(t, 0, Project(txs, "s1", 3))
	assert.Equal(t, Project(txs, "s1", 1), Project(txs, "s1", 1))
	assert.Equal(t, 0, Project(nil, "s1", 1))
}

func TestProjectAll(t *testing.T) {
	all := ProjectAll(sampleTransactions())
	assert.Equal(t, 25, all["s1"].Get(1))
	assert.Equal(t, 7, all["s2"].Get(1))
	assert.Equal(t, 99, all["gone"].Get(1))
}

func TestVerifyReportsDrift(t *testing.T) {
	students := []models.Student{
		{ID: "s1", LXCTotal: models.Balances{1: 25, 2: 10}},
		{ID: "s2", LXCTotal: models.Balances{1: 9, 3: 1}},
	}
	drifts := Verify(students, sampleTransactions())
	require.Len(t, drifts, 2)
	assert.Equal(t, Drift{StudentID: "s2", Bimester: 1, Cached: 9, Projected: 7}, drifts[0])
	assert.Equal(t, Drift{StudentID: "s2", Bimester: 3, Cached: 1, Projected: 0}, drifts[1])
}

func TestRebuildRederivesAggregates(t *testing.T) {
	students := []models.Student{
		{ID: "s1", LXCTotal: models.Balances{1: 1000}},
		{ID: "s2"},
	}
	rebuilt, orphans := Rebuild(students, sampleTransactions())

	require.Len(t, rebuilt, 2)
	assert.Equal(t, 25, rebuilt[0].LXCTotal.Get(1))
	assert.Equal(t, 10, rebuilt[0].LXCTotal.Get(2))
	assert.Equal(t, []string{"star"}, rebuilt[0].Badges)
	assert.Equal(t, 7, rebuilt[1].LXCTotal.Get(1))
	require.Len(t, orphans, 1)
	assert.Equal(t, "t5", orphans[0].ID)
	assert.Equal(t, 1000, students[0].LXCTotal.Get(1), "input must not be mutated")

	assert.Empty(t, Verify(rebuilt, sampleTransactions()[:4]))
}
