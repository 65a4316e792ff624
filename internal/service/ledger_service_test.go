package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

func TestLedgerServiceGrantTaskToSelection(t *testing.T) {
	f := newLedgerFixture()

	out, err := f.svc.Grant(context.Background(), teacherClaims, GrantRequest{
		Kind:       models.CatalogTask,
		ItemID:     "task-essay",
		StudentIDs: []string{"s1", "s2"},
		Note:       "  well done ",
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, models.SyncQueued, out.Sync)

	require.Len(t, f.sync.batches, 1)
	assert.Len(t, f.sync.batches[0].Mutations, 2)
	for _, res := range out.Results {
		assert.Equal(t, "Ms. Lima", res.Transaction.TeacherName)
		assert.Equal(t, "well done", res.Transaction.Note)
		assert.Equal(t, 50, res.Transaction.Amount)
		assert.Equal(t, 1, res.Transaction.Bimester)
	}

	s1, _ := f.store.Student("s1")
	assert.Equal(t, 50, s1.LXCTotal.Get(1))
	s2, _ := f.store.Student("s2")
	assert.Equal(t, 50, s2.LXCTotal.Get(1))
}

func TestLedgerServiceGrantClampsOverride(t *testing.T) {
	f := newLedgerFixture()

	out, err := f.svc.Grant(context.Background(), helperClaims, GrantRequest{
		Kind:       models.CatalogTask,
		ItemID:     "task-essay",
		StudentIDs: []string{"s1"},
		Overrides:  map[string]int{"s1": 500},
		Bimester:   2,
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, 100, out.Results[0].Transaction.Amount)
	assert.Equal(t, "Mr. Souza", out.Results[0].Transaction.TeacherName)

	require.Len(t, out.Results[0].Unlocked, 1)

	s1, _ := f.store.Student("s1")
	assert.Equal(t, 115, s1.LXCTotal.Get(2))
	assert.Equal(t, 0, s1.LXCTotal.Get(1))
}

func TestLedgerServiceGrantRejectsEmptySelection(t *testing.T) {
	f := newLedgerFixture()

	_, err := f.svc.Grant(context.Background(), teacherClaims, GrantRequest{Kind: models.CatalogTask, ItemID: "task-essay"})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
	assert.Empty(t, f.sync.batches)
}

func TestLedgerServiceGrantForbiddenForOutsider(t *testing.T) {
	f := newLedgerFixture()

	_, err := f.svc.Grant(context.Background(), outsiderClaims, GrantRequest{
		Kind:       models.CatalogTask,
		ItemID:     "task-essay",
		StudentIDs: []string{"s1"},
	})
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))
	assert.Empty(t, f.sync.batches)

	s1, _ := f.store.Student("s1")
	assert.Equal(t, 0, s1.LXCTotal.Get(1))
}

func TestLedgerServiceGrantUnknownItem(t *testing.T) {
	f := newLedgerFixture()

	_, err := f.svc.Grant(context.Background(), teacherClaims, GrantRequest{
		Kind:       models.CatalogPenalty,
		ItemID:     "missing",
		StudentIDs: []string{"s1"},
	})
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
}

func TestLedgerServiceGrantUnlocksThresholdBadge(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, teacherClaims, GrantRequest{Kind: models.CatalogTask, ItemID: "task-essay", StudentIDs: []string{"s1"}})
	require.NoError(t, err)

	out, err := f.svc.Grant(ctx, teacherClaims, GrantRequest{
		Kind:       models.CatalogTask,
		ItemID:     "task-essay",
		StudentIDs: []string{"s1"},
		Overrides:  map[string]int{"s1": 10},
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	require.Len(t, out.Results[0].Unlocked, 1)
	unlocked := out.Results[0].Unlocked[0]
	assert.Equal(t, "badge-60", unlocked.BadgeID)
	assert.Equal(t, 15, unlocked.Amount)

	s1, _ := f.store.Student("s1")
	assert.Equal(t, 75, s1.LXCTotal.Get(1))
	assert.True(t, s1.HasBadge("badge-60"))

	require.Len(t, f.sync.batches, 2)
	assert.Len(t, f.sync.batches[1].Mutations, 2)
}

func TestLedgerServiceGrantBadgeOutsideBimester(t *testing.T) {
	f := newLedgerFixture()

	_, err := f.svc.Grant(context.Background(), teacherClaims, GrantRequest{
		Kind:       models.CatalogBadge,
		ItemID:     "badge-b4",
		StudentIDs: []string{"s1"},
		Bimester:   1,
	})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	out, err := f.svc.Grant(context.Background(), teacherClaims, GrantRequest{
		Kind:       models.CatalogBadge,
		ItemID:     "badge-b4",
		StudentIDs: []string{"s1"},
		Bimester:   4,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionBadge, out.Results[0].Transaction.Type)
	assert.Equal(t, 20, out.Results[0].Transaction.Amount)
}

func TestLedgerServiceRejectedGrantLeavesSelectionUntouched(t *testing.T) {
	f := newLedgerFixture()
	f.svc.ledger = ledger.New(f.store, f.catalog, ledger.Options{SystemActor: "system", BadgePolicy: ledger.BadgePolicyRejectDuplicate})
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, teacherClaims, GrantRequest{Kind: models.CatalogBadge, ItemID: "badge-b4", StudentIDs: []string{"s2"}, Bimester: 4})
	require.NoError(t, err)
	require.Len(t, f.sync.batches, 1)

	_, err = f.svc.Grant(ctx, teacherClaims, GrantRequest{Kind: models.CatalogBadge, ItemID: "badge-b4", StudentIDs: []string{"s1", "s2"}, Bimester: 4})
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(err))

	s1, _ := f.store.Student("s1")
	assert.Equal(t, 0, s1.LXCTotal.Get(4))
	assert.False(t, s1.HasBadge("badge-b4"))
	s2, _ := f.store.Student("s2")
	assert.Equal(t, 20, s2.LXCTotal.Get(4))
	assert.Len(t, f.sync.batches, 1)
	assert.Empty(t, f.svc.Verify())
}

func TestLedgerServiceRecordCustomDefaultsToBonus(t *testing.T) {
	f := newLedgerFixture()

	out, err := f.svc.RecordCustom(context.Background(), teacherClaims, CustomGrantRequest{
		StudentIDs:  []string{"s2"},
		Amount:      7,
		Description: " Helped a classmate ",
	})
	require.NoError(t, err)
	tx := out.Results[0].Transaction
	assert.Equal(t, models.TransactionBonus, tx.Type)
	assert.Equal(t, "Helped a classmate", tx.Description)

	_, err = f.svc.RecordCustom(context.Background(), teacherClaims, CustomGrantRequest{
		StudentIDs:  []string{"s2"},
		Type:        models.TransactionBadge,
		Amount:      7,
		Description: "sneaky",
	})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}

func TestLedgerServiceEditAndRemoveTransaction(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	out, err := f.svc.Grant(ctx, teacherClaims, GrantRequest{Kind: models.CatalogTask, ItemID: "task-essay", StudentIDs: []string{"s2"}})
	require.NoError(t, err)
	id := out.Results[0].Transaction.ID

	_, err = f.svc.EditTransaction(ctx, teacherClaims, id, EditTransactionRequest{})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	amount := 30
	note := "regraded"
	edited, err := f.svc.EditTransaction(ctx, teacherClaims, id, EditTransactionRequest{Amount: &amount, Note: &note})
	require.NoError(t, err)
	assert.Equal(t, 30, edited.Results[0].Transaction.Amount)
	s2, _ := f.store.Student("s2")
	assert.Equal(t, 30, s2.LXCTotal.Get(1))

	_, err = f.svc.RemoveTransaction(ctx, outsiderClaims, id)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	_, err = f.svc.RemoveTransaction(ctx, teacherClaims, id)
	require.NoError(t, err)
	s2, _ = f.store.Student("s2")
	assert.Equal(t, 0, s2.LXCTotal.Get(1))

	_, err = f.svc.RemoveTransaction(ctx, teacherClaims, id)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
	assert.Len(t, f.sync.batches, 3)
}

func TestLedgerServiceRankingIsCachedUntilWrite(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	ranking, hit, err := f.svc.Ranking(ctx, teacherClaims, "c1", 1)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, ranking.Entries, 2)
	assert.Equal(t, 1, ranking.Entries[0].Rank)
	assert.Equal(t, 1, ranking.Entries[1].Rank)
	assert.Equal(t, "Ana", ranking.Entries[0].FullName)
	assert.Equal(t, "Rookie", ranking.Entries[0].Tier)
	assert.Contains(t, f.cache.data, rankingSlot("c1", 1))

	_, hit, err = f.svc.Ranking(ctx, teacherClaims, "c1", 1)
	require.NoError(t, err)
	assert.True(t, hit)

	_, err = f.svc.Grant(ctx, teacherClaims, GrantRequest{Kind: models.CatalogTask, ItemID: "task-boss", StudentIDs: []string{"s2"}})
	require.NoError(t, err)
	assert.NotContains(t, f.cache.data, rankingSlot("c1", 1))
	assert.Equal(t, []string{"c1"}, f.cache.dropped)

	ranking, hit, err = f.svc.Ranking(ctx, teacherClaims, "c1", 1)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "Bruno", ranking.Entries[0].FullName)
	// boss task plus the threshold badge it unlocks
	assert.Equal(t, 215, ranking.Entries[0].Points)
	assert.Equal(t, "Explorer", ranking.Entries[0].Tier)
	assert.Equal(t, 2, ranking.Entries[1].Rank)

	_, _, err = f.svc.Ranking(ctx, outsiderClaims, "c1", 1)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))
}

func TestLedgerServiceListTransactionsRequiresScope(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, teacherClaims, GrantRequest{Kind: models.CatalogTask, ItemID: "task-essay", StudentIDs: []string{"s1", "s2"}})
	require.NoError(t, err)

	_, _, err = f.svc.ListTransactions(teacherClaims, models.TransactionFilter{})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	txs, page, err := f.svc.ListTransactions(teacherClaims, models.TransactionFilter{ClassID: "c1"})
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 50, page.PageSize)

	txs, _, err = f.svc.ListTransactions(adminClaims, models.TransactionFilter{StudentID: "s1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	_, _, err = f.svc.ListTransactions(teacherClaims, models.TransactionFilter{ClassID: "c1", Bimester: 9})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}

func TestLedgerServiceProgressAndVerify(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, teacherClaims, GrantRequest{
		Kind:       models.CatalogTask,
		ItemID:     "task-essay",
		StudentIDs: []string{"s1"},
		Overrides:  map[string]int{"s1": 60},
	})
	require.NoError(t, err)

	progress, err := f.svc.Progress(teacherClaims, "s1")
	require.NoError(t, err)
	require.Len(t, progress.Bimesters, 4)
	first := progress.Bimesters[0]
	// 60 from the task plus the badge-60 reward.
	assert.Equal(t, 75, first.Points)
	assert.Equal(t, "Rookie", first.Tier.Title)
	require.NotNil(t, first.Next)
	assert.Equal(t, "Explorer", first.Next.Title)
	assert.Equal(t, 25, first.Next.PointsNeeded)
	assert.Equal(t, 75, progress.Total)

	assert.Empty(t, f.svc.Verify())
}

type fakeDurableLedger struct {
	txs []models.Transaction
	err error
}

func (f *fakeDurableLedger) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	return f.txs, f.err
}

func TestLedgerServiceVerifyDurableReportsDivergence(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, _, err := f.svc.VerifyDurable(ctx)
	assert.Equal(t, appErrors.ErrInternal.Code, errCode(err))

	out, err := f.svc.Grant(ctx, teacherClaims, GrantRequest{Kind: models.CatalogTask, ItemID: "task-essay", StudentIDs: []string{"s1"}})
	require.NoError(t, err)
	stored := out.Results[0].Transaction
	stored.Amount = 30
	f.svc.durable = &fakeDurableLedger{txs: []models.Transaction{stored}}

	f.sync.pending = 1
	_, _, err = f.svc.VerifyDurable(ctx)
	assert.Equal(t, appErrors.ErrSyncPending.Code, errCode(err))

	f.sync.pending = 0
	drifts, read, err := f.svc.VerifyDurable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, read)
	require.Len(t, drifts, 1)
	assert.Equal(t, "s1", drifts[0].StudentID)
	assert.Equal(t, 50, drifts[0].Cached)
	assert.Equal(t, 30, drifts[0].Projected)

	f.svc.durable = &fakeDurableLedger{err: assert.AnError}
	_, _, err = f.svc.VerifyDurable(ctx)
	assert.Equal(t, appErrors.ErrPersistenceFailure.Code, errCode(err))
}
