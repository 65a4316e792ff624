package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/repository"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

type fakeBatchRepo struct {
	mu         sync.Mutex
	applied    []string
	failN      int
	err        error
	rebuilt    int
	rebuildErr error
	block      chan struct{}
}

func (f *fakeBatchRepo) ApplyBatch(ctx context.Context, batch models.LedgerBatch) (repository.ApplyResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return repository.ApplyResult{Attempts: 1}, errors.New("connection reset")
	}
	if f.err != nil {
		return repository.ApplyResult{Attempts: 1}, f.err
	}
	f.applied = append(f.applied, batch.ID)
	return repository.ApplyResult{Applied: len(batch.Mutations), Attempts: 1}, nil
}

func (f *fakeBatchRepo) RebuildBalances(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rebuildErr != nil {
		return 0, f.rebuildErr
	}
	f.rebuilt++
	return 3, nil
}

func (f *fakeBatchRepo) appliedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

type fakeStateLoader struct {
	state models.State
	err   error
	calls int
}

func (f *fakeStateLoader) LoadState(ctx context.Context) (models.State, error) {
	f.calls++
	return f.state, f.err
}

type recordingConsumer struct {
	restored []models.State
}

func (r *recordingConsumer) Restore(state models.State) {
	r.restored = append(r.restored, state)
}

func batchOf(id string) models.LedgerBatch {
	return models.LedgerBatch{ID: id, Mutations: []models.LedgerMutation{
		{Kind: models.MutationAppend, Transaction: models.Transaction{ID: id + "-tx", StudentID: "s1", Type: models.TransactionTask, Amount: 10, Bimester: 1}},
	}}
}

func TestSyncServiceSynchronousSubmit(t *testing.T) {
	repo := &fakeBatchRepo{}
	svc := NewSyncService(repo, &fakeStateLoader{}, nil, nil, SyncConfig{})

	assert.Equal(t, models.SyncApplied, svc.Submit(context.Background(), batchOf("b1")))
	assert.Equal(t, models.SyncSkipped, svc.Submit(context.Background(), models.LedgerBatch{ID: "empty"}))

	repo.err = errors.New("db down")
	assert.Equal(t, models.SyncFailed, svc.Submit(context.Background(), batchOf("b2")))

	status := svc.Status()
	assert.False(t, status.Async)
	assert.Equal(t, uint64(1), status.Applied)
	assert.Equal(t, uint64(1), status.Failed)
	require.Len(t, status.RecentFailures, 1)
	assert.Equal(t, "b2", status.RecentFailures[0].BatchID)
	assert.Equal(t, appErrors.ErrPersistenceFailure.Code, status.RecentFailures[0].Code)
	assert.NotNil(t, status.LastSyncedAt)
}

func TestSyncServiceReportsExhaustedConflictRetries(t *testing.T) {
	repo := &fakeBatchRepo{err: fmt.Errorf("%w: serialization failure", repository.ErrConflictRetriesExhausted)}
	svc := NewSyncService(repo, &fakeStateLoader{}, nil, nil, SyncConfig{})

	assert.Equal(t, models.SyncFailed, svc.Submit(context.Background(), batchOf("b1")))

	failures := svc.Status().RecentFailures
	require.Len(t, failures, 1)
	assert.Equal(t, appErrors.ErrConcurrencyConflict.Code, failures[0].Code)
}

func TestSyncServiceAsyncAppliesInOrderWithRetries(t *testing.T) {
	repo := &fakeBatchRepo{failN: 1}
	svc := NewSyncService(repo, &fakeStateLoader{}, NewMetricsService(), nil, SyncConfig{
		Async:      true,
		QueueSize:  8,
		Retries:    3,
		RetryDelay: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	for _, id := range []string{"b1", "b2", "b3"} {
		assert.Equal(t, models.SyncQueued, svc.Submit(ctx, batchOf(id)))
	}

	require.Eventually(t, func() bool { return len(repo.appliedIDs()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b1", "b2", "b3"}, repo.appliedIDs())
	require.Eventually(t, func() bool { return svc.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), svc.Status().Failed)
}

func TestSyncServiceLoadRestoresConsumers(t *testing.T) {
	loader := &fakeStateLoader{state: models.State{Students: []models.Student{{ID: "s1"}}}}
	first, second := &recordingConsumer{}, &recordingConsumer{}
	svc := NewSyncService(&fakeBatchRepo{}, loader, nil, nil, SyncConfig{}, first, second)

	state, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.Students, 1)
	assert.Len(t, first.restored, 1)
	assert.Len(t, second.restored, 1)
	assert.NotNil(t, svc.Status().LastReloadAt)

	loader.err = errors.New("db down")
	_, err = svc.Reload(context.Background())
	assert.Equal(t, appErrors.ErrPersistenceFailure.Code, errCode(err))
	assert.Len(t, first.restored, 1)
}

func TestSyncServiceRepairRebuildsThenReloads(t *testing.T) {
	repo := &fakeBatchRepo{}
	loader := &fakeStateLoader{state: models.State{
		Students:     []models.Student{{ID: "s1"}},
		Transactions: []models.Transaction{{ID: "t1"}, {ID: "t2"}},
	}}
	consumer := &recordingConsumer{}
	svc := NewSyncService(repo, loader, NewMetricsService(), nil, SyncConfig{}, consumer)

	report, err := svc.Repair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.BalanceRows)
	assert.Equal(t, 1, report.Students)
	assert.Equal(t, 2, report.Transactions)
	assert.Equal(t, 1, repo.rebuilt)
	assert.Equal(t, 1, loader.calls)
	assert.Len(t, consumer.restored, 1)
}

func TestSyncServiceRepairStopsWhenRebuildFails(t *testing.T) {
	repo := &fakeBatchRepo{rebuildErr: errors.New("db down")}
	loader := &fakeStateLoader{}
	svc := NewSyncService(repo, loader, nil, nil, SyncConfig{})

	_, err := svc.Repair(context.Background())
	assert.Equal(t, appErrors.ErrPersistenceFailure.Code, errCode(err))
	assert.Zero(t, loader.calls)
}

func TestSyncServiceRepairRefusedWhilePending(t *testing.T) {
	repo := &fakeBatchRepo{block: make(chan struct{})}
	svc := NewSyncService(repo, &fakeStateLoader{}, nil, nil, SyncConfig{Async: true, QueueSize: 4, RetryDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()
	defer close(repo.block)

	assert.Equal(t, models.SyncQueued, svc.Submit(ctx, batchOf("b1")))

	_, err := svc.Repair(ctx)
	assert.Equal(t, appErrors.ErrSyncPending.Code, errCode(err))
	assert.Zero(t, repo.rebuilt)
}
