package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/repository"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/jobs"
)

const (
	ledgerBatchJob     = "ledger_batch"
	recentFailureLimit = 20
)

type ledgerBatchRepository interface {
	ApplyBatch(ctx context.Context, batch models.LedgerBatch) (repository.ApplyResult, error)
	RebuildBalances(ctx context.Context) (int64, error)
}

type stateLoader interface {
	LoadState(ctx context.Context) (models.State, error)
}

// StateConsumer receives a freshly loaded state.
type StateConsumer interface {
	Restore(state models.State)
}

// SyncConfig tunes ledger persistence.
type SyncConfig struct {
	Async          bool
	QueueSize      int
	Retries        int
	RetryDelay     time.Duration
	ReloadInterval time.Duration
}

// SyncService replays committed ledger batches against the database. The in-memory
// view is never rolled back: failures are recorded and exposed through Status.
type SyncService struct {
	repo      ledgerBatchRepository
	loader    stateLoader
	consumers []StateConsumer
	queue     *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       SyncConfig

	applied atomic.Uint64
	failed  atomic.Uint64

	mu           sync.Mutex
	failures     []models.SyncFailure
	lastSyncedAt *time.Time
	lastReloadAt *time.Time
}

// NewSyncService constructs a SyncService. consumers are restored, in order, on Load and Reload.
func NewSyncService(repo ledgerBatchRepository, loader stateLoader, metrics *MetricsService, logger *zap.Logger, cfg SyncConfig, consumers ...StateConsumer) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SyncService{repo: repo, loader: loader, consumers: consumers, metrics: metrics, logger: logger, cfg: cfg}
	if cfg.Async {
		s.queue = jobs.NewQueue("ledger-sync", s.handle, jobs.QueueConfig{
			BufferSize: cfg.QueueSize,
			MaxRetries: cfg.Retries,
			RetryDelay: cfg.RetryDelay,
			Ordered:    true,
			OnFailure:  s.onFailure,
			Logger:     logger,
		})
	}
	return s
}

// Start launches the sync worker and, when configured, the periodic reloader.
func (s *SyncService) Start(ctx context.Context) {
	if s.queue != nil {
		s.queue.Start(ctx)
	}
	if s.cfg.ReloadInterval > 0 {
		go s.runReloader(ctx, s.cfg.ReloadInterval)
	}
}

// Stop drains nothing: pending batches are reported by the worker as failures.
func (s *SyncService) Stop() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// Submit hands a committed batch to the database. In async mode it is queued and
// applied in submission order; otherwise it is applied before returning.
func (s *SyncService) Submit(ctx context.Context, batch models.LedgerBatch) models.SyncOutcome {
	if batch.Empty() {
		return models.SyncSkipped
	}
	if s.queue == nil {
		if err := s.apply(ctx, batch); err != nil {
			s.recordFailure(batch, err)
			return models.SyncFailed
		}
		return models.SyncApplied
	}
	if err := s.queue.Enqueue(jobs.Job{ID: batch.ID, Type: ledgerBatchJob, Payload: batch}); err != nil {
		s.recordFailure(batch, err)
		return models.SyncFailed
	}
	return models.SyncQueued
}

// Pending reports batches accepted but not yet applied.
func (s *SyncService) Pending() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Pending()
}

// Status returns counters and the most recent failures.
func (s *SyncService) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SyncStatus{
		Async:          s.queue != nil,
		Pending:        s.Pending(),
		Applied:        s.applied.Load(),
		Failed:         s.failed.Load(),
		LastSyncedAt:   s.lastSyncedAt,
		LastReloadAt:   s.lastReloadAt,
		RecentFailures: append([]models.SyncFailure{}, s.failures...),
	}
}

// Load reads the durable state and restores every consumer.
func (s *SyncService) Load(ctx context.Context) (models.State, error) {
	start := time.Now()
	state, err := s.loader.LoadState(ctx)
	s.metrics.ObserveDBQuery("load_state", time.Since(start))
	if err != nil {
		return state, err
	}
	for _, c := range s.consumers {
		c.Restore(state)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastReloadAt = &now
	s.mu.Unlock()
	s.logger.Info("state loaded",
		zap.Int("schools", len(state.Schools)),
		zap.Int("classes", len(state.Classes)),
		zap.Int("students", len(state.Students)),
		zap.Int("transactions", len(state.Transactions)))
	return state, nil
}

// Reload replaces the in-memory view with the database content. It refuses while
// batches are pending so queued writes are not lost from the view.
func (s *SyncService) Reload(ctx context.Context) (models.State, error) {
	if pending := s.Pending(); pending > 0 {
		return models.State{}, appErrors.Clone(appErrors.ErrSyncPending, fmt.Sprintf("%d ledger batches are still pending", pending))
	}
	state, err := s.Load(ctx)
	if err != nil {
		return state, appErrors.Wrap(err, appErrors.ErrPersistenceFailure.Code, appErrors.ErrPersistenceFailure.Status, "failed to reload state")
	}
	return state, nil
}

// Repair recomputes the durable balances from the durable transaction log, then reloads
// the in-memory view from the result.
func (s *SyncService) Repair(ctx context.Context) (models.RepairReport, error) {
	if pending := s.Pending(); pending > 0 {
		return models.RepairReport{}, appErrors.Clone(appErrors.ErrSyncPending, fmt.Sprintf("%d ledger batches are still pending", pending))
	}
	start := time.Now()
	rows, err := s.repo.RebuildBalances(ctx)
	s.metrics.ObserveDBQuery("rebuild_balances", time.Since(start))
	if err != nil {
		return models.RepairReport{}, appErrors.Wrap(err, appErrors.ErrPersistenceFailure.Code, appErrors.ErrPersistenceFailure.Status, "failed to rebuild balances")
	}
	s.logger.Warn("durable balances rebuilt from transaction log", zap.Int64("rows", rows))
	state, err := s.Reload(ctx)
	if err != nil {
		return models.RepairReport{BalanceRows: rows}, err
	}
	return models.RepairReport{
		BalanceRows:  rows,
		Students:     len(state.Students),
		Transactions: len(state.Transactions),
		RepairedAt:   time.Now().UTC(),
	}, nil
}

func (s *SyncService) runReloader(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reload(ctx); err != nil {
				s.logger.Info("periodic reload skipped", zap.Error(err))
			}
		}
	}
}

func (s *SyncService) handle(ctx context.Context, job jobs.Job) error {
	batch, ok := job.Payload.(models.LedgerBatch)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	return s.apply(ctx, batch)
}

func (s *SyncService) apply(ctx context.Context, batch models.LedgerBatch) error {
	start := time.Now()
	res, err := s.repo.ApplyBatch(ctx, batch)
	if err != nil {
		s.logger.Warn("ledger batch not applied", zap.String("batch_id", batch.ID), zap.Int("attempts", res.Attempts), zap.Error(err))
		return err
	}
	s.metrics.ObserveSyncBatch(string(models.SyncApplied), time.Since(start))
	s.applied.Add(1)
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastSyncedAt = &now
	s.mu.Unlock()
	s.logger.Debug("ledger batch applied",
		zap.String("batch_id", batch.ID),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped))
	return nil
}

func (s *SyncService) onFailure(job jobs.Job, err error) {
	batch, _ := job.Payload.(models.LedgerBatch)
	if batch.ID == "" {
		batch.ID = job.ID
	}
	s.recordFailure(batch, err)
}

func (s *SyncService) recordFailure(batch models.LedgerBatch, err error) {
	code := appErrors.ErrPersistenceFailure.Code
	if errors.Is(err, repository.ErrConflictRetriesExhausted) {
		code = appErrors.ErrConcurrencyConflict.Code
	}
	s.failed.Add(1)
	s.metrics.ObserveSyncBatch(string(models.SyncFailed), 0)
	s.logger.Error("ledger batch persistence failed",
		zap.String("code", code),
		zap.String("batch_id", batch.ID),
		zap.Int("mutations", len(batch.Mutations)),
		zap.Error(err))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, models.SyncFailure{
		BatchID:   batch.ID,
		Mutations: len(batch.Mutations),
		Code:      code,
		Error:     err.Error(),
		FailedAt:  time.Now().UTC(),
	})
	if len(s.failures) > recentFailureLimit {
		s.failures = s.failures[len(s.failures)-recentFailureLimit:]
	}
}
