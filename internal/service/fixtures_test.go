package service

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

var (
	teacherClaims  = &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher, FullName: "Ms. Lima", Email: "lima@example.com"}
	helperClaims   = &models.JWTClaims{UserID: "t2", Role: models.RoleTeacher, FullName: "Mr. Souza"}
	outsiderClaims = &models.JWTClaims{UserID: "t9", Role: models.RoleTeacher, FullName: "Outsider"}
	adminClaims    = &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin, FullName: "Admin"}
)

// seedStore returns a roster of one school, one class owned by t1 with t2 as
// collaborator, and two students.
func seedStore() *ledger.MemoryStore {
	store := ledger.NewMemoryStore()
	store.Replace(
		[]models.School{{ID: "sc1", Name: "North High", OwnerID: "t1"}},
		[]models.Class{{ID: "c1", SchoolID: "sc1", Name: "7A", OwnerID: "t1", Collaborators: []string{"t2"}}},
		[]models.Student{
			{ID: "s1", SchoolID: "sc1", ClassID: "c1", FullName: "Ana", LXCTotal: models.Balances{}, Badges: []string{}},
			{ID: "s2", SchoolID: "sc1", ClassID: "c1", FullName: "Bruno", LXCTotal: models.Balances{}, Badges: []string{}},
		},
		nil,
	)
	return store
}

func seedCatalog() models.Catalog {
	return models.Catalog{
		Tasks: []models.TaskDefinition{
			{ID: "task-essay", Title: "Essay", Category: models.TaskDaily, Points: 50},
			{ID: "task-boss", Title: "Final Boss", Category: models.TaskBoss, Points: 200},
		},
		Badges: []models.BadgeDefinition{
			{ID: "badge-60", Name: "Sixty Club", RewardValue: 15, AutoUnlockCriteria: &models.UnlockCriteria{Type: models.UnlockByLXC, Threshold: 60}},
			{ID: "badge-b4", Name: "Finisher", RewardValue: 20, Bimesters: []int{4}},
		},
		Penalties: []models.PenaltyDefinition{
			{ID: "pen-late", Title: "Late", Points: -10},
		},
	}
}

type fakeCatalogRepo struct {
	saved   []models.CatalogItem
	deleted []string
	err     error
}

func (f *fakeCatalogRepo) Save(ctx context.Context, item models.CatalogItem) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, item)
	return nil
}

func (f *fakeCatalogRepo) Delete(ctx context.Context, kind models.CatalogKind, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, string(kind)+":"+id)
	return nil
}

type fakeLevelRepo struct {
	replaced map[int]models.Ladder
	deleted  []int
	err      error
}

func (f *fakeLevelRepo) Replace(ctx context.Context, bimester int, rules models.Ladder) error {
	if f.err != nil {
		return f.err
	}
	if f.replaced == nil {
		f.replaced = make(map[int]models.Ladder)
	}
	f.replaced[bimester] = rules
	return nil
}

func (f *fakeLevelRepo) Delete(ctx context.Context, bimester int) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, bimester)
	return nil
}

type fakeSubmitter struct {
	mu      sync.Mutex
	batches []models.LedgerBatch
	outcome models.SyncOutcome
	pending int
}

func (f *fakeSubmitter) Submit(ctx context.Context, batch models.LedgerBatch) models.SyncOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	if f.outcome == "" {
		return models.SyncQueued
	}
	return f.outcome
}

func (f *fakeSubmitter) Pending() int {
	return f.pending
}

type fakeRankingStore struct {
	mu         sync.Mutex
	data       map[string]models.ClassRanking
	dropped    []string
	droppedAll int
	err        error
}

func newFakeRankingStore() *fakeRankingStore {
	return &fakeRankingStore{data: make(map[string]models.ClassRanking)}
}

func rankingSlot(classID string, bimester int) string {
	return classID + "/" + strconv.Itoa(bimester)
}

func (f *fakeRankingStore) Get(ctx context.Context, classID string, bimester int, dest *models.ClassRanking) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	ranking, ok := f.data[rankingSlot(classID, bimester)]
	if ok {
		*dest = ranking
	}
	return ok, nil
}

func (f *fakeRankingStore) Put(ctx context.Context, ranking *models.ClassRanking, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[rankingSlot(ranking.ClassID, ranking.Bimester)] = *ranking
	return nil
}

func (f *fakeRankingStore) DropClasses(ctx context.Context, classIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, classIDs...)
	for _, id := range classIDs {
		for slot := range f.data {
			if strings.HasPrefix(slot, id+"/") {
				delete(f.data, slot)
			}
		}
	}
	return nil
}

func (f *fakeRankingStore) DropAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.droppedAll++
	f.data = make(map[string]models.ClassRanking)
	return nil
}

type ledgerFixture struct {
	store   *ledger.MemoryStore
	catalog *CatalogService
	levels  *LevelService
	sync    *fakeSubmitter
	cache   *fakeRankingStore
	metrics *MetricsService
	svc     *LedgerService
}

func newLedgerFixture() *ledgerFixture {
	store := seedStore()
	catalog := NewCatalogService(&fakeCatalogRepo{}, nil, nil)
	catalog.Restore(models.State{Catalog: seedCatalog()})
	metrics := NewMetricsService()
	levels := NewLevelService(&fakeLevelRepo{}, nil, metrics, nil)
	submitter := &fakeSubmitter{}
	rankingStore := newFakeRankingStore()
	svc := NewLedgerService(LedgerServiceConfig{
		Ledger:          ledger.New(store, catalog, ledger.Options{SystemActor: "system"}),
		Store:           store,
		Catalog:         catalog,
		Levels:          levels,
		Sync:            submitter,
		Rankings:        NewRankingCache(rankingStore, metrics, time.Minute, nil, true),
		Metrics:         metrics,
		DefaultBimester: 1,
	})
	return &ledgerFixture{store: store, catalog: catalog, levels: levels, sync: submitter, cache: rankingStore, metrics: metrics, svc: svc}
}

func errCode(err error) string {
	if err == nil {
		return ""
	}
	return appErrors.FromError(err).Code
}
