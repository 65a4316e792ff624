package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/middleware"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/service"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
)

var teacher = &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher, FullName: "Ms. Lima"}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, teacher)
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type ledgerServiceMock struct {
	outcome   *service.LedgerOutcome
	err       error
	grantReq  service.GrantRequest
	filter    models.TransactionFilter
	ranking   *models.ClassRanking
	cacheHit  bool
	rankingB  int
	drifts    []ledger.Drift
	editedID  string
	removedID string
	unlockB   int
	durable   []ledger.Drift
	durableN  int
}

func (m *ledgerServiceMock) Grant(ctx context.Context, actor *models.JWTClaims, req service.GrantRequest) (*service.LedgerOutcome, error) {
	m.grantReq = req
	return m.outcome, m.err
}

func (m *ledgerServiceMock) RecordCustom(ctx context.Context, actor *models.JWTClaims, req service.CustomGrantRequest) (*service.LedgerOutcome, error) {
	return m.outcome, m.err
}

func (m *ledgerServiceMock) EditTransaction(ctx context.Context, actor *models.JWTClaims, id string, req service.EditTransactionRequest) (*service.LedgerOutcome, error) {
	m.editedID = id
	return m.outcome, m.err
}

func (m *ledgerServiceMock) RemoveTransaction(ctx context.Context, actor *models.JWTClaims, id string) (*service.LedgerOutcome, error) {
	m.removedID = id
	return m.outcome, m.err
}

func (m *ledgerServiceMock) EvaluateUnlocks(ctx context.Context, actor *models.JWTClaims, studentID string, bimester int) (*service.LedgerOutcome, error) {
	m.unlockB = bimester
	return m.outcome, m.err
}

func (m *ledgerServiceMock) GetTransaction(actor *models.JWTClaims, id string) (*models.Transaction, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Transaction{ID: id, StudentID: "s1", Type: models.TransactionTask, Amount: 50, Bimester: 1}, nil
}

func (m *ledgerServiceMock) ListTransactions(actor *models.JWTClaims, filter models.TransactionFilter) ([]models.Transaction, *models.Pagination, error) {
	m.filter = filter
	if m.err != nil {
		return nil, nil, m.err
	}
	return []models.Transaction{{ID: "tx1"}}, &models.Pagination{Page: 1, PageSize: 50, TotalCount: 1}, nil
}

func (m *ledgerServiceMock) Progress(actor *models.JWTClaims, studentID string) (*models.StudentProgress, error) {
	return &models.StudentProgress{Student: models.Student{ID: studentID}, Total: 75}, m.err
}

func (m *ledgerServiceMock) Ranking(ctx context.Context, actor *models.JWTClaims, classID string, bimester int) (*models.ClassRanking, bool, error) {
	m.rankingB = bimester
	return m.ranking, m.cacheHit, m.err
}

func (m *ledgerServiceMock) Verify() []ledger.Drift {
	return m.drifts
}

func (m *ledgerServiceMock) VerifyDurable(ctx context.Context) ([]ledger.Drift, int, error) {
	return m.durable, m.durableN, m.err
}

func outcomeWith(sync models.SyncOutcome) *service.LedgerOutcome {
	return &service.LedgerOutcome{
		Results: []ledger.Result{{Transaction: models.Transaction{ID: "tx1", StudentID: "s1", Amount: 50}}},
		Sync:    sync,
	}
}

func TestLedgerHandlerGrantQueuedReturnsAccepted(t *testing.T) {
	mock := &ledgerServiceMock{outcome: outcomeWith(models.SyncQueued)}
	h := NewLedgerHandler(mock)

	body, _ := json.Marshal(map[string]interface{}{"kind": "TASK", "item_id": "task-essay", "student_ids": []string{"s1"}, "overrides": map[string]int{"s1": 80}})
	c, w := newGinContext(http.MethodPost, "/ledger/grants", body)
	h.Grant(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, "queued", env.Meta["sync"])
	var results []ledger.Result
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "tx1", results[0].Transaction.ID)
	assert.Equal(t, models.CatalogTask, mock.grantReq.Kind)
	assert.Equal(t, 80, mock.grantReq.Overrides["s1"])
}

func TestLedgerHandlerGrantAppliedReturnsCreated(t *testing.T) {
	h := NewLedgerHandler(&ledgerServiceMock{outcome: outcomeWith(models.SyncApplied)})

	c, w := newGinContext(http.MethodPost, "/ledger/grants", []byte(`{"kind":"TASK","item_id":"x","student_ids":["s1"]}`))
	h.Grant(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "applied", decodeEnvelope(t, w).Meta["sync"])
}

func TestLedgerHandlerGrantInvalidJSON(t *testing.T) {
	h := NewLedgerHandler(&ledgerServiceMock{})

	c, w := newGinContext(http.MethodPost, "/ledger/grants", []byte(`{"kind":`))
	h.Grant(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeEnvelope(t, w).Error.Code)
}

func TestLedgerHandlerCustomPropagatesServiceError(t *testing.T) {
	h := NewLedgerHandler(&ledgerServiceMock{err: appErrors.Clone(appErrors.ErrForbidden, "student s9 belongs to another teacher")})

	c, w := newGinContext(http.MethodPost, "/ledger/custom", []byte(`{"student_ids":["s9"],"amount":5,"description":"Helped"}`))
	h.Custom(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeEnvelope(t, w).Error.Code)
}

func TestLedgerHandlerListParsesFilter(t *testing.T) {
	mock := &ledgerServiceMock{}
	h := NewLedgerHandler(mock)

	c, w := newGinContext(http.MethodGet, "/transactions?class_id=c1&bimester=2&type=task,%20penalty&page=2&page_size=10", nil)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", mock.filter.ClassID)
	assert.Equal(t, 2, mock.filter.Bimester)
	assert.Equal(t, []models.TransactionType{models.TransactionTask, models.TransactionPenalty}, mock.filter.Types)
	assert.Equal(t, 2, mock.filter.Page)
	assert.Equal(t, 10, mock.filter.PageSize)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
}

func TestLedgerHandlerEditAndRemoveUsePathID(t *testing.T) {
	mock := &ledgerServiceMock{outcome: outcomeWith(models.SyncSkipped)}
	h := NewLedgerHandler(mock)

	c, w := newGinContext(http.MethodPatch, "/transactions/tx1", []byte(`{"amount":-5}`))
	c.Params = gin.Params{{Key: "id", Value: "tx1"}}
	h.Edit(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tx1", mock.editedID)

	c, w = newGinContext(http.MethodDelete, "/transactions/tx1", nil)
	c.Params = gin.Params{{Key: "id", Value: "tx1"}}
	h.Remove(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tx1", mock.removedID)
	assert.Equal(t, "skipped", decodeEnvelope(t, w).Meta["sync"])
}

func TestLedgerHandlerEvaluateUnlocksWithoutBody(t *testing.T) {
	mock := &ledgerServiceMock{outcome: outcomeWith(models.SyncApplied)}
	h := NewLedgerHandler(mock)

	c, w := newGinContext(http.MethodPost, "/students/s1/unlocks", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	h.EvaluateUnlocks(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, mock.unlockB)
}

func TestLedgerHandlerRankingReportsCacheHit(t *testing.T) {
	mock := &ledgerServiceMock{
		ranking:  &models.ClassRanking{ClassID: "c1", Bimester: 3, Entries: []models.RankingEntry{{Rank: 1, StudentID: "s1", Points: 90}}},
		cacheHit: true,
	}
	h := NewLedgerHandler(mock)

	c, w := newGinContext(http.MethodGet, "/classes/c1/ranking?bimester=3", nil)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	h.Ranking(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Equal(t, 3, mock.rankingB)
	var ranking models.ClassRanking
	require.NoError(t, json.Unmarshal(env.Data, &ranking))
	assert.Equal(t, 90, ranking.Entries[0].Points)
}

func TestLedgerHandlerRankingRejectsBadBimester(t *testing.T) {
	h := NewLedgerHandler(&ledgerServiceMock{})

	c, w := newGinContext(http.MethodGet, "/classes/c1/ranking?bimester=9", nil)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	h.Ranking(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerHandlerVerify(t *testing.T) {
	h := NewLedgerHandler(&ledgerServiceMock{drifts: []ledger.Drift{{StudentID: "s1", Bimester: 1, Cached: 40, Projected: 60}}})

	c, w := newGinContext(http.MethodGet, "/sync/verify", nil)
	h.Verify(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, false, env.Meta["consistent"])
	assert.Equal(t, float64(1), env.Meta["drift_count"])
}

func TestLedgerHandlerVerifyDurable(t *testing.T) {
	h := NewLedgerHandler(&ledgerServiceMock{durableN: 12})

	c, w := newGinContext(http.MethodGet, "/sync/verify/durable", nil)
	h.VerifyDurable(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, true, env.Meta["consistent"])
	assert.Equal(t, float64(12), env.Meta["durable_transactions"])

	blocked := NewLedgerHandler(&ledgerServiceMock{err: appErrors.Clone(appErrors.ErrSyncPending, "1 ledger batches are still pending")})
	c, w = newGinContext(http.MethodGet, "/sync/verify/durable", nil)
	blocked.VerifyDurable(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrSyncPending.Code, decodeEnvelope(t, w).Error.Code)
}
