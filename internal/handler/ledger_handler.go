package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/dto"
	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/middleware"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/service"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/response"
)

type ledgerService interface {
	Grant(ctx context.Context, actor *models.JWTClaims, req service.GrantRequest) (*service.LedgerOutcome, error)
	RecordCustom(ctx context.Context, actor *models.JWTClaims, req service.CustomGrantRequest) (*service.LedgerOutcome, error)
	EditTransaction(ctx context.Context, actor *models.JWTClaims, id string, req service.EditTransactionRequest) (*service.LedgerOutcome, error)
	RemoveTransaction(ctx context.Context, actor *models.JWTClaims, id string) (*service.LedgerOutcome, error)
	EvaluateUnlocks(ctx context.Context, actor *models.JWTClaims, studentID string, bimester int) (*service.LedgerOutcome, error)
	GetTransaction(actor *models.JWTClaims, id string) (*models.Transaction, error)
	ListTransactions(actor *models.JWTClaims, filter models.TransactionFilter) ([]models.Transaction, *models.Pagination, error)
	Progress(actor *models.JWTClaims, studentID string) (*models.StudentProgress, error)
	Ranking(ctx context.Context, actor *models.JWTClaims, classID string, bimester int) (*models.ClassRanking, bool, error)
	Verify() []ledger.Drift
	VerifyDurable(ctx context.Context) ([]ledger.Drift, int, error)
}

// LedgerHandler exposes grants, transaction history, progress and rankings.
type LedgerHandler struct {
	ledger ledgerService
}

// NewLedgerHandler constructs a LedgerHandler.
func NewLedgerHandler(ledger ledgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// Grant godoc
// @Summary Apply a catalog item to students
// @Tags Ledger
// @Accept json
// @Produce json
// @Param payload body service.GrantRequest true "Grant payload"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /ledger/grants [post]
func (h *LedgerHandler) Grant(c *gin.Context) {
	var req service.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	outcome, err := h.ledger.Grant(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeOutcome(c, http.StatusCreated, outcome)
}

// Custom godoc
// @Summary Record a custom bonus or penalty
// @Tags Ledger
// @Accept json
// @Produce json
// @Param payload body service.CustomGrantRequest true "Transaction payload"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /ledger/custom [post]
func (h *LedgerHandler) Custom(c *gin.Context) {
	var req service.CustomGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	outcome, err := h.ledger.RecordCustom(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeOutcome(c, http.StatusCreated, outcome)
}

// List godoc
// @Summary List transactions
// @Tags Ledger
// @Produce json
// @Param student_id query string false "Student ID"
// @Param class_id query string false "Class ID"
// @Param bimester query int false "Bimester"
// @Param type query string false "Comma separated transaction types"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /transactions [get]
func (h *LedgerHandler) List(c *gin.Context) {
	var query dto.TransactionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	txs, pagination, err := h.ledger.ListTransactions(claimsFromContext(c), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txs, pagination)
}

// Get godoc
// @Summary Get transaction
// @Tags Ledger
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Envelope
// @Router /transactions/{id} [get]
func (h *LedgerHandler) Get(c *gin.Context) {
	tx, err := h.ledger.GetTransaction(claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tx, nil)
}

// Edit godoc
// @Summary Amend a transaction
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param payload body service.EditTransactionRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /transactions/{id} [patch]
func (h *LedgerHandler) Edit(c *gin.Context) {
	var req service.EditTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	outcome, err := h.ledger.EditTransaction(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeOutcome(c, http.StatusOK, outcome)
}

// Remove godoc
// @Summary Remove a transaction
// @Tags Ledger
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /transactions/{id} [delete]
func (h *LedgerHandler) Remove(c *gin.Context) {
	outcome, err := h.ledger.RemoveTransaction(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeOutcome(c, http.StatusOK, outcome)
}

// Progress godoc
// @Summary Student balances and tiers per bimester
// @Tags Ledger
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/progress [get]
func (h *LedgerHandler) Progress(c *gin.Context) {
	progress, err := h.ledger.Progress(claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}

// EvaluateUnlocks godoc
// @Summary Re-run automatic badge unlocks for a student
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.UnlockRequest false "Bimester"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/unlocks [post]
func (h *LedgerHandler) EvaluateUnlocks(c *gin.Context) {
	var req dto.UnlockRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	outcome, err := h.ledger.EvaluateUnlocks(c.Request.Context(), claimsFromContext(c), c.Param("id"), req.Bimester)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeOutcome(c, http.StatusOK, outcome)
}

// Ranking godoc
// @Summary Class ranking for a bimester
// @Tags Ledger
// @Produce json
// @Param id path string true "Class ID"
// @Param bimester query int false "Bimester"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/ranking [get]
func (h *LedgerHandler) Ranking(c *gin.Context) {
	var query dto.RankingQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	ranking, cacheHit, err := h.ledger.Ranking(c.Request.Context(), claimsFromContext(c), c.Param("id"), query.Bimester)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, ranking, nil, middleware.ExtractMeta(c))
}

// Verify godoc
// @Summary Compare cached balances against the transaction log
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sync/verify [get]
func (h *LedgerHandler) Verify(c *gin.Context) {
	drifts := h.ledger.Verify()
	response.JSON(c, http.StatusOK, drifts, nil, map[string]interface{}{
		"consistent":  len(drifts) == 0,
		"drift_count": len(drifts),
	})
}

// VerifyDurable godoc
// @Summary Compare cached balances against the transaction log in the database
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sync/verify/durable [get]
func (h *LedgerHandler) VerifyDurable(c *gin.Context) {
	drifts, read, err := h.ledger.VerifyDurable(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drifts, nil, map[string]interface{}{
		"consistent":           len(drifts) == 0,
		"drift_count":          len(drifts),
		"durable_transactions": read,
	})
}

// writeOutcome answers a ledger write. The local view has always changed by now, so a
// batch still waiting for the database is reported as 202 Accepted.
func writeOutcome(c *gin.Context, status int, outcome *service.LedgerOutcome) {
	middleware.SetSyncOutcome(c, outcome.Sync)
	meta := middleware.ExtractMeta(c)
	if outcome.Sync == models.SyncQueued {
		response.Accepted(c, outcome.Results, meta)
		return
	}
	response.JSON(c, status, outcome.Results, nil, meta)
}
