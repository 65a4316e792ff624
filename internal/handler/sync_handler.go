package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/dto"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/pkg/response"
)

type syncService interface {
	Status() models.SyncStatus
	Reload(ctx context.Context) (models.State, error)
	Repair(ctx context.Context) (models.RepairReport, error)
}

// SyncHandler reports on and controls the persistence pipeline.
type SyncHandler struct {
	sync syncService
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(sync syncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Status godoc
// @Summary Persistence pipeline status
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sync/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.sync.Status(), nil)
}

// Reload godoc
// @Summary Reload the in-memory view from the database
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sync/reload [post]
func (h *SyncHandler) Reload(c *gin.Context) {
	state, err := h.sync.Reload(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewReloadResponse(state), nil)
}

// Repair godoc
// @Summary Rebuild database balances from the database transaction log and reload
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sync/repair [post]
func (h *SyncHandler) Repair(c *gin.Context) {
	report, err := h.sync.Repair(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
