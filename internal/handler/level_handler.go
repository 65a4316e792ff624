package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/response"
)

type levelService interface {
	Ladder(bimester int) (models.Ladder, bool)
	Set(ctx context.Context, bimester int, rules models.Ladder) (models.Ladder, error)
	Reset(ctx context.Context, bimester int) error
	Progress(bimester, points int) models.TierProgress
}

// LevelHandler exposes tier ladders.
type LevelHandler struct {
	levels levelService
}

// NewLevelHandler constructs a LevelHandler.
func NewLevelHandler(levels levelService) *LevelHandler {
	return &LevelHandler{levels: levels}
}

// Get godoc
// @Summary Tier ladder of a bimester
// @Tags Levels
// @Produce json
// @Param bimester path int true "Bimester"
// @Success 200 {object} response.Envelope
// @Router /levels/{bimester} [get]
func (h *LevelHandler) Get(c *gin.Context) {
	bimester, ok := bimesterParam(c)
	if !ok {
		return
	}
	ladder, custom := h.levels.Ladder(bimester)
	response.JSON(c, http.StatusOK, ladder, nil, map[string]interface{}{"custom": custom})
}

// Tier godoc
// @Summary Resolve the tier for a point total
// @Tags Levels
// @Produce json
// @Param bimester path int true "Bimester"
// @Param points query int true "Points"
// @Success 200 {object} response.Envelope
// @Router /levels/{bimester}/tier [get]
func (h *LevelHandler) Tier(c *gin.Context) {
	bimester, ok := bimesterParam(c)
	if !ok {
		return
	}
	points, err := strconv.Atoi(c.Query("points"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "points must be an integer"))
		return
	}
	response.JSON(c, http.StatusOK, h.levels.Progress(bimester, points), nil)
}

// Set godoc
// @Summary Replace the tier ladder of a bimester
// @Tags Levels
// @Accept json
// @Produce json
// @Param bimester path int true "Bimester"
// @Param payload body models.Ladder true "Tiers"
// @Success 200 {object} response.Envelope
// @Router /levels/{bimester} [put]
func (h *LevelHandler) Set(c *gin.Context) {
	bimester, ok := bimesterParam(c)
	if !ok {
		return
	}
	var rules models.Ladder
	if err := c.ShouldBindJSON(&rules); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	ladder, err := h.levels.Set(c.Request.Context(), bimester, rules)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ladder, nil, map[string]interface{}{"custom": true})
}

// Reset godoc
// @Summary Restore the default ladder of a bimester
// @Tags Levels
// @Param bimester path int true "Bimester"
// @Success 204
// @Router /levels/{bimester} [delete]
func (h *LevelHandler) Reset(c *gin.Context) {
	bimester, ok := bimesterParam(c)
	if !ok {
		return
	}
	if err := h.levels.Reset(c.Request.Context(), bimester); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func bimesterParam(c *gin.Context) (int, bool) {
	bimester, err := strconv.Atoi(c.Param("bimester"))
	if err != nil || !models.ValidBimester(bimester) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "bimester must be between 1 and 4"))
		return 0, false
	}
	return bimester, true
}
