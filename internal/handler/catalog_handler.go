package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/response"
)

type catalogService interface {
	Catalog() models.Catalog
	Get(kind models.CatalogKind, id string) (models.CatalogItem, error)
	Save(ctx context.Context, entry models.CatalogEntry) (models.CatalogEntry, error)
	Delete(ctx context.Context, kind models.CatalogKind, id string) error
}

// CatalogHandler exposes task, badge and penalty templates.
type CatalogHandler struct {
	catalog catalogService
}

// NewCatalogHandler constructs a CatalogHandler.
func NewCatalogHandler(catalog catalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// List godoc
// @Summary Full catalog
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog [get]
func (h *CatalogHandler) List(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.catalog.Catalog(), nil)
}

// Get godoc
// @Summary Get catalog item
// @Tags Catalog
// @Produce json
// @Param kind path string true "TASK, BADGE or PENALTY"
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Router /catalog/{kind}/{id} [get]
func (h *CatalogHandler) Get(c *gin.Context) {
	item, err := h.catalog.Get(catalogKind(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.NewCatalogEntry(item), nil)
}

// Save godoc
// @Summary Create or update a catalog item
// @Description Points outside the category range are clamped.
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body models.CatalogEntry true "Tagged catalog item"
// @Success 200 {object} response.Envelope
// @Router /catalog [put]
func (h *CatalogHandler) Save(c *gin.Context) {
	var entry models.CatalogEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry.Kind = models.CatalogKind(strings.ToUpper(string(entry.Kind)))
	saved, err := h.catalog.Save(c.Request.Context(), entry)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, saved, nil)
}

// Delete godoc
// @Summary Delete a catalog item
// @Tags Catalog
// @Param kind path string true "TASK, BADGE or PENALTY"
// @Param id path string true "Item ID"
// @Success 204
// @Router /catalog/{kind}/{id} [delete]
func (h *CatalogHandler) Delete(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), catalogKind(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func catalogKind(c *gin.Context) models.CatalogKind {
	return models.CatalogKind(strings.ToUpper(c.Param("kind")))
}
