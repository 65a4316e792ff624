package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/service"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/response"
)

type rosterService interface {
	ListSchools(actor *models.JWTClaims) []models.School
	CreateSchool(ctx context.Context, actor *models.JWTClaims, req service.SchoolRequest) (*models.School, error)
	UpdateSchool(ctx context.Context, actor *models.JWTClaims, id string, req service.SchoolRequest) (*models.School, error)
	DeleteSchool(ctx context.Context, actor *models.JWTClaims, id string) error
	ListClasses(actor *models.JWTClaims, schoolID string) []models.Class
	GetClass(actor *models.JWTClaims, id string) (*models.Class, error)
	CreateClass(ctx context.Context, actor *models.JWTClaims, req service.ClassRequest) (*models.Class, error)
	UpdateClass(ctx context.Context, actor *models.JWTClaims, id string, req service.ClassRequest) (*models.Class, error)
	DeleteClass(ctx context.Context, actor *models.JWTClaims, id string) error
}

// RosterHandler exposes school and class endpoints.
type RosterHandler struct {
	roster rosterService
}

// NewRosterHandler constructs a RosterHandler.
func NewRosterHandler(roster rosterService) *RosterHandler {
	return &RosterHandler{roster: roster}
}

// ListSchools godoc
// @Summary List schools
// @Tags Roster
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /schools [get]
func (h *RosterHandler) ListSchools(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.roster.ListSchools(claimsFromContext(c)), nil)
}

// CreateSchool godoc
// @Summary Create school
// @Tags Roster
// @Accept json
// @Produce json
// @Param payload body service.SchoolRequest true "School payload"
// @Success 201 {object} response.Envelope
// @Router /schools [post]
func (h *RosterHandler) CreateSchool(c *gin.Context) {
	var req service.SchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	school, err := h.roster.CreateSchool(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, school)
}

// UpdateSchool godoc
// @Summary Rename school
// @Tags Roster
// @Accept json
// @Produce json
// @Param id path string true "School ID"
// @Param payload body service.SchoolRequest true "School payload"
// @Success 200 {object} response.Envelope
// @Router /schools/{id} [put]
func (h *RosterHandler) UpdateSchool(c *gin.Context) {
	var req service.SchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	school, err := h.roster.UpdateSchool(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, school, nil)
}

// DeleteSchool godoc
// @Summary Delete an empty school
// @Tags Roster
// @Param id path string true "School ID"
// @Success 204
// @Router /schools/{id} [delete]
func (h *RosterHandler) DeleteSchool(c *gin.Context) {
	if err := h.roster.DeleteSchool(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListClasses godoc
// @Summary List classes
// @Tags Roster
// @Produce json
// @Param school_id query string false "School ID"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *RosterHandler) ListClasses(c *gin.Context) {
	classes := h.roster.ListClasses(claimsFromContext(c), strings.TrimSpace(c.Query("school_id")))
	response.JSON(c, http.StatusOK, classes, nil)
}

// GetClass godoc
// @Summary Get class
// @Tags Roster
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *RosterHandler) GetClass(c *gin.Context) {
	class, err := h.roster.GetClass(claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// CreateClass godoc
// @Summary Create class
// @Tags Roster
// @Accept json
// @Produce json
// @Param payload body service.ClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *RosterHandler) CreateClass(c *gin.Context) {
	var req service.ClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.roster.CreateClass(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// UpdateClass godoc
// @Summary Update class
// @Tags Roster
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.ClassRequest true "Class payload"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [put]
func (h *RosterHandler) UpdateClass(c *gin.Context) {
	var req service.ClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.roster.UpdateClass(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// DeleteClass godoc
// @Summary Delete an empty class
// @Tags Roster
// @Param id path string true "Class ID"
// @Success 204
// @Router /classes/{id} [delete]
func (h *RosterHandler) DeleteClass(c *gin.Context) {
	if err := h.roster.DeleteClass(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
