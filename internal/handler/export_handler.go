package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/dto"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/service"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/response"
)

type exportService interface {
	TransactionsCSV(actor *models.JWTClaims, filter models.TransactionFilter) (*service.ExportFile, error)
	StudentStatement(actor *models.JWTClaims, studentID string) (*service.ExportFile, error)
}

// ExportHandler streams CSV and PDF documents.
type ExportHandler struct {
	exports exportService
}

// NewExportHandler constructs an ExportHandler.
func NewExportHandler(exports exportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// TransactionsCSV godoc
// @Summary Export transactions as CSV
// @Tags Exports
// @Produce text/csv
// @Param student_id query string false "Student ID"
// @Param class_id query string false "Class ID"
// @Param bimester query int false "Bimester"
// @Param type query string false "Comma separated transaction types"
// @Success 200 {file} binary
// @Router /exports/transactions.csv [get]
func (h *ExportHandler) TransactionsCSV(c *gin.Context) {
	var query dto.TransactionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	file, err := h.exports.TransactionsCSV(claimsFromContext(c), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

// StudentStatement godoc
// @Summary Export a student's statement as PDF
// @Tags Exports
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Success 200 {file} binary
// @Router /students/{id}/statement.pdf [get]
func (h *ExportHandler) StudentStatement(c *gin.Context) {
	file, err := h.exports.StudentStatement(claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

func sendFile(c *gin.Context, file *service.ExportFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
