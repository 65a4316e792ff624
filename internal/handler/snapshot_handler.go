package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/dto"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/service"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/response"
	"github.com/noah-isme/lxc-ledger-api/pkg/storage"
)

type snapshotService interface {
	Export(ctx context.Context) models.Snapshot
	Import(ctx context.Context, actor *models.JWTClaims, snap models.Snapshot) (*service.ImportReport, error)
	Backup(ctx context.Context) (*service.BackupResult, error)
	Backups() ([]storage.FileInfo, error)
	Link(name string) (*service.BackupResult, error)
	OpenDownload(token string) (*os.File, string, error)
}

// SnapshotHandler exposes full data exports, imports and backups.
type SnapshotHandler struct {
	snapshots snapshotService
	maxUpload int64
}

// NewSnapshotHandler constructs a SnapshotHandler. Import bodies above maxUpload bytes
// are rejected.
func NewSnapshotHandler(snapshots snapshotService, maxUpload int64) *SnapshotHandler {
	if maxUpload <= 0 {
		maxUpload = 20 * 1024 * 1024
	}
	return &SnapshotHandler{snapshots: snapshots, maxUpload: maxUpload}
}

// Export godoc
// @Summary Export every school, class, student, transaction and catalog item
// @Tags Snapshot
// @Produce json
// @Param download query bool false "Serve as an attachment"
// @Success 200 {object} models.Snapshot
// @Router /snapshot [get]
func (h *SnapshotHandler) Export(c *gin.Context) {
	snap := h.snapshots.Export(c.Request.Context())
	if c.Query("download") == "true" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"lxc_snapshot_%s.json\"", snap.ExportedAt.Format("20060102_150405")))
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, snap)
		return
	}
	response.JSON(c, http.StatusOK, snap, nil)
}

// Import godoc
// @Summary Replace all data with a snapshot
// @Description Accepts the snapshot as a JSON body or as a multipart "file" field.
// @Tags Snapshot
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param payload body models.Snapshot false "Snapshot"
// @Param file formData file false "Snapshot file"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /snapshot/import [post]
func (h *SnapshotHandler) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	var body io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
			return
		}
		file, err := header.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
			return
		}
		defer file.Close()
		body = file
	}

	var snap models.Snapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid snapshot document"))
		return
	}
	report, err := h.snapshots.Import(c.Request.Context(), claimsFromContext(c), snap)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Backup godoc
// @Summary Write a snapshot backup
// @Tags Snapshot
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /backups [post]
func (h *SnapshotHandler) Backup(c *gin.Context) {
	result, err := h.snapshots.Backup(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ListBackups godoc
// @Summary List stored backups with fresh download links
// @Tags Snapshot
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /backups [get]
func (h *SnapshotHandler) ListBackups(c *gin.Context) {
	files, err := h.snapshots.Backups()
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.BackupItem, 0, len(files))
	for _, f := range files {
		link, err := h.snapshots.Link(f.Name)
		if err != nil {
			response.Error(c, err)
			return
		}
		items = append(items, dto.BackupItem{FileInfo: f, DownloadURL: link.URL})
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Download godoc
// @Summary Download a backup via signed token
// @Tags Snapshot
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /backups/download/{token} [get]
func (h *SnapshotHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.snapshots.OpenDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read backup"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filepath.Base(name)))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), "application/json", file, nil)
}
