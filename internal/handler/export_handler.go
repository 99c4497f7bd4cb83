package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	"github.com/noah-isme/clinic-outcomes-api/internal/service"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
	"github.com/noah-isme/clinic-outcomes-api/pkg/response"
)

type exportJobs interface {
	CreateJob(ctx context.Context, req dto.ExportRequest, actorID string) (*dto.ExportJobResponse, error)
	GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ExportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// ExportHandler exposes asynchronous report export endpoints.
type ExportHandler struct {
	jobs      exportJobs
	validator *validator.Validate
}

// NewExportHandler constructs the handler.
func NewExportHandler(jobs exportJobs) *ExportHandler {
	return &ExportHandler{jobs: jobs, validator: validator.New()}
}

// CreateExport godoc
// @Summary Queue a report export
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Export request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports/exports [post]
func (h *ExportHandler) CreateExport(c *gin.Context) {
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload"))
		return
	}
	actorID, _ := actorFromContext(c)
	job, err := h.jobs.CreateJob(c.Request.Context(), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// ExportStatus godoc
// @Summary Export job status
// @Tags Exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/exports/{id} [get]
func (h *ExportHandler) ExportStatus(c *gin.Context) {
	actorID, role := actorFromContext(c)
	status, err := h.jobs.GetStatus(c.Request.Context(), c.Param("id"), actorID, role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

// Download godoc
// @Summary Download a finished export via signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /export/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	download, err := h.jobs.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Body.Close() //nolint:errcheck
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, download.Size, download.ContentType, download.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.Filename),
	})
}
