package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/fix-delete-modules/internal/dto"
	"github.com/noah-isme/fix-delete-modules/internal/middleware"
	"github.com/noah-isme/fix-delete-modules/internal/models"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
	"github.com/noah-isme/fix-delete-modules/pkg/export"
	"github.com/noah-isme/fix-delete-modules/pkg/response"
)

type deletionReportService interface {
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.DeletionJob, error)
	Check(ctx context.Context, filter models.JobFilter) (*models.Report, error)
	SubmitRun(ctx context.Context, filter models.JobFilter, requestedBy string) (*models.RepairRun, error)
	GetRun(ctx context.Context, id string) (*models.RepairRun, error)
}

// DeletionHandler exposes the stuck deletion task directory, diagnoses and repair runs.
type DeletionHandler struct {
	service      deletionReportService
	validate     *validator.Validate
	defaultDelay time.Duration
}

// NewDeletionHandler constructs the handler. defaultDelay applies when a request names no fail delay.
func NewDeletionHandler(service deletionReportService, validate *validator.Validate, defaultDelay time.Duration) *DeletionHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &DeletionHandler{service: service, validate: validate, defaultDelay: defaultDelay}
}

// ListJobs godoc
// @Summary List queued module deletion tasks
// @Tags Deletion
// @Produce json
// @Param min_fail_delay query string false "Minimum fail delay (seconds or Go duration)"
// @Param task query []int false "Task ids"
// @Param cmid query []int false "Course module ids"
// @Param course query []int false "Course ids"
// @Param modname query []string false "Module names"
// @Success 200 {object} response.Envelope
// @Router /deletion-jobs [get]
func (h *DeletionHandler) ListJobs(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}
	jobs, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	summaries := make([]dto.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, dto.NewJobSummary(job))
	}
	middleware.SetMeta(c, "count", len(summaries))
	response.JSON(c, http.StatusOK, summaries, middleware.ExtractMeta(c))
}

// Diagnoses godoc
// @Summary Diagnose queued module deletion tasks without changing anything
// @Tags Deletion
// @Produce json,text/csv
// @Param format query string false "json (default) or csv"
// @Success 200 {object} response.Envelope
// @Router /diagnoses [get]
func (h *DeletionHandler) Diagnoses(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}
	report, err := h.service.Check(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	if strings.EqualFold(c.Query("format"), "csv") {
		raw, err := export.NewCSVExporter().Render(dto.ReportDataset(report))
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv"))
			return
		}
		c.Header("Content-Disposition", `attachment; filename="diagnoses.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", raw)
		return
	}
	middleware.SetMeta(c, "count", len(report.Jobs))
	response.JSON(c, http.StatusOK, dto.NewReportView(report), middleware.ExtractMeta(c))
}

// CreateRepair godoc
// @Summary Queue a repair run over the matching deletion tasks
// @Tags Deletion
// @Accept json
// @Produce json
// @Param payload body dto.RepairRequest true "Repair filter"
// @Success 202 {object} response.Envelope
// @Router /repairs [post]
func (h *DeletionHandler) CreateRepair(c *gin.Context) {
	var req dto.RepairRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	filter, err := req.ToFilter(h.defaultDelay)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	requestedBy := ""
	if claims := middleware.Claims(c); claims != nil {
		requestedBy = claims.Subject
	}
	run, err := h.service.SubmitRun(c.Request.Context(), filter, requestedBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.NewRepairRunResponse(run))
}

// GetRepair godoc
// @Summary Repair run status and report
// @Tags Deletion
// @Produce json
// @Param id path string true "Repair run ID"
// @Success 200 {object} response.Envelope
// @Router /repairs/{id} [get]
func (h *DeletionHandler) GetRepair(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "id is required"))
		return
	}
	run, err := h.service.GetRun(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewRepairRunResponse(run))
}

func (h *DeletionHandler) bindFilter(c *gin.Context) (models.JobFilter, bool) {
	var query dto.JobQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return models.JobFilter{}, false
	}
	if err := h.validate.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return models.JobFilter{}, false
	}
	filter, err := query.ToFilter(h.defaultDelay)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return models.JobFilter{}, false
	}
	return filter, true
}
