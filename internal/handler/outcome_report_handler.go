package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/middleware"
	"github.com/noah-isme/clinic-outcomes-api/internal/service"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
	"github.com/noah-isme/clinic-outcomes-api/pkg/response"
)

type outcomeReporter interface {
	CriteriaReport(ctx context.Context, p period.Period, siteName string) (*dto.CriteriaReportResponse, bool, error)
	SiteReport(ctx context.Context, p period.Period, siteName string) (*dto.SiteReportResponse, bool, error)
	ActivityReport(ctx context.Context, q service.ActivityReportQuery) (*dto.ActivityReportResponse, bool, error)
}

// OutcomeReportHandler exposes the outcome and activity report endpoints.
type OutcomeReportHandler struct {
	reports   outcomeReporter
	validator *validator.Validate
	loc       *time.Location
}

// NewOutcomeReportHandler constructs the handler. Date parameters are read in loc.
func NewOutcomeReportHandler(reports outcomeReporter, loc *time.Location) *OutcomeReportHandler {
	if loc == nil {
		loc = time.Local
	}
	return &OutcomeReportHandler{reports: reports, validator: validator.New(), loc: loc}
}

// Outcomes godoc
// @Summary Criteria breakdown across sites
// @Tags Reports
// @Produce json
// @Param month query int true "Month (1-12)"
// @Param year query int true "Year"
// @Param siteName query string false "Restrict to one site"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /reports/outcomes [get]
func (h *OutcomeReportHandler) Outcomes(c *gin.Context) {
	var q dto.CriteriaReportQuery
	if err := h.bindPeriod(c, &q); err != nil {
		response.Error(c, err)
		return
	}
	report, hit, err := h.reports.CriteriaReport(c.Request.Context(), period.Period{Month: q.Month, Year: q.Year}, strings.TrimSpace(q.SiteName))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c, report, report.ReportRunMeta, hit)
}

// SiteOutcomes godoc
// @Summary Criteria breakdown for one site
// @Tags Reports
// @Produce json
// @Param siteName path string true "Site name"
// @Param month query int true "Month (1-12)"
// @Param year query int true "Year"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/outcomes/sites/{siteName} [get]
func (h *OutcomeReportHandler) SiteOutcomes(c *gin.Context) {
	var q dto.PeriodQuery
	if err := h.bindPeriod(c, &q); err != nil {
		response.Error(c, err)
		return
	}
	report, hit, err := h.reports.SiteReport(c.Request.Context(), period.Period{Month: q.Month, Year: q.Year}, strings.TrimSpace(c.Param("siteName")))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c, report, report.ReportRunMeta, hit)
}

// Activity godoc
// @Summary Per-patient activity durations
// @Tags Reports
// @Produce json
// @Param month query int false "Month (1-12)"
// @Param year query int false "Year"
// @Param startDate query string false "Start date YYYY-MM-DD"
// @Param endDate query string false "End date YYYY-MM-DD"
// @Param siteName query string false "Site filter"
// @Param building query string false "Building filter"
// @Param groupBy query string false "patient or site"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports/activity [get]
func (h *OutcomeReportHandler) Activity(c *gin.Context) {
	var q dto.ActivityReportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidPeriod, "month and year must be numeric"))
		return
	}
	if err := h.validator.Struct(q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid activity report query"))
		return
	}
	query, err := h.activityQuery(q)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, hit, err := h.reports.ActivityReport(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c, report, report.ReportRunMeta, hit)
}

func (h *OutcomeReportHandler) activityQuery(q dto.ActivityReportQuery) (service.ActivityReportQuery, error) {
	out := service.ActivityReportQuery{
		SiteName: strings.TrimSpace(q.SiteName),
		Building: strings.TrimSpace(q.Building),
		GroupBy:  q.GroupBy,
	}
	// A date range supersedes month/year when both are sent.
	hasPeriod := q.Month != 0 || q.Year != 0
	hasRange := q.StartDate != "" || q.EndDate != ""
	if hasRange {
		r, err := period.ParseDateRange(q.StartDate, q.EndDate, h.loc)
		if err != nil {
			return out, appErrors.Clone(appErrors.ErrInvalidPeriod, err.Error())
		}
		out.Range = &r
	} else if hasPeriod {
		p := period.Period{Month: q.Month, Year: q.Year}
		out.Period = &p
	}
	return out, nil
}

func (h *OutcomeReportHandler) bindPeriod(c *gin.Context, dest interface{}) error {
	if err := c.ShouldBindQuery(dest); err != nil {
		return appErrors.Clone(appErrors.ErrInvalidPeriod, "month and year must be numeric")
	}
	if err := h.validator.Struct(dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidPeriod.Code, appErrors.ErrInvalidPeriod.Status, "month (1-12) and year (2000-2100) are required")
	}
	return nil
}

func (h *OutcomeReportHandler) respond(c *gin.Context, data interface{}, run dto.ReportRunMeta, hit bool) {
	middleware.SetCacheHit(c, hit)
	middleware.SetMeta(c, "run_id", run.RunID)
	if len(run.FallbackPatients) > 0 {
		middleware.SetMeta(c, "fallback_patients", run.FallbackPatients)
	}
	if run.SkippedRecords > 0 {
		middleware.SetMeta(c, "skipped_records", run.SkippedRecords)
	}
	response.JSON(c, http.StatusOK, data, middleware.ExtractMeta(c))
}
