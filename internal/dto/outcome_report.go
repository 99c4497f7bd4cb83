package dto

import (
	"time"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
)

// Activity report grouping modes.
const (
	GroupByPatient = "patient"
	GroupBySite    = "site"
)

// PeriodQuery binds month/year query parameters.
type PeriodQuery struct {
	Month int `form:"month" validate:"required,min=1,max=12"`
	Year  int `form:"year" validate:"required,min=2000,max=2100"`
}

// CriteriaReportQuery binds GET /reports/outcomes.
type CriteriaReportQuery struct {
	PeriodQuery
	SiteName string `form:"siteName"`
}

// ActivityReportQuery binds GET /reports/activity. Either month/year or startDate/endDate is required.
type ActivityReportQuery struct {
	Month     int    `form:"month" validate:"omitempty,min=1,max=12"`
	Year      int    `form:"year" validate:"omitempty,min=2000,max=2100"`
	StartDate string `form:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"endDate" validate:"omitempty,datetime=2006-01-02"`
	SiteName  string `form:"siteName"`
	Building  string `form:"building"`
	GroupBy   string `form:"groupBy" validate:"omitempty,oneof=site patient"`
}

// ReportRunMeta describes a single report generation.
type ReportRunMeta struct {
	RunID            string    `json:"runId"`
	GeneratedAt      time.Time `json:"generatedAt"`
	FallbackPatients []string  `json:"fallbackPatients,omitempty"`
	SkippedRecords   int       `json:"skippedRecords"`
}

// CriteriaReportResponse is the all-sites criteria breakdown.
type CriteriaReportResponse struct {
	Month              int                     `json:"month"`
	Year               int                     `json:"year"`
	SiteName           string                  `json:"siteName,omitempty"`
	PatientCount       int                     `json:"patientCount"`
	UnassignedPatients int                     `json:"unassignedPatients"`
	Criteria           []models.CriteriaReport `json:"criteria"`
	ReportRunMeta
}

// SiteReportResponse wraps the single-site breakdown.
type SiteReportResponse struct {
	models.SiteReportData
	ReportRunMeta
}

// ActivityReportResponse is the activity-duration rollup. Exactly one of Patients or Sites is set.
type ActivityReportResponse struct {
	Month      int                          `json:"month,omitempty"`
	Year       int                          `json:"year,omitempty"`
	StartDate  string                       `json:"startDate,omitempty"`
	EndDate    string                       `json:"endDate,omitempty"`
	SiteName   string                       `json:"siteName,omitempty"`
	Building   string                       `json:"building,omitempty"`
	GroupBy    string                       `json:"groupBy"`
	Patients   []models.PatientActivityData `json:"patients,omitempty"`
	Sites      []models.SitePatientData     `json:"sites,omitempty"`
	GrandTotal models.DurationSummary       `json:"grandTotal"`
	Duration   string                       `json:"duration"`
	ReportRunMeta
}

// ExportRequest captures POST /reports/exports payload.
type ExportRequest struct {
	Type      models.ExportType   `json:"type" validate:"required,oneof=outcomes site activity"`
	Format    models.ExportFormat `json:"format" validate:"required,oneof=csv pdf xlsx"`
	Month     int                 `json:"month" validate:"omitempty,min=1,max=12"`
	Year      int                 `json:"year" validate:"omitempty,min=2000,max=2100"`
	SiteName  string              `json:"siteName,omitempty"`
	Building  string              `json:"building,omitempty"`
	StartDate string              `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string              `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	GroupBy   string              `json:"groupBy,omitempty" validate:"omitempty,oneof=site patient"`
}

// ExportJobResponse is returned after enqueueing an export.
type ExportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ExportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ExportStatusResponse exposes job progress metadata.
type ExportStatusResponse struct {
	ID        string              `json:"id"`
	Type      models.ExportType   `json:"type"`
	Status    models.ExportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
