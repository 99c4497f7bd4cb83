package service

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
	"github.com/noah-isme/clinic-outcomes-api/pkg/storage"
)

type reportSourceStub struct {
	activityQueries []ActivityReportQuery
	err             error
}

func (r *reportSourceStub) CriteriaReport(ctx context.Context, p period.Period, siteName string) (*dto.CriteriaReportResponse, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	tally := models.CriterionTally{}.Record(true).Record(false)
	reports := make([]models.CriteriaReport, 0, models.CriterionCount)
	for _, c := range models.AllCriteria {
		reports = append(reports, models.CriteriaReport{
			CriterionName: c.Key(),
			Label:         c.Label(),
			PerSite:       []models.SiteTally{{SiteName: "Clinic A", CriterionTally: tally}},
			Total:         models.SiteTally{SiteName: models.TotalRowName, CriterionTally: tally},
		})
	}
	return &dto.CriteriaReportResponse{Month: p.Month, Year: p.Year, PatientCount: 2, Criteria: reports}, false, nil
}

func (r *reportSourceStub) SiteReport(ctx context.Context, p period.Period, siteName string) (*dto.SiteReportResponse, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	data := models.SiteReportData{SiteName: siteName, Month: p.Month, Year: p.Year, PatientCount: 1}
	data.SetTally(models.CriterionBPAtGoal, models.CriterionTally{}.Record(true))
	return &dto.SiteReportResponse{SiteReportData: data}, false, nil
}

func (r *reportSourceStub) ActivityReport(ctx context.Context, q ActivityReportQuery) (*dto.ActivityReportResponse, bool, error) {
	r.activityQueries = append(r.activityQueries, q)
	if r.err != nil {
		return nil, false, r.err
	}
	site := models.SitePatientData{
		SiteName:            "Clinic A",
		Patients:            []models.PatientActivityData{{PatientID: "p1", PatientName: "Ana Diaz", SiteName: "Clinic A", TotalMinutes: 90, TotalHours: 1.5, ActivityCount: 2}},
		TotalSiteMinutes:    90,
		TotalSiteHours:      1.5,
		TotalSiteActivities: 2,
	}
	return &dto.ActivityReportResponse{
		GroupBy:    dto.GroupBySite,
		StartDate:  "2025-01-01",
		EndDate:    "2025-01-31",
		Sites:      []models.SitePatientData{site},
		GrandTotal: site.Summary(),
	}, false, nil
}

func newExportServiceForTest(t *testing.T, reports reportSource) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour, Location: time.UTC}
	return NewExportService(reports, store, signer, cfg, zap.NewNop()), store
}

func TestExportServiceGenerateCSV(t *testing.T) {
	svc, store := newExportServiceForTest(t, &reportSourceStub{})
	job := &models.ExportJob{
		ID:     "job-1",
		Type:   models.ExportTypeOutcomes,
		Params: models.ExportJobParams{Format: models.ExportFormatCSV, Month: 3, Year: 2024},
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "outcomes/2024-03_job-1.csv", result.RelativePath)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/export/"))

	content, err := os.ReadFile(store.Path(result.RelativePath))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 1+2*models.CriterionCount)
	assert.Equal(t, "Criterion,Site,Yes,No,Total,Percentage", lines[0])
	assert.Equal(t, "Medical Records Complete,Clinic A,1,1,2,50.00", lines[1])
	assert.Equal(t, "Medical Records Complete,Total,1,1,2,50.00", lines[2])

	jobID, relPath, _, err := svc.ParseToken(result.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, result.RelativePath, relPath)
}

func TestExportServiceGenerateSitePDF(t *testing.T) {
	svc, store := newExportServiceForTest(t, &reportSourceStub{})
	job := &models.ExportJob{
		ID:     "job-2",
		Type:   models.ExportTypeSite,
		Params: models.ExportJobParams{Format: models.ExportFormatPDF, Month: 3, Year: 2024, SiteName: "Clinic A"},
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "site/2024-03_Clinic_A_job-2.pdf", result.RelativePath)
	info, err := os.Stat(store.Path(result.RelativePath))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExportServiceRenderActivityXLSX(t *testing.T) {
	reports := &reportSourceStub{}
	svc, _ := newExportServiceForTest(t, reports)

	payload, renderer, err := svc.Render(context.Background(), models.ExportTypeActivity, models.ExportJobParams{
		Format:    models.ExportFormatXLSX,
		StartDate: "2025-01-01",
		EndDate:   "2025-01-31",
		GroupBy:   dto.GroupBySite,
	})
	require.NoError(t, err)
	assert.Equal(t, "xlsx", renderer.Extension())

	require.Len(t, reports.activityQueries, 1)
	q := reports.activityQueries[0]
	require.NotNil(t, q.Range)
	assert.Nil(t, q.Period)
	assert.Equal(t, 31, q.Range.End.Day())

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, activityHeaders, rows[0])
	assert.Equal(t, "Ana Diaz", rows[1][2])
	assert.Equal(t, "Site total", rows[2][2])
	assert.Equal(t, models.TotalRowName, rows[3][0])
	assert.Equal(t, "1.50 hrs", rows[3][6])
}

func TestExportServicePropagatesReportErrors(t *testing.T) {
	svc, _ := newExportServiceForTest(t, &reportSourceStub{err: appErrors.ErrReportGeneration})

	_, err := svc.Generate(context.Background(), &models.ExportJob{
		ID:     "job-3",
		Type:   models.ExportTypeOutcomes,
		Params: models.ExportJobParams{Format: models.ExportFormatCSV, Month: 3, Year: 2024},
	})
	assert.ErrorIs(t, err, appErrors.ErrReportGeneration)
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc, _ := newExportServiceForTest(t, &reportSourceStub{})
	_, _, err := svc.Render(context.Background(), models.ExportTypeOutcomes, models.ExportJobParams{Format: "docx", Month: 3, Year: 2024})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestActivityQueryFromParams(t *testing.T) {
	q, err := ActivityQueryFromParams(models.ExportJobParams{Month: 2, Year: 2025, SiteName: "Clinic A"}, time.UTC)
	require.NoError(t, err)
	require.NotNil(t, q.Period)
	assert.Equal(t, 2, q.Period.Month)
	assert.Equal(t, "Clinic A", q.SiteName)

	_, err = ActivityQueryFromParams(models.ExportJobParams{StartDate: "2025-13-01", EndDate: "2025-01-31"}, time.UTC)
	assert.ErrorIs(t, err, appErrors.ErrInvalidPeriod)
}

func TestSiteDatasetFollowsCriterionOrder(t *testing.T) {
	data := models.SiteReportData{SiteName: "Clinic A", Month: 3, Year: 2024}
	data.SetTally(models.CriterionUseAntipsychotics, models.CriterionTally{}.Record(true).Record(true).Record(false))

	ds := SiteDataset(&dto.SiteReportResponse{SiteReportData: data})
	require.Len(t, ds.Rows, models.CriterionCount)
	assert.Equal(t, "Clinic A March 2024", ds.Title)
	last := ds.Rows[models.CriterionCount-1]
	assert.Equal(t, "Uses Antipsychotics", last["Criterion"])
	assert.Equal(t, "66.67", last["Percentage"])
}

func TestSanitizeFilenameKeepsWholeRunes(t *testing.T) {
	got := sanitizeFilename(strings.Repeat("Clínica São José ", 6))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 60, utf8.RuneCountInString(got))
	assert.Equal(t, "Clinic_A-North", sanitizeFilename("Clinic A/North"))
	assert.Equal(t, "na", sanitizeFilename(""))
}
