package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	"github.com/noah-isme/clinic-outcomes-api/internal/service"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
)

type outcomeReporterMock struct {
	lastPeriod   period.Period
	lastSite     string
	lastActivity service.ActivityReportQuery
	hit          bool
	err          error
}

func (m *outcomeReporterMock) CriteriaReport(ctx context.Context, p period.Period, siteName string) (*dto.CriteriaReportResponse, bool, error) {
	m.lastPeriod, m.lastSite = p, siteName
	if m.err != nil {
		return nil, false, m.err
	}
	return &dto.CriteriaReportResponse{
		Month:         p.Month,
		Year:          p.Year,
		PatientCount:  2,
		Criteria:      []models.CriteriaReport{{CriterionName: "bpAtGoal", Label: "BP at Goal"}},
		ReportRunMeta: dto.ReportRunMeta{RunID: "run-1", FallbackPatients: []string{"p2"}},
	}, m.hit, nil
}

func (m *outcomeReporterMock) SiteReport(ctx context.Context, p period.Period, siteName string) (*dto.SiteReportResponse, bool, error) {
	m.lastPeriod, m.lastSite = p, siteName
	if m.err != nil {
		return nil, false, m.err
	}
	return &dto.SiteReportResponse{SiteReportData: models.SiteReportData{SiteName: siteName, Month: p.Month, Year: p.Year}}, m.hit, nil
}

func (m *outcomeReporterMock) ActivityReport(ctx context.Context, q service.ActivityReportQuery) (*dto.ActivityReportResponse, bool, error) {
	m.lastActivity = q
	if m.err != nil {
		return nil, false, m.err
	}
	return &dto.ActivityReportResponse{GroupBy: dto.GroupByPatient, Duration: "45.00 min"}, m.hit, nil
}

func TestOutcomesHandlerSuccess(t *testing.T) {
	mock := &outcomeReporterMock{hit: true}
	h := NewOutcomeReportHandler(mock, time.UTC)

	c, w := newGinContext(http.MethodGet, "/reports/outcomes?month=3&year=2024&siteName=%20Clinic%20A%20", nil)
	h.Outcomes(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, period.Period{Month: 3, Year: 2024}, mock.lastPeriod)
	assert.Equal(t, "Clinic A", mock.lastSite)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	env := decodeEnvelope(t, w)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Equal(t, "run-1", env.Meta["run_id"])
	assert.Equal(t, []interface{}{"p2"}, env.Meta["fallback_patients"])

	var body dto.CriteriaReportResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, 2, body.PatientCount)
	require.Len(t, body.Criteria, 1)
}

func TestOutcomesHandlerInvalidPeriod(t *testing.T) {
	h := NewOutcomeReportHandler(&outcomeReporterMock{}, time.UTC)
	for _, query := range []string{"", "month=13&year=2024", "month=3", "month=abc&year=2024", "month=3&year=1999"} {
		c, w := newGinContext(http.MethodGet, "/reports/outcomes?"+query, nil)
		h.Outcomes(c)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, "INVALID_PERIOD", decodeEnvelope(t, w).Error.Code, query)
	}
}

func TestOutcomesHandlerGenerationFailureIsRetryable(t *testing.T) {
	mock := &outcomeReporterMock{err: appErrors.Wrap(context.DeadlineExceeded, appErrors.ErrReportGeneration.Code, appErrors.ErrReportGeneration.Status, appErrors.ErrReportGeneration.Message)}
	h := NewOutcomeReportHandler(mock, time.UTC)

	c, w := newGinContext(http.MethodGet, "/reports/outcomes?month=3&year=2024", nil)
	h.Outcomes(c)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, "failed to generate report", env.Error.Message)
	assert.Equal(t, true, env.Meta["retryable"])
}

func TestSiteOutcomesHandler(t *testing.T) {
	mock := &outcomeReporterMock{}
	h := NewOutcomeReportHandler(mock, time.UTC)

	c, w := newGinContext(http.MethodGet, "/reports/outcomes/sites/Clinic%20B?month=1&year=2025", nil)
	c.AddParam("siteName", "Clinic B")
	h.SiteOutcomes(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Clinic B", mock.lastSite)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	mock.err = appErrors.Clone(appErrors.ErrNotFound, "site not found")
	c, w = newGinContext(http.MethodGet, "/reports/outcomes/sites/Nowhere?month=1&year=2025", nil)
	c.AddParam("siteName", "Nowhere")
	h.SiteOutcomes(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActivityHandlerQueries(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	mock := &outcomeReporterMock{}
	h := NewOutcomeReportHandler(mock, loc)

	q := url.Values{"startDate": {"2025-01-01"}, "endDate": {"2025-01-31"}, "building": {"North"}, "groupBy": {"site"}}
	c, w := newGinContext(http.MethodGet, "/reports/activity?"+q.Encode(), nil)
	h.Activity(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.lastActivity.Range)
	assert.Nil(t, mock.lastActivity.Period)
	assert.Equal(t, time.Date(2025, 1, 31, 23, 59, 59, int(999*time.Millisecond), loc), mock.lastActivity.Range.End)
	assert.Equal(t, "North", mock.lastActivity.Building)
	assert.Equal(t, dto.GroupBySite, mock.lastActivity.GroupBy)

	c, w = newGinContext(http.MethodGet, "/reports/activity?month=2&year=2025", nil)
	h.Activity(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.lastActivity.Period)
	assert.Equal(t, 2, mock.lastActivity.Period.Month)
}

func TestActivityHandlerRangeSupersedesPeriod(t *testing.T) {
	mock := &outcomeReporterMock{}
	h := NewOutcomeReportHandler(mock, time.UTC)

	c, w := newGinContext(http.MethodGet, "/reports/activity?month=2&year=2025&startDate=2025-01-01&endDate=2025-01-31", nil)
	h.Activity(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.lastActivity.Range)
	assert.Nil(t, mock.lastActivity.Period)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), mock.lastActivity.Range.Start)
}

func TestActivityHandlerRejectsBadScopes(t *testing.T) {
	h := NewOutcomeReportHandler(&outcomeReporterMock{}, time.UTC)
	cases := map[string]int{
		"startDate=2025-02-01&endDate=2025-01-01": http.StatusBadRequest,
		"startDate=01/02/2025&endDate=2025-01-31": http.StatusBadRequest,
		"startDate=2025-01-01":                    http.StatusBadRequest,
		"month=2&year=2025&groupBy=building":      http.StatusBadRequest,
	}
	for query, want := range cases {
		c, w := newGinContext(http.MethodGet, "/reports/activity?"+query, nil)
		h.Activity(c)
		assert.Equal(t, want, w.Code, query)
	}
}
