package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
)

type stubRecordStore struct {
	sites      []models.Site
	patients   []models.Patient
	snapshots  map[string][]models.StatusSnapshot
	activities map[string][]models.Activity

	sitesErr      error
	patientsErr   error
	allErr        error
	snapshotErrs  map[string]error
	activityErrs  map[string]error
	snapshotCalls int64
	allCalls      int64
}

func (s *stubRecordStore) ListSites(context.Context) ([]models.Site, error) {
	return s.sites, s.sitesErr
}

func (s *stubRecordStore) ListPatients(context.Context) ([]models.Patient, error) {
	return s.patients, s.patientsErr
}

func (s *stubRecordStore) ListSnapshotsForPatient(_ context.Context, id string) ([]models.StatusSnapshot, error) {
	atomic.AddInt64(&s.snapshotCalls, 1)
	if err := s.snapshotErrs[id]; err != nil {
		return nil, err
	}
	return s.snapshots[id], nil
}

func (s *stubRecordStore) ListActivitiesForPatient(_ context.Context, id string) ([]models.Activity, error) {
	if err := s.activityErrs[id]; err != nil {
		return nil, err
	}
	return s.activities[id], nil
}

func (s *stubRecordStore) ListAllActivities(context.Context) ([]models.Activity, error) {
	atomic.AddInt64(&s.allCalls, 1)
	if s.allErr != nil {
		return nil, s.allErr
	}
	var all []models.Activity
	for _, p := range s.patients {
		all = append(all, s.activities[p.ID]...)
	}
	return all, nil
}

type memoryCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(payload, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		m.store = map[string][]byte{}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.store[key] = payload
	return nil
}

func clinicFixture() *stubRecordStore {
	return &stubRecordStore{
		sites: []models.Site{
			{ID: "s1", Name: "Clinic A", IsActive: true},
			{ID: "s2", Name: "Clinic B", IsActive: true},
			{ID: "s3", Name: "Clinic C", IsActive: true},
		},
		patients: []models.Patient{
			{ID: "p1", FirstName: "Ana", LastName: "Diaz", SiteName: "Clinic A", CriteriaFlags: models.CriteriaFlags{A1CAtGoal: boolPtr(true)}},
			{ID: "p2", FirstName: "Ben", LastName: "Ito", SiteName: "Clinic A", CriteriaFlags: models.CriteriaFlags{A1CAtGoal: boolPtr(false)}},
			{ID: "p3", FirstName: "Cy", LastName: "Ng", SiteName: "Clinic B", CriteriaFlags: models.CriteriaFlags{BPAtGoal: boolPtr(false)}},
		},
		snapshots: map[string][]models.StatusSnapshot{
			"p3": {
				{ID: "s-early", PatientID: "p3", CreatedAt: "2024-03-02T10:00:00Z", CriteriaFlags: models.CriteriaFlags{BPAtGoal: boolPtr(true)}},
				{ID: "s-late", PatientID: "p3", CreatedAt: "2024-03-28T10:00:00Z", CriteriaFlags: models.CriteriaFlags{BPAtGoal: boolPtr(false)}},
			},
		},
		activities: map[string][]models.Activity{
			"p1": {
				{ID: "a1", PatientID: "p1", SiteName: "Clinic A", ServiceDatetime: "2025-02-01T09:00:00Z", DurationMinutes: 0.5},
				{ID: "a2", PatientID: "p1", SiteName: "Clinic A", ServiceDatetime: "2025-02-10T09:00:00Z", DurationMinutes: 15},
				{ID: "a3", PatientID: "p1", SiteName: "Clinic A", ServiceDatetime: "2025-02-20T09:00:00Z", DurationMinutes: 90},
			},
			"p3": {
				{ID: "a4", PatientID: "p3", SiteName: "Clinic B", ServiceDatetime: "2025-01-20T09:00:00Z", DurationMinutes: 45},
				{ID: "a5", PatientID: "p3", SiteName: "Clinic B", ServiceDatetime: "2025-02-20T09:00:00Z", DurationMinutes: 30},
			},
		},
	}
}

func newTestReportService(store *stubRecordStore, cache reportCache, bulk bool) *OutcomeReportService {
	return NewOutcomeReportServiceFromStore(store, cache, NewMetricsService(), zap.NewNop(), OutcomeReportConfig{
		FetchConcurrency: 2,
		BulkActivities:   bulk,
		Location:         time.UTC,
	})
}

func findCriterion(t *testing.T, reports []models.CriteriaReport, key string) models.CriteriaReport {
	t.Helper()
	for _, r := range reports {
		if r.CriterionName == key {
			return r
		}
	}
	t.Fatalf("criterion %s missing", key)
	return models.CriteriaReport{}
}

func TestCriteriaReportAllSites(t *testing.T) {
	svc := newTestReportService(clinicFixture(), nil, true)

	resp, hit, err := svc.CriteriaReport(context.Background(), period.Period{Month: 3, Year: 2024}, "")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, resp.PatientCount)
	require.Len(t, resp.Criteria, models.CriterionCount)

	a1c := findCriterion(t, resp.Criteria, "a1cAtGoal")
	require.Len(t, a1c.PerSite, 3)
	assert.Equal(t, models.CriterionTally{Yes: 1, No: 1, Total: 2, Percentage: 50}, a1c.PerSite[0].CriterionTally)
	assert.Equal(t, "Clinic C", a1c.PerSite[2].SiteName)
	assert.Equal(t, models.CriterionTally{}, a1c.PerSite[2].CriterionTally)
	assert.Equal(t, 3, a1c.Total.Total)

	bp := findCriterion(t, resp.Criteria, "bpAtGoal")
	assert.Equal(t, 0, bp.PerSite[1].Yes, "latest in-period snapshot must win")
	assert.Equal(t, 1, bp.PerSite[1].No)
	assert.Empty(t, resp.FallbackPatients)
	assert.NotEmpty(t, resp.RunID)
}

func TestCriteriaReportIsolatesPatientFailures(t *testing.T) {
	baselineStore := clinicFixture()
	baseline, _, err := newTestReportService(baselineStore, nil, true).CriteriaReport(context.Background(), period.Period{Month: 3, Year: 2024}, "")
	require.NoError(t, err)

	failing := clinicFixture()
	failing.snapshotErrs = map[string]error{"p1": errors.New("connection reset")}
	resp, _, err := newTestReportService(failing, nil, true).CriteriaReport(context.Background(), period.Period{Month: 3, Year: 2024}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"p1"}, resp.FallbackPatients)
	assert.Equal(t, int64(3), atomic.LoadInt64(&failing.snapshotCalls), "sibling fetches must still run")
	// p1 has no snapshots in the fixture, so its fallback equals its normal contribution and
	// every other patient's contribution is untouched.
	assert.Equal(t, baseline.Criteria, resp.Criteria)
}

func TestCriteriaReportDirectoryFailureIsFatal(t *testing.T) {
	cases := map[string]func(*stubRecordStore){
		"sites":    func(s *stubRecordStore) { s.sitesErr = errors.New("sites down") },
		"patients": func(s *stubRecordStore) { s.patientsErr = errors.New("patients down") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			store := clinicFixture()
			mutate(store)

			resp, _, err := newTestReportService(store, nil, true).CriteriaReport(context.Background(), period.Period{Month: 3, Year: 2024}, "")

			require.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, errors.Is(err, appErrors.ErrReportGeneration))
			assert.True(t, appErrors.Retryable(err))
			assert.Equal(t, "failed to generate report", appErrors.FromError(err).Message)
		})
	}
}

func TestCriteriaReportSiteFilter(t *testing.T) {
	svc := newTestReportService(clinicFixture(), nil, true)

	resp, _, err := svc.CriteriaReport(context.Background(), period.Period{Month: 3, Year: 2024}, "Clinic B")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.PatientCount)
	for _, c := range resp.Criteria {
		require.Len(t, c.PerSite, 1)
		assert.Equal(t, "Clinic B", c.PerSite[0].SiteName)
	}

	_, _, err = svc.CriteriaReport(context.Background(), period.Period{Month: 3, Year: 2024}, "Nowhere")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestCriteriaReportInvalidPeriod(t *testing.T) {
	svc := newTestReportService(clinicFixture(), nil, true)

	_, _, err := svc.CriteriaReport(context.Background(), period.Period{Month: 13, Year: 2024}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidPeriod))
}

func TestCriteriaReportUsesCache(t *testing.T) {
	store := clinicFixture()
	cache := &memoryCache{}
	svc := newTestReportService(store, cache, true)
	p := period.Period{Month: 3, Year: 2024}

	first, hit, err := svc.CriteriaReport(context.Background(), p, "")
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := svc.CriteriaReport(context.Background(), p, "")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.Criteria, second.Criteria)
	assert.Equal(t, int64(3), atomic.LoadInt64(&store.snapshotCalls))
}

func TestSiteReport(t *testing.T) {
	svc := newTestReportService(clinicFixture(), nil, true)

	resp, _, err := svc.SiteReport(context.Background(), period.Period{Month: 3, Year: 2024}, "Clinic A")
	require.NoError(t, err)
	assert.Equal(t, "Clinic A", resp.SiteName)
	assert.Equal(t, 2, resp.PatientCount)
	assert.Equal(t, 3, resp.Month)
	assert.Equal(t, models.CriterionTally{Yes: 1, No: 1, Total: 2, Percentage: 50}, resp.A1CAtGoal)

	_, _, err = svc.SiteReport(context.Background(), period.Period{Month: 3, Year: 2024}, "Clinic Z")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestActivityReportFlat(t *testing.T) {
	svc := newTestReportService(clinicFixture(), nil, true)
	p := period.Period{Month: 2, Year: 2025}

	resp, _, err := svc.ActivityReport(context.Background(), ActivityReportQuery{Period: &p})
	require.NoError(t, err)
	require.Len(t, resp.Patients, 3)
	assert.Equal(t, dto.GroupByPatient, resp.GroupBy)
	assert.Equal(t, 3, resp.Patients[0].ActivityCount)
	assert.InDelta(t, 105.5, resp.Patients[0].TotalMinutes, 1e-9)
	assert.InDelta(t, 105.5/60, resp.Patients[0].TotalHours, 1e-9)
	assert.Equal(t, 1, resp.Patients[2].ActivityCount)
	assert.InDelta(t, 135.5, resp.GrandTotal.TotalMinutes, 1e-9)
	assert.Equal(t, "2.26 hrs", resp.Duration)
}

func TestActivityReportGroupedBySite(t *testing.T) {
	store := clinicFixture()
	svc := newTestReportService(store, nil, true)
	r, err := period.ParseDateRange("2025-01-01", "2025-02-28", time.UTC)
	require.NoError(t, err)

	resp, _, err := svc.ActivityReport(context.Background(), ActivityReportQuery{Range: &r, GroupBy: dto.GroupBySite})
	require.NoError(t, err)
	require.Len(t, resp.Sites, 3)
	assert.InDelta(t, 105.5, resp.Sites[0].TotalSiteMinutes, 1e-9)
	assert.InDelta(t, 75.0, resp.Sites[1].TotalSiteMinutes, 1e-9)
	assert.Equal(t, 5, resp.GrandTotal.ActivityCount)
	assert.Equal(t, "2025-01-01", resp.StartDate)
	assert.Equal(t, "2025-02-28", resp.EndDate)
	assert.Equal(t, int64(1), atomic.LoadInt64(&store.allCalls))
}

func TestActivityReportPerPatientFailureContributesZero(t *testing.T) {
	store := clinicFixture()
	store.activityErrs = map[string]error{"p1": errors.New("timeout")}
	svc := newTestReportService(store, nil, false)
	p := period.Period{Month: 2, Year: 2025}

	resp, _, err := svc.ActivityReport(context.Background(), ActivityReportQuery{Period: &p})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, resp.FallbackPatients)
	assert.Equal(t, 0, resp.Patients[0].ActivityCount)
	assert.Equal(t, 1, resp.Patients[2].ActivityCount)
	assert.Equal(t, int64(0), atomic.LoadInt64(&store.allCalls))
}

func TestActivityReportBulkFailureIsFatal(t *testing.T) {
	store := clinicFixture()
	store.allErr = errors.New("activities down")
	p := period.Period{Month: 2, Year: 2025}

	_, _, err := newTestReportService(store, nil, true).ActivityReport(context.Background(), ActivityReportQuery{Period: &p})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrReportGeneration))
}

func TestActivityReportRequiresScope(t *testing.T) {
	svc := newTestReportService(clinicFixture(), nil, true)
	p := period.Period{Month: 2, Year: 2025}

	_, _, err := svc.ActivityReport(context.Background(), ActivityReportQuery{})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidPeriod))

	_, _, err = svc.ActivityReport(context.Background(), ActivityReportQuery{Period: &p, GroupBy: "building"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestActivityReportRangeSupersedesPeriod(t *testing.T) {
	svc := newTestReportService(clinicFixture(), nil, true)
	p := period.Period{Month: 2, Year: 2025}
	r, err := period.ParseDateRange("2025-01-01", "2025-01-31", time.UTC)
	require.NoError(t, err)

	resp, _, err := svc.ActivityReport(context.Background(), ActivityReportQuery{Period: &p, Range: &r})
	require.NoError(t, err)
	require.Len(t, resp.Patients, 3)
	assert.Equal(t, 0, resp.Patients[0].ActivityCount)
	assert.Equal(t, 1, resp.Patients[2].ActivityCount)
	assert.InDelta(t, 45.0, resp.GrandTotal.TotalMinutes, 1e-9)
	assert.Equal(t, "2025-01-01", resp.StartDate)
	assert.Zero(t, resp.Month)
}

func TestActivityReportSkippedCountsOnlyScopedPatients(t *testing.T) {
	store := clinicFixture()
	store.activities["p3"] = append(store.activities["p3"],
		models.Activity{ID: "bad-b", PatientID: "p3", SiteName: "Clinic B", ServiceDatetime: "not a date", DurationMinutes: 5})
	svc := newTestReportService(store, nil, true)
	p := period.Period{Month: 2, Year: 2025}

	resp, _, err := svc.ActivityReport(context.Background(), ActivityReportQuery{Period: &p, SiteName: "Clinic A"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.SkippedRecords)

	resp, _, err = svc.ActivityReport(context.Background(), ActivityReportQuery{Period: &p})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SkippedRecords)
}

func TestCriteriaReportDoesNotCacheFallbackRuns(t *testing.T) {
	store := clinicFixture()
	store.snapshotErrs = map[string]error{"p3": errors.New("timeout")}
	cache := &memoryCache{}
	svc := newTestReportService(store, cache, true)
	p := period.Period{Month: 3, Year: 2024}

	first, hit, err := svc.CriteriaReport(context.Background(), p, "")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"p3"}, first.FallbackPatients)
	assert.Empty(t, cache.store)

	store.snapshotErrs = nil
	second, hit, err := svc.CriteriaReport(context.Background(), p, "")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, second.FallbackPatients)
	assert.Len(t, cache.store, 1)
	assert.Equal(t, int64(6), atomic.LoadInt64(&store.snapshotCalls))

	_, hit, err = svc.CriteriaReport(context.Background(), p, "")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestActivityReportDoesNotCacheFallbackRuns(t *testing.T) {
	store := clinicFixture()
	store.activityErrs = map[string]error{"p1": errors.New("timeout")}
	cache := &memoryCache{}
	svc := newTestReportService(store, cache, false)
	p := period.Period{Month: 2, Year: 2025}

	_, _, err := svc.ActivityReport(context.Background(), ActivityReportQuery{Period: &p})
	require.NoError(t, err)
	assert.Empty(t, cache.store)
}

func TestCriteriaReportCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestReportService(clinicFixture(), nil, true).CriteriaReport(ctx, period.Period{Month: 3, Year: 2024}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
