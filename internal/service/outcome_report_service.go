package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
)

type siteLister interface {
	ListSites(ctx context.Context) ([]models.Site, error)
}

type patientLister interface {
	ListPatients(ctx context.Context) ([]models.Patient, error)
}

type snapshotLister interface {
	ListSnapshotsForPatient(ctx context.Context, patientID string) ([]models.StatusSnapshot, error)
}

type activityLister interface {
	ListActivitiesForPatient(ctx context.Context, patientID string) ([]models.Activity, error)
	ListAllActivities(ctx context.Context) ([]models.Activity, error)
}

// RecordStore is the full read surface consumed by report generation.
type RecordStore interface {
	siteLister
	patientLister
	snapshotLister
	activityLister
}

type reportCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// OutcomeReportConfig tunes report generation.
type OutcomeReportConfig struct {
	CacheTTL         time.Duration
	FetchConcurrency int
	BulkActivities   bool
	Location         *time.Location
}

// OutcomeReportServiceParams wires dependencies for OutcomeReportService.
type OutcomeReportServiceParams struct {
	Sites      siteLister
	Patients   patientLister
	Snapshots  snapshotLister
	Activities activityLister
	Cache      reportCache
	Metrics    *MetricsService
	Logger     *zap.Logger
	Config     OutcomeReportConfig
}

// OutcomeReportService generates criteria and activity reports from the record store.
type OutcomeReportService struct {
	sites      siteLister
	patients   patientLister
	snapshots  snapshotLister
	activities activityLister
	cache      reportCache
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        OutcomeReportConfig
	now        func() time.Time
}

// NewOutcomeReportService constructs the report service.
func NewOutcomeReportService(params OutcomeReportServiceParams) *OutcomeReportService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := params.Config
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &OutcomeReportService{
		sites:      params.Sites,
		patients:   params.Patients,
		snapshots:  params.Snapshots,
		activities: params.Activities,
		cache:      params.Cache,
		metrics:    params.Metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// NewOutcomeReportServiceFromStore wires every lister from a single record store.
func NewOutcomeReportServiceFromStore(store RecordStore, cache reportCache, metrics *MetricsService, logger *zap.Logger, cfg OutcomeReportConfig) *OutcomeReportService {
	return NewOutcomeReportService(OutcomeReportServiceParams{
		Sites:      store,
		Patients:   store,
		Snapshots:  store,
		Activities: store,
		Cache:      cache,
		Metrics:    metrics,
		Logger:     logger,
		Config:     cfg,
	})
}

// ActivityReportQuery scopes an activity report. Exactly one of Period or Range must be set.
type ActivityReportQuery struct {
	Period   *period.Period
	Range    *period.DateRange
	SiteName string
	Building string
	GroupBy  string
}

// CriteriaReport returns the per-criterion breakdown across sites. A non-empty siteName
// restricts the breakdown to that site.
func (s *OutcomeReportService) CriteriaReport(ctx context.Context, p period.Period, siteName string) (*dto.CriteriaReportResponse, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidPeriod, err.Error())
	}

	cacheKey := ReportCacheKey(ReportVariantCriteria, p.Key(), siteName)
	var cached dto.CriteriaReportResponse
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, true, nil
	}

	start := s.now()
	resp, err := s.buildCriteriaReport(ctx, p, siteName)
	s.metrics.ObserveReport(ReportVariantCriteria, err, time.Since(start))
	if err != nil {
		return nil, false, err
	}

	s.cacheSet(ctx, cacheKey, resp, resp.ReportRunMeta)
	return resp, false, nil
}

func (s *OutcomeReportService) buildCriteriaReport(ctx context.Context, p period.Period, siteName string) (*dto.CriteriaReportResponse, error) {
	sites, patients, err := s.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}
	if siteName != "" {
		sites = filterSites(sites, siteName)
		if len(sites) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("site %q not found", siteName))
		}
		patients = filterPatients(patients, siteName)
	}

	resolutions, fallbacks, skipped, err := s.resolvePatients(ctx, patients, p)
	if err != nil {
		return nil, err
	}
	agg := AggregateCriteria(sites, patients, resolutions)

	return &dto.CriteriaReportResponse{
		Month:              p.Month,
		Year:               p.Year,
		SiteName:           siteName,
		PatientCount:       len(patients) - agg.Unassigned,
		UnassignedPatients: agg.Unassigned,
		Criteria:           agg.Reports(),
		ReportRunMeta:      s.runMeta(fallbacks, skipped),
	}, nil
}

// SiteReport returns the single-site breakdown. Unknown sites yield ErrNotFound.
func (s *OutcomeReportService) SiteReport(ctx context.Context, p period.Period, siteName string) (*dto.SiteReportResponse, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidPeriod, err.Error())
	}
	if siteName == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "siteName is required")
	}

	cacheKey := ReportCacheKey(ReportVariantSite, p.Key(), siteName)
	var cached dto.SiteReportResponse
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, true, nil
	}

	start := s.now()
	resp, err := s.buildSiteReport(ctx, p, siteName)
	s.metrics.ObserveReport(ReportVariantSite, err, time.Since(start))
	if err != nil {
		return nil, false, err
	}

	s.cacheSet(ctx, cacheKey, resp, resp.ReportRunMeta)
	return resp, false, nil
}

func (s *OutcomeReportService) buildSiteReport(ctx context.Context, p period.Period, siteName string) (*dto.SiteReportResponse, error) {
	sites, patients, err := s.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}
	sites = filterSites(sites, siteName)
	if len(sites) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("site %q not found", siteName))
	}
	patients = filterPatients(patients, siteName)

	resolutions, fallbacks, skipped, err := s.resolvePatients(ctx, patients, p)
	if err != nil {
		return nil, err
	}
	data, _ := AggregateCriteria(sites, patients, resolutions).SiteReport(siteName)
	data.Month = p.Month
	data.Year = p.Year

	return &dto.SiteReportResponse{SiteReportData: data, ReportRunMeta: s.runMeta(fallbacks, skipped)}, nil
}

// ActivityReport returns per-patient activity durations, flat or grouped by site.
func (s *OutcomeReportService) ActivityReport(ctx context.Context, q ActivityReportQuery) (*dto.ActivityReportResponse, bool, error) {
	if q.Range != nil {
		q.Period = nil
	}
	if q.Period == nil && q.Range == nil {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidPeriod, "provide month/year or startDate/endDate")
	}
	if q.Period != nil {
		if err := q.Period.Validate(); err != nil {
			return nil, false, appErrors.Clone(appErrors.ErrInvalidPeriod, err.Error())
		}
	}
	switch q.GroupBy {
	case "":
		q.GroupBy = dto.GroupByPatient
	case dto.GroupByPatient, dto.GroupBySite:
	default:
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "groupBy must be site or patient")
	}

	var scope string
	if q.Range != nil {
		scope = q.Range.Key()
	} else {
		scope = q.Period.Key()
	}
	cacheKey := ReportCacheKey(ReportVariantActivity, scope, q.GroupBy, q.SiteName, q.Building)
	var cached dto.ActivityReportResponse
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, true, nil
	}

	start := s.now()
	resp, err := s.buildActivityReport(ctx, q)
	s.metrics.ObserveReport(ReportVariantActivity, err, time.Since(start))
	if err != nil {
		return nil, false, err
	}

	s.cacheSet(ctx, cacheKey, resp, resp.ReportRunMeta)
	return resp, false, nil
}

func (s *OutcomeReportService) buildActivityReport(ctx context.Context, q ActivityReportQuery) (*dto.ActivityReportResponse, error) {
	sites, patients, err := s.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}
	if q.SiteName != "" {
		patients = filterPatients(patients, q.SiteName)
	}

	byPatient, fallbacks, err := s.loadActivities(ctx, patients)
	if err != nil {
		return nil, err
	}

	filter := ActivityFilter{
		Period:   q.Period,
		Range:    q.Range,
		SiteName: q.SiteName,
		Building: q.Building,
		Location: s.cfg.Location,
	}

	skipped := 0
	for _, patient := range patients {
		skipped += CountMalformedActivities(byPatient[patient.ID], s.cfg.Location)
	}
	s.metrics.RecordSkipped(FallbackActivities, skipped)

	resp := &dto.ActivityReportResponse{
		SiteName:      q.SiteName,
		Building:      q.Building,
		GroupBy:       q.GroupBy,
		ReportRunMeta: s.runMeta(fallbacks, skipped),
	}
	if q.Range != nil {
		resp.StartDate = q.Range.Start.Format(period.DateLayout)
		resp.EndDate = q.Range.End.Format(period.DateLayout)
	} else {
		resp.Month = q.Period.Month
		resp.Year = q.Period.Year
	}

	if q.GroupBy == dto.GroupBySite {
		grouped := GroupActivitiesBySite(sites, patients, byPatient, filter)
		resp.Sites = grouped.Sites
		resp.GrandTotal = grouped.GrandTotal
	} else {
		resp.Patients = BuildPatientActivity(patients, byPatient, filter)
		for _, row := range resp.Patients {
			resp.GrandTotal = resp.GrandTotal.Add(models.DurationSummary{
				TotalMinutes:  row.TotalMinutes,
				TotalHours:    row.TotalHours,
				ActivityCount: row.ActivityCount,
			})
		}
	}
	resp.Duration = period.FormatDuration(resp.GrandTotal.TotalMinutes)
	return resp, nil
}

// loadDirectory fetches sites and patients together. Either failure is fatal.
func (s *OutcomeReportService) loadDirectory(ctx context.Context) ([]models.Site, []models.Patient, error) {
	var (
		sites    []models.Site
		patients []models.Patient
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		list, err := s.sites.ListSites(gctx)
		s.metrics.ObserveDBQuery("list_sites", time.Since(start))
		if err != nil {
			return fmt.Errorf("list sites: %w", err)
		}
		sites = list
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		list, err := s.patients.ListPatients(gctx)
		s.metrics.ObserveDBQuery("list_patients", time.Since(start))
		if err != nil {
			return fmt.Errorf("list patients: %w", err)
		}
		patients = list
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("report directory fetch failed", zap.Error(err))
		return nil, nil, reportFailure(err)
	}
	return sites, patients, nil
}

// resolvePatients fetches every patient's snapshots concurrently and resolves their
// criteria. A failed fetch falls back to the patient's current flags and never cancels
// sibling fetches; only cancellation of ctx aborts the run.
func (s *OutcomeReportService) resolvePatients(ctx context.Context, patients []models.Patient, p period.Period) ([]Resolution, []string, int, error) {
	resolutions := make([]Resolution, len(patients))
	errs := make([]error, len(patients))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i := range patients {
		i := i
		g.Go(func() error {
			start := time.Now()
			snapshots, err := s.snapshots.ListSnapshotsForPatient(ctx, patients[i].ID)
			s.metrics.ObserveDBQuery("list_snapshots", time.Since(start))
			if err != nil {
				errs[i] = err
				resolutions[i] = ResolveWithError(patients[i].CriteriaFlags)
				return nil
			}
			resolutions[i] = ResolveCriteria(snapshots, patients[i].CriteriaFlags, p, s.cfg.Location)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, 0, reportFailure(err)
	}

	var fallbacks []string
	skipped := 0
	for i, res := range resolutions {
		skipped += res.Skipped
		if res.Source != ResolutionFellBack {
			continue
		}
		fallbacks = append(fallbacks, patients[i].ID)
		s.metrics.RecordPatientFallback(FallbackSnapshots)
		s.logger.Warn("snapshot fetch failed, using current flags",
			zap.String("patient_id", patients[i].ID),
			zap.Error(errs[i]),
		)
	}
	s.metrics.RecordSkipped(FallbackSnapshots, skipped)
	return resolutions, fallbacks, skipped, nil
}

// loadActivities returns activities keyed by patient id. The bulk path is a single call
// whose failure is fatal; the per-patient path isolates failures to zero contributions.
func (s *OutcomeReportService) loadActivities(ctx context.Context, patients []models.Patient) (map[string][]models.Activity, []string, error) {
	byPatient := make(map[string][]models.Activity, len(patients))

	if s.cfg.BulkActivities {
		start := time.Now()
		all, err := s.activities.ListAllActivities(ctx)
		s.metrics.ObserveDBQuery("list_all_activities", time.Since(start))
		if err != nil {
			s.logger.Error("bulk activity fetch failed", zap.Error(err))
			return nil, nil, reportFailure(fmt.Errorf("list activities: %w", err))
		}
		for _, a := range all {
			byPatient[a.PatientID] = append(byPatient[a.PatientID], a)
		}
		return byPatient, nil, nil
	}

	lists := make([][]models.Activity, len(patients))
	errs := make([]error, len(patients))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i := range patients {
		i := i
		g.Go(func() error {
			start := time.Now()
			list, err := s.activities.ListActivitiesForPatient(ctx, patients[i].ID)
			s.metrics.ObserveDBQuery("list_activities", time.Since(start))
			if err != nil {
				errs[i] = err
				return nil
			}
			lists[i] = list
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, reportFailure(err)
	}

	var fallbacks []string
	for i, patient := range patients {
		if errs[i] != nil {
			fallbacks = append(fallbacks, patient.ID)
			s.metrics.RecordPatientFallback(FallbackActivities)
			s.logger.Warn("activity fetch failed, patient contributes zero",
				zap.String("patient_id", patient.ID),
				zap.Error(errs[i]),
			)
			continue
		}
		byPatient[patient.ID] = lists[i]
	}
	return byPatient, fallbacks, nil
}

func (s *OutcomeReportService) runMeta(fallbacks []string, skipped int) dto.ReportRunMeta {
	return dto.ReportRunMeta{
		RunID:            uuid.NewString(),
		GeneratedAt:      s.now().UTC(),
		FallbackPatients: fallbacks,
		SkippedRecords:   skipped,
	}
}

func (s *OutcomeReportService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	return err == nil && hit
}

// cacheSet stores a finished report. Runs degraded by failed patient fetches are not
// cached so a retry recomputes them.
func (s *OutcomeReportService) cacheSet(ctx context.Context, key string, value interface{}, meta dto.ReportRunMeta) {
	if s.cache == nil || len(meta.FallbackPatients) > 0 {
		return
	}
	_ = s.cache.Set(ctx, key, value, s.cfg.CacheTTL)
}

func reportFailure(err error) error {
	return appErrors.Wrap(err, appErrors.ErrReportGeneration.Code, http.StatusBadGateway, appErrors.ErrReportGeneration.Message)
}

func filterSites(sites []models.Site, name string) []models.Site {
	out := make([]models.Site, 0, 1)
	for _, site := range sites {
		if site.Name == name {
			out = append(out, site)
		}
	}
	return out
}

func filterPatients(patients []models.Patient, siteName string) []models.Patient {
	out := make([]models.Patient, 0, len(patients))
	for _, p := range patients {
		if p.SiteName == siteName {
			out = append(out, p)
		}
	}
	return out
}
