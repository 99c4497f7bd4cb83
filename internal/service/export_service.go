package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
	"github.com/noah-isme/clinic-outcomes-api/pkg/export"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
	"github.com/noah-isme/clinic-outcomes-api/pkg/storage"
)

type reportSource interface {
	CriteriaReport(ctx context.Context, p period.Period, siteName string) (*dto.CriteriaReportResponse, bool, error)
	SiteReport(ctx context.Context, p period.Period, siteName string) (*dto.SiteReportResponse, bool, error)
	ActivityReport(ctx context.Context, q ActivityReportQuery) (*dto.ActivityReportResponse, bool, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (io.ReadCloser, int64, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
	Location  *time.Location
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	reports reportSource
	storage fileStorage
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(reports reportSource, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &ExportService{reports: reports, storage: files, signer: signer, logger: logger, cfg: cfg}
}

// Generate builds the dataset for a job, renders it and stores the file behind a signed URL.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	payload, renderer, err := s.Render(ctx, job.Type, job.Params)
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(buildFilename(job, renderer.Extension()), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// Render computes the report described by params and renders it without storing anything.
func (s *ExportService) Render(ctx context.Context, kind models.ExportType, params models.ExportJobParams) ([]byte, export.Renderer, error) {
	renderer, err := export.NewRenderer(string(params.Format))
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	dataset, err := s.BuildDataset(ctx, kind, params)
	if err != nil {
		return nil, nil, err
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, nil, err
	}
	return payload, renderer, nil
}

// BuildDataset runs the report variant for kind and flattens it into rows.
func (s *ExportService) BuildDataset(ctx context.Context, kind models.ExportType, params models.ExportJobParams) (export.Dataset, error) {
	switch kind {
	case models.ExportTypeOutcomes:
		resp, _, err := s.reports.CriteriaReport(ctx, period.Period{Month: params.Month, Year: params.Year}, params.SiteName)
		if err != nil {
			return export.Dataset{}, err
		}
		return CriteriaDataset(resp), nil
	case models.ExportTypeSite:
		resp, _, err := s.reports.SiteReport(ctx, period.Period{Month: params.Month, Year: params.Year}, params.SiteName)
		if err != nil {
			return export.Dataset{}, err
		}
		return SiteDataset(resp), nil
	case models.ExportTypeActivity:
		q, err := ActivityQueryFromParams(params, s.cfg.Location)
		if err != nil {
			return export.Dataset{}, err
		}
		resp, _, err := s.reports.ActivityReport(ctx, q)
		if err != nil {
			return export.Dataset{}, err
		}
		return ActivityDataset(resp), nil
	default:
		return export.Dataset{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export type %s", kind))
	}
}

// ActivityQueryFromParams turns persisted export params into an activity query.
// A date range takes precedence over month/year.
func ActivityQueryFromParams(params models.ExportJobParams, loc *time.Location) (ActivityReportQuery, error) {
	q := ActivityReportQuery{SiteName: params.SiteName, Building: params.Building, GroupBy: params.GroupBy}
	if params.StartDate != "" || params.EndDate != "" {
		r, err := period.ParseDateRange(params.StartDate, params.EndDate, loc)
		if err != nil {
			return q, appErrors.Clone(appErrors.ErrInvalidPeriod, err.Error())
		}
		q.Range = &r
		return q, nil
	}
	if params.Month != 0 || params.Year != 0 {
		p := period.Period{Month: params.Month, Year: params.Year}
		q.Period = &p
	}
	return q, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file and its size.
func (s *ExportService) Open(relPath string) (io.ReadCloser, int64, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl, defaulting to the configured ResultTTL.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func buildFilename(job *models.ExportJob, ext string) string {
	scope := fmt.Sprintf("%04d-%02d", job.Params.Year, job.Params.Month)
	if job.Params.StartDate != "" {
		scope = job.Params.StartDate + "_" + job.Params.EndDate
	}
	if job.Params.SiteName != "" {
		scope += "_" + sanitizeFilename(job.Params.SiteName)
	}
	return path.Join(string(job.Type), fmt.Sprintf("%s_%s.%s", scope, job.ID, ext))
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", ".", "_")
	result := replacer.Replace(raw)
	if runes := []rune(result); len(runes) > 60 {
		return string(runes[:60])
	}
	return result
}
