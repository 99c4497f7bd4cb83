package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	"github.com/noah-isme/clinic-outcomes-api/internal/repository"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
	"github.com/noah-isme/clinic-outcomes-api/pkg/export"
	"github.com/noah-isme/clinic-outcomes-api/pkg/jobs"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error)
}

// ExportJobServiceConfig governs queue recovery and cleanup.
type ExportJobServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	Location        *time.Location
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	Body        io.ReadCloser
	Size        int64
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportJobService orchestrates the export job lifecycle.
type ExportJobService struct {
	repo     exportJobStore
	queue    jobDispatcher
	exporter *ExportService
	logger   *zap.Logger
	cfg      ExportJobServiceConfig
}

// NewExportJobService constructs the export job service.
func NewExportJobService(repo exportJobStore, queue jobDispatcher, exporter *ExportService, logger *zap.Logger, cfg ExportJobServiceConfig) *ExportJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &ExportJobService{repo: repo, queue: queue, exporter: exporter, logger: logger, cfg: cfg}
}

// CreateJob validates the request scope, persists the job and enqueues processing.
func (s *ExportJobService) CreateJob(ctx context.Context, req dto.ExportRequest, actorID string) (*dto.ExportJobResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	job := &models.ExportJob{
		Type: req.Type,
		Params: models.ExportJobParams{
			Format:    req.Format,
			Month:     req.Month,
			Year:      req.Year,
			SiteName:  strings.TrimSpace(req.SiteName),
			Building:  strings.TrimSpace(req.Building),
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
			GroupBy:   req.GroupBy,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		status := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		progress := 100
		_ = s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	s.logger.Info("export job queued", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.String("format", string(job.Params.Format)))
	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus exposes job metadata. Only admins may read other users' jobs.
func (s *ExportJobService) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ExportStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.loadError(err)
	}
	if role != models.RoleAdmin && actorID != "" && job.CreatedBy != actorID {
		return nil, appErrors.ErrForbidden
	}
	resp := &dto.ExportStatusResponse{
		ID:        job.ID,
		Type:      job.Type,
		Status:    job.Status,
		Progress:  job.Progress,
		ResultURL: job.ResultURL,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload validates a token and opens the stored export file.
func (s *ExportJobService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, s.loadError(err)
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, "/"+token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	renderer, err := export.NewRenderer(string(job.Params.Format))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unknown export format")
	}
	body, size, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		Body:        body,
		Size:        size,
		Filename:    filepath.Base(relPath),
		ContentType: renderer.ContentType(),
		ExpiresAt:   expiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs after a process restart.
func (s *ExportJobService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued export jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue pending job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered queued export jobs", zap.Int("count", len(pending)))
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportJobService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired deletes files for jobs finished before now-ResultTTL, then sweeps stray files.
func (s *ExportJobService) CleanupExpired(ctx context.Context) {
	const batch = 100
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	finished, err := s.repo.ListFinishedBefore(ctx, cutoff, batch)
	if err != nil {
		s.logger.Warn("cleanup list failed", zap.Error(err))
		return
	}
	for _, job := range finished {
		if job.ResultURL == nil {
			continue
		}
		token := extractToken(*job.ResultURL)
		if token == "" {
			continue
		}
		_, relPath, _, err := s.exporter.ParseToken(token, true)
		if err != nil {
			continue
		}
		if err := s.exporter.Delete(relPath); err != nil {
			s.logger.Warn("cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	removed, err := s.exporter.Cleanup(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("filesystem cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("files", len(removed)))
	}
}

func (s *ExportJobService) loadError(err error) error {
	if errors.Is(err, appErrors.ErrNotFound) {
		return appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
}

// validateRequest checks that the report scope matches the export type.
func (s *ExportJobService) validateRequest(req dto.ExportRequest) error {
	switch req.Format {
	case models.ExportFormatCSV, models.ExportFormatPDF, models.ExportFormatXLSX:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	hasPeriod := req.Month != 0 || req.Year != 0
	hasRange := req.StartDate != "" || req.EndDate != ""

	switch req.Type {
	case models.ExportTypeOutcomes, models.ExportTypeSite:
		if hasRange {
			return appErrors.Clone(appErrors.ErrValidation, "date ranges apply to activity exports only")
		}
		if _, err := period.New(req.Month, req.Year); err != nil {
			return appErrors.Clone(appErrors.ErrInvalidPeriod, err.Error())
		}
		if req.Type == models.ExportTypeSite && strings.TrimSpace(req.SiteName) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "siteName is required for site exports")
		}
	case models.ExportTypeActivity:
		if !hasPeriod && !hasRange {
			return appErrors.Clone(appErrors.ErrInvalidPeriod, "provide month/year or startDate/endDate")
		}
		if hasRange {
			if _, err := period.ParseDateRange(req.StartDate, req.EndDate, s.cfg.Location); err != nil {
				return appErrors.Clone(appErrors.ErrInvalidPeriod, err.Error())
			}
		} else if _, err := period.New(req.Month, req.Year); err != nil {
			return appErrors.Clone(appErrors.ErrInvalidPeriod, err.Error())
		}
		if req.GroupBy != "" && req.GroupBy != dto.GroupBySite && req.GroupBy != dto.GroupByPatient {
			return appErrors.Clone(appErrors.ErrValidation, "groupBy must be site or patient")
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported export type")
	}
	return nil
}

func extractToken(url string) string {
	if url == "" {
		return ""
	}
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}

// ExportWorker bridges queue jobs to ExportService.
type ExportWorker struct {
	repo     exportJobStore
	exporter exportGenerator
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewExportWorker constructs a worker.
func NewExportWorker(repo exportJobStore, exporter exportGenerator, metrics *MetricsService, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{repo: repo, exporter: exporter, metrics: metrics, logger: logger}
}

// Handle processes a queue job. Failures that cannot succeed on retry mark the job
// failed immediately; others reset it to QUEUED and return the error so the queue retries.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			w.logger.Warn("export job vanished", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	processing := models.ExportStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}

	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		if permanentExportError(err) {
			w.markFailed(ctx, record, err)
			return nil
		}
		msg := err.Error()
		queued := models.ExportStatusQueued
		reset := 0
		if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &queued,
			Progress:     &reset,
			ErrorMessage: &msg,
		}); updateErr != nil {
			w.logger.Warn("failed to mark job queued", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		return err
	}

	finished := models.ExportStatusFinished
	progress = 100
	now := time.Now().UTC()
	url := result.URL
	noError := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &noError,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark job finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.metrics.RecordExportJob(record.Params.Format, models.ExportStatusFinished)
	w.logger.Info("export job finished", zap.String("job_id", job.ID), zap.String("path", result.RelativePath))
	return nil
}

// Fail marks a job FAILED once the queue has exhausted its retries.
func (w *ExportWorker) Fail(ctx context.Context, job jobs.Job, cause error) {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		w.logger.Warn("failed to load job for failure", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.markFailed(ctx, record, cause)
}

func (w *ExportWorker) markFailed(ctx context.Context, record *models.ExportJob, cause error) {
	failed := models.ExportStatusFailed
	progress := 100
	now := time.Now().UTC()
	msg := fmt.Sprintf("%v", cause)
	if err := w.repo.Update(ctx, record.ID, repository.UpdateExportJobParams{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark job failed", zap.String("job_id", record.ID), zap.Error(err))
	}
	w.metrics.RecordExportJob(record.Params.Format, models.ExportStatusFailed)
	w.logger.Error("export job failed", zap.String("job_id", record.ID), zap.Error(cause))
}

func permanentExportError(err error) bool {
	return errors.Is(err, appErrors.ErrNotFound) ||
		errors.Is(err, appErrors.ErrValidation) ||
		errors.Is(err, appErrors.ErrInvalidPeriod)
}
