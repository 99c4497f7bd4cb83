package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-outcomes-api/internal/bootstrap"
	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	"github.com/noah-isme/clinic-outcomes-api/internal/service"
	"github.com/noah-isme/clinic-outcomes-api/pkg/config"
	"github.com/noah-isme/clinic-outcomes-api/pkg/logger"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
)

const formatJSON = "json"

type reportService interface {
	CriteriaReport(ctx context.Context, p period.Period, siteName string) (*dto.CriteriaReportResponse, bool, error)
	SiteReport(ctx context.Context, p period.Period, siteName string) (*dto.SiteReportResponse, bool, error)
	ActivityReport(ctx context.Context, q service.ActivityReportQuery) (*dto.ActivityReportResponse, bool, error)
}

func newCriteriaCmd() *cobra.Command {
	var month, year int
	var site string
	cmd := &cobra.Command{
		Use:   "criteria",
		Short: "Criteria breakdown across sites for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := models.ExportJobParams{Month: month, Year: year, SiteName: strings.TrimSpace(site)}
			return execute(cmd.Context(), models.ExportTypeOutcomes, params)
		},
	}
	cmd.Flags().IntVarP(&month, "month", "m", 0, "Month 1-12 (required)")
	cmd.Flags().IntVarP(&year, "year", "y", 0, "Year (required)")
	cmd.Flags().StringVarP(&site, "site", "s", "", "Restrict to one site")
	_ = cmd.MarkFlagRequired("month")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newSiteCmd() *cobra.Command {
	var month, year int
	var site string
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Criteria breakdown for a single site",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := models.ExportJobParams{Month: month, Year: year, SiteName: strings.TrimSpace(site)}
			return execute(cmd.Context(), models.ExportTypeSite, params)
		},
	}
	cmd.Flags().IntVarP(&month, "month", "m", 0, "Month 1-12 (required)")
	cmd.Flags().IntVarP(&year, "year", "y", 0, "Year (required)")
	cmd.Flags().StringVarP(&site, "site", "s", "", "Site name (required)")
	_ = cmd.MarkFlagRequired("month")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func newActivityCmd() *cobra.Command {
	var month, year int
	var site, building, start, end, groupBy string
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Activity durations per patient or per site",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := models.ExportJobParams{
				Month:     month,
				Year:      year,
				SiteName:  strings.TrimSpace(site),
				Building:  strings.TrimSpace(building),
				StartDate: start,
				EndDate:   end,
				GroupBy:   groupBy,
			}
			return execute(cmd.Context(), models.ExportTypeActivity, params)
		},
	}
	cmd.Flags().IntVarP(&month, "month", "m", 0, "Month 1-12")
	cmd.Flags().IntVarP(&year, "year", "y", 0, "Year")
	cmd.Flags().StringVar(&start, "start", "", "Range start YYYY-MM-DD, overrides --month/--year")
	cmd.Flags().StringVar(&end, "end", "", "Range end YYYY-MM-DD")
	cmd.Flags().StringVarP(&site, "site", "s", "", "Site filter")
	cmd.Flags().StringVarP(&building, "building", "b", "", "Building filter")
	cmd.Flags().StringVarP(&groupBy, "group-by", "g", dto.GroupByPatient, "Group by patient or site")
	cmd.MarkFlagsRequiredTogether("start", "end")
	cmd.MarkFlagsRequiredTogether("month", "year")
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "cache-clear",
		Short: "Drop cached reports so the next request recomputes them",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch variant {
			case "", service.ReportVariantCriteria, service.ReportVariantSite, service.ReportVariantActivity:
			default:
				return fmt.Errorf("unknown variant %q", variant)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Reports.CacheEnabled = true
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logr.Sync() //nolint:errcheck

			deps, err := bootstrap.Build(cmd.Context(), cfg, nil, logr, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer deps.Close()
			if !deps.Cache.Enabled() {
				return fmt.Errorf("redis is not reachable")
			}
			if err := deps.Cache.InvalidateReports(cmd.Context(), variant); err != nil {
				return err
			}
			logr.Info("report cache cleared", zap.String("variant", variant))
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "criteria, site or activity; empty clears every variant")
	return cmd
}

func execute(ctx context.Context, kind models.ExportType, params models.ExportJobParams) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	deps, err := bootstrap.Build(ctx, cfg, nil, logr, bootstrap.Options{SkipCache: noCache})
	if err != nil {
		return err
	}
	defer deps.Close()

	started := time.Now()
	out, closeOut, err := openOutput(outFlag, formatFlag)
	if err != nil {
		return err
	}
	defer closeOut()

	if err := run(ctx, deps.Reports, cfg.Reports.Location(), kind, params, formatFlag, out); err != nil {
		return err
	}
	logr.Info("report written",
		zap.String("type", string(kind)),
		zap.String("format", formatFlag),
		zap.String("out", outFlag),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

// run computes the report and writes it to out as JSON or as a rendered export.
func run(ctx context.Context, reports reportService, loc *time.Location, kind models.ExportType, params models.ExportJobParams, format string, out io.Writer) error {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == formatJSON {
		payload, err := reportJSON(ctx, reports, loc, kind, params)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	params.Format = models.ExportFormat(format)
	exporter := service.NewExportService(reports, nil, nil, service.ExportConfig{Location: loc}, nil)
	payload, _, err := exporter.Render(ctx, kind, params)
	if err != nil {
		return err
	}
	_, err = out.Write(payload)
	return err
}

func reportJSON(ctx context.Context, reports reportService, loc *time.Location, kind models.ExportType, params models.ExportJobParams) (interface{}, error) {
	switch kind {
	case models.ExportTypeOutcomes, models.ExportTypeSite:
		p, err := period.New(params.Month, params.Year)
		if err != nil {
			return nil, err
		}
		if kind == models.ExportTypeSite {
			resp, _, err := reports.SiteReport(ctx, p, params.SiteName)
			return resp, err
		}
		resp, _, err := reports.CriteriaReport(ctx, p, params.SiteName)
		return resp, err
	case models.ExportTypeActivity:
		q, err := service.ActivityQueryFromParams(params, loc)
		if err != nil {
			return nil, err
		}
		resp, _, err := reports.ActivityReport(ctx, q)
		return resp, err
	default:
		return nil, fmt.Errorf("unsupported report type %q", kind)
	}
}

// openOutput resolves the destination. Binary formats refuse to write to a terminal stdout.
func openOutput(path, format string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		if format == string(models.ExportFormatPDF) || format == string(models.ExportFormatXLSX) {
			return nil, nil, fmt.Errorf("--out is required for %s output", format)
		}
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
