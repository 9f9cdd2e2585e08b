// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/netSkope/prom-range-export/internal/config"
	"github.com/netSkope/prom-range-export/internal/exporter"
	"github.com/netSkope/prom-range-export/internal/output"
	"github.com/netSkope/prom-range-export/internal/prometheus"
	"github.com/netSkope/prom-range-export/internal/s3"
	"github.com/netSkope/prom-range-export/internal/sqlgen"
)

// ErrNoData is returned when the run completed but produced no rows.
var ErrNoData = errors.New("no data to write")

// Result summarizes a run.
type Result struct {
	Rows          int
	Months        int
	CoercedValues int
	OutputPath    string
	S3Key         string // Empty when no upload happened
	SQLKey        string // Empty unless a LOAD DATA file was uploaded
	SQLErr        error  // SQL execution failure; does not fail the run
}

// Pipeline runs one export: fetch, write, then the optional S3 and SQL sinks.
type Pipeline struct {
	cfg      *config.Config
	logger   *zap.Logger
	querier  exporter.RangeQuerier
	uploader *s3.Uploader
}

// New builds a pipeline that queries cfg.PrometheusURL.
func New(cfg *config.Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		querier: prometheus.NewClient(cfg.PrometheusURL, logger,
			prometheus.WithMaxRetries(cfg.MaxRetries),
			prometheus.WithRetryDelay(cfg.RetryDelay)),
	}
}

// Run builds a pipeline from cfg and runs it.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Result, error) {
	return New(cfg, logger).Run(ctx)
}

// Run executes the pipeline. A fetch failure aborts before anything is
// written and is returned as is, so callers can test for
// prometheus.ErrMaxRetriesExceeded.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	exp := exporter.NewExporter(p.cfg, p.querier, p.logger)
	collected, err := exp.Run(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Rows:          len(collected.Rows),
		Months:        collected.Months,
		CoercedValues: collected.CoercedValues,
	}

	if len(collected.Rows) == 0 {
		return result, ErrNoData
	}

	writer, err := output.NewWriter(p.cfg.OutputFormat)
	if err != nil {
		return result, err
	}
	if err := writer.Write(p.cfg.OutputPath, collected.Rows); err != nil {
		return result, fmt.Errorf("failed to write output: %w", err)
	}
	result.OutputPath = p.cfg.OutputPath

	p.logger.Info("Output saved",
		zap.String("path", p.cfg.OutputPath),
		zap.String("format", writer.Extension()),
		zap.Int("rows", len(collected.Rows)))

	if p.cfg.S3Bucket != "" {
		if err := p.upload(ctx, result); err != nil {
			return result, err
		}
	}

	if p.cfg.ExecuteSQL {
		if err := p.load(ctx, result, collected.Rows); err != nil {
			// The file is already written and uploaded; report and carry on.
			p.logger.Error("SQL execution failed", zap.Error(err))
			result.SQLErr = err
		}
	}

	return result, nil
}

// upload ships the output file and, in load-mode s3, the LOAD DATA statement.
func (p *Pipeline) upload(ctx context.Context, result *Result) error {
	if p.uploader == nil {
		u, err := s3.NewUploader(ctx, p.cfg, p.logger)
		if err != nil {
			return fmt.Errorf("failed to create S3 uploader: %w", err)
		}
		p.uploader = u
	}

	key := p.uploader.ObjectKey(p.cfg.OutputPath)
	if err := p.uploader.UploadFileWithRetry(ctx, p.cfg.OutputPath, key); err != nil {
		return fmt.Errorf("failed to upload output: %w", err)
	}
	result.S3Key = key

	if p.cfg.LoadMode == config.LoadModeS3 && p.cfg.OutputFormat == config.FormatCSV {
		_, sqlKey, err := sqlgen.GenerateAndUploadSQL(ctx, key, p.cfg, p.uploader, p.logger)
		if err != nil {
			return err
		}
		result.SQLKey = sqlKey
	}
	return nil
}

// load runs the configured SQL load mode.
func (p *Pipeline) load(ctx context.Context, result *Result, rows []exporter.Row) error {
	switch p.cfg.LoadMode {
	case config.LoadModeInsert:
		return sqlgen.ExecuteInsert(ctx, rows, p.cfg, p.logger)
	case config.LoadModeS3:
		if result.S3Key == "" {
			return fmt.Errorf("load-mode s3 requires an uploaded output file")
		}
		statement, err := sqlgen.GenerateLoadDataSQL(result.S3Key, p.cfg)
		if err != nil {
			return err
		}
		return sqlgen.ExecuteLoadDataSQL(ctx, statement, p.cfg, p.logger)
	default:
		return fmt.Errorf("unsupported load mode: %s", p.cfg.LoadMode)
	}
}
