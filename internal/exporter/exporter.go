// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/netSkope/prom-range-export/internal/config"
	"github.com/netSkope/prom-range-export/internal/month"
	"github.com/netSkope/prom-range-export/internal/prometheus"
	"go.uber.org/zap"
)

// RangeQuerier fetches the samples of one query over [start, end).
// This allows mocking in tests.
type RangeQuerier interface {
	QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]prometheus.Sample, error)
}

// Exporter walks the configured month range and collects rows.
type Exporter struct {
	querier RangeQuerier
	config  *config.Config
	logger  *zap.Logger
}

// NewExporter creates a new exporter.
func NewExporter(cfg *config.Config, querier RangeQuerier, logger *zap.Logger) *Exporter {
	return &Exporter{
		querier: querier,
		config:  cfg,
		logger:  logger,
	}
}

// Run queries every calendar month from StartDate through EndDate, one after
// the other, and returns all rows in month order.
// A failed month aborts the run and no rows are returned, including rows
// collected for earlier months.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	windows, err := month.Split(e.config.StartDate, e.config.EndDate, e.config.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to split month range: %w", err)
	}

	result := &Result{Months: len(windows)}

	for _, w := range windows {
		e.logger.Info("Processing",
			zap.String("month", w.Label()),
			zap.Int("window", w.Index+1),
			zap.Int("total_windows", len(windows)))

		samples, err := e.querier.QueryRange(ctx, e.config.Query, w.Start, w.End, e.config.Step)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", w.Label(), err)
		}

		rows, coerced := MapSamples(samples, e.config.Location)
		if coerced > 0 {
			e.logger.Warn("Non-numeric sample values written as 0",
				zap.String("month", w.Label()),
				zap.Int("coerced", coerced),
				zap.Int("samples", len(samples)))
		}

		result.Rows = append(result.Rows, rows...)
		result.CoercedValues += coerced

		e.logger.Debug("Month collected",
			zap.String("month", w.Label()),
			zap.Int("rows", len(rows)),
			zap.Int("total_rows", len(result.Rows)))
	}

	return result, nil
}
