// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/netSkope/prom-range-export/internal/config"
	"github.com/netSkope/prom-range-export/internal/exporter"
)

// Writer persists exported rows to a file.
type Writer interface {
	Extension() string
	Write(path string, rows []exporter.Row) error
}

// NewWriter returns the writer for format (csv or parquet).
func NewWriter(format string) (Writer, error) {
	switch format {
	case config.FormatCSV, "":
		return CSVWriter{}, nil
	case config.FormatParquet:
		return ParquetWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// ensureDir creates the parent directory of path when absent.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return nil
}
