// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package output

import (
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/netSkope/prom-range-export/internal/exporter"
)

// ParquetWriter writes rows as a Parquet file with the same three columns.
type ParquetWriter struct{}

func (ParquetWriter) Extension() string { return "parquet" }

func (ParquetWriter) Write(path string, rows []exporter.Row) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	return nil
}
