// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package output

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/netSkope/prom-range-export/internal/exporter"
)

// CSVWriter writes rows with a date,hour,call_count header.
type CSVWriter struct{}

func (CSVWriter) Extension() string { return "csv" }

// Write creates or truncates path and writes the header followed by one
// record per row.
func (CSVWriter) Write(path string, rows []exporter.Row) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exporter.Fields); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Date, row.Hour, FormatCount(row.CallCount)}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return f.Close()
}

// FormatCount renders a value the way downstream consumers of these files
// expect: integral values keep a trailing ".0" (5 -> "5.0"), very large or
// small magnitudes use exponent notation ("1e+16") and non-finite values are
// written as nan, inf and -inf.
func FormatCount(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	sci := strconv.FormatFloat(v, 'e', -1, 64)
	if i := strings.IndexByte(sci, 'e'); i >= 0 {
		if exp, err := strconv.Atoi(sci[i+1:]); err == nil && (exp < -4 || exp >= 16) {
			return sci
		}
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ReadCSV returns the first field of every record in path, header included.
func ReadCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}

	first := make([]string, 0, len(records))
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		first = append(first, rec[0])
	}
	return first, nil
}
