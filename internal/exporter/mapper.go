// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/netSkope/prom-range-export/internal/prometheus"
)

const (
	dateLayout = "2006-01-02"
	hourLayout = "15:04"
)

// MapSamples converts raw samples to rows, preserving order.
// Timestamps are rendered in loc. A value that does not parse as a float is
// written as 0; the second return value counts how many were coerced.
// Out-of-range values keep the ±Inf or 0 that ParseFloat returns.
func MapSamples(samples []prometheus.Sample, loc *time.Location) ([]Row, int) {
	if loc == nil {
		loc = time.Local
	}

	rows := make([]Row, 0, len(samples))
	coerced := 0
	for _, s := range samples {
		ts := s.Time().In(loc)

		count, err := strconv.ParseFloat(strings.TrimSpace(s.Value), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			count = 0
			coerced++
		}

		rows = append(rows, Row{
			Date:      ts.Format(dateLayout),
			Hour:      ts.Format(hourLayout),
			CallCount: count,
		})
	}
	return rows, coerced
}
