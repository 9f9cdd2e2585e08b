// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

// Row is one output record: a sample's local date, time of day and value.
type Row struct {
	Date      string  `json:"date" parquet:"date"`             // YYYY-MM-DD
	Hour      string  `json:"hour" parquet:"hour"`             // HH:MM
	CallCount float64 `json:"call_count" parquet:"call_count"` // 0 when the sample value was not numeric
}

// Fields is the output column order.
var Fields = []string{"date", "hour", "call_count"}

// Result is the outcome of a complete export run.
type Result struct {
	Rows          []Row
	Months        int // Calendar months queried
	CoercedValues int // Sample values that failed to parse and were written as 0
}
