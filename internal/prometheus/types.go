// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package prometheus

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Sample is one [timestamp, value] pair of a range query result.
// Value is kept as returned by the API; parsing is left to the caller.
type Sample struct {
	Timestamp float64 // Unix seconds
	Value     string
}

// Time returns the sample timestamp.
func (s Sample) Time() time.Time {
	sec, frac := math.Modf(s.Timestamp)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

// UnmarshalJSON decodes the [ts, "value"] array form.
// A non-string value is kept as its raw JSON text.
func (s *Sample) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("sample must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &s.Timestamp); err != nil {
		return fmt.Errorf("sample timestamp: %w", err)
	}

	var value string
	if err := json.Unmarshal(pair[1], &value); err == nil {
		s.Value = value
	} else {
		s.Value = string(pair[1])
	}
	return nil
}

// queryRangeResponse is the /api/v1/query_range envelope.
type queryRangeResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Values []Sample          `json:"values"`
		} `json:"result"`
	} `json:"data"`
}
