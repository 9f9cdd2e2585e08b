// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sqlgen

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/netSkope/prom-range-export/internal/config"
	"github.com/netSkope/prom-range-export/internal/exporter"
)

func testConfig() *config.Config {
	return &config.Config{
		Client:         "ACME-CORP",
		S3Bucket:       "test-bucket",
		S3Prefix:       "promexport",
		SQLTable:       "prometheus_hourly",
		OutputFormat:   config.FormatCSV,
		StartDate:      time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		SQLExecTimeout: 30,
	}
}

func TestGenerateLoadDataSQL(t *testing.T) {
	cfg := testConfig()

	stmt, err := GenerateLoadDataSQL("promexport/ACME-CORP/ACME-CORP_202401_202403.csv", cfg)
	if err != nil {
		t.Fatalf("GenerateLoadDataSQL() error = %v", err)
	}

	for _, want := range []string{
		"LOAD DATA FROM S3 's3://test-bucket/promexport/ACME-CORP/ACME-CORP_202401_202403.csv'",
		"IGNORE\nINTO TABLE prometheus_hourly",
		"IGNORE 1 LINES",
		"(date, hour, call_count)",
		"SET client = 'ACME-CORP';",
	} {
		if !strings.Contains(stmt, want) {
			t.Errorf("SQL should contain %q\n%s", want, stmt)
		}
	}
}

func TestGenerateLoadDataSQL_EscapesClient(t *testing.T) {
	cfg := testConfig()
	cfg.Client = "O'BRIEN"

	stmt, err := GenerateLoadDataSQL("k.csv", cfg)
	if err != nil {
		t.Fatalf("GenerateLoadDataSQL() error = %v", err)
	}
	if !strings.Contains(stmt, "SET client = 'O''BRIEN';") {
		t.Errorf("client literal not escaped:\n%s", stmt)
	}
}

func TestGenerateLoadDataSQL_InvalidTable(t *testing.T) {
	cfg := testConfig()
	cfg.SQLTable = "hourly; DROP TABLE users"

	if _, err := GenerateLoadDataSQL("k.csv", cfg); err == nil {
		t.Error("expected error for invalid table name")
	}
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		table   string
		wantErr bool
	}{
		{"prometheus_hourly", false},
		{"_t1", false},
		{"", true},
		{"1table", true},
		{"db.table", true},
		{"bad`name", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		if err := ValidateTable(tt.table); (err != nil) != tt.wantErr {
			t.Errorf("ValidateTable(%q) error = %v, wantErr %v", tt.table, err, tt.wantErr)
		}
	}
}

func TestCreateTableSQL(t *testing.T) {
	ddl, err := CreateTableSQL("prometheus_hourly")
	if err != nil {
		t.Fatalf("CreateTableSQL() error = %v", err)
	}
	if !strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS `prometheus_hourly`") {
		t.Errorf("unexpected DDL prefix:\n%s", ddl)
	}
	if !strings.Contains(ddl, "PRIMARY KEY (client, date, hour)") {
		t.Errorf("DDL should key on client, date and hour:\n%s", ddl)
	}
}

func TestSQLFileKey(t *testing.T) {
	if got := SQLFileKey(testConfig()); got != "promexport/sql/load-ACME-CORP_202401_202403.sql" {
		t.Errorf("SQLFileKey() = %s", got)
	}
}

type recordingUploader struct {
	key     string
	content string
	err     error
}

func (r *recordingUploader) UploadFileWithRetry(_ context.Context, filePath, s3Key string) error {
	if r.err != nil {
		return r.err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	r.key = s3Key
	r.content = string(data)
	return nil
}

func TestGenerateAndUploadSQL(t *testing.T) {
	up := &recordingUploader{}
	cfg := testConfig()

	statement, key, err := GenerateAndUploadSQL(context.Background(), "promexport/ACME-CORP/x.csv", cfg, up, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("GenerateAndUploadSQL() error = %v", err)
	}
	if key != "promexport/sql/load-ACME-CORP_202401_202403.sql" || up.key != key {
		t.Errorf("unexpected key %q (uploaded as %q)", key, up.key)
	}
	if up.content != statement+"\n" {
		t.Errorf("uploaded content does not match statement:\n%s", up.content)
	}
}

func TestGenerateAndUploadSQL_UploadError(t *testing.T) {
	up := &recordingUploader{err: errors.New("access denied")}

	_, _, err := GenerateAndUploadSQL(context.Background(), "k.csv", testConfig(), up, zaptest.NewLogger(t))
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("expected wrapped upload error, got %v", err)
	}
}

type execCall struct {
	query string
	args  []any
}

type recordingExecer struct {
	calls  []execCall
	failAt int
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.calls = append(r.calls, execCall{query: query, args: args})
	if r.failAt > 0 && len(r.calls) == r.failAt {
		return nil, errors.New("deadlock found")
	}
	return nil, nil
}

func makeRows(n int) []exporter.Row {
	rows := make([]exporter.Row, n)
	for i := range rows {
		rows[i] = exporter.Row{Date: "2024-01-01", Hour: "00:00", CallCount: float64(i)}
	}
	return rows
}

func TestInsertRows_Batches(t *testing.T) {
	db := &recordingExecer{}

	sent, err := InsertRows(context.Background(), db, "prometheus_hourly", "ACME-CORP", makeRows(insertBatchSize+1))
	if err != nil {
		t.Fatalf("InsertRows() error = %v", err)
	}
	if sent != insertBatchSize+1 {
		t.Errorf("sent = %d, want %d", sent, insertBatchSize+1)
	}
	if len(db.calls) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(db.calls))
	}
	if len(db.calls[0].args) != insertBatchSize*4 || len(db.calls[1].args) != 4 {
		t.Errorf("unexpected arg counts %d and %d", len(db.calls[0].args), len(db.calls[1].args))
	}
	q := db.calls[1].query
	if !strings.HasPrefix(q, "INSERT INTO `prometheus_hourly` (client, date, hour, call_count) VALUES (?, ?, ?, ?) ") {
		t.Errorf("unexpected query: %s", q)
	}
	if !strings.HasSuffix(q, "ON DUPLICATE KEY UPDATE call_count = VALUES(call_count)") {
		t.Errorf("query should upsert: %s", q)
	}
	if db.calls[1].args[0] != "ACME-CORP" {
		t.Errorf("first arg should be the client, got %v", db.calls[1].args[0])
	}
}

func TestInsertRows_NonFiniteAsNull(t *testing.T) {
	db := &recordingExecer{}
	rows := []exporter.Row{
		{Date: "2024-01-01", Hour: "00:00", CallCount: math.NaN()},
		{Date: "2024-01-01", Hour: "01:00", CallCount: math.Inf(1)},
	}

	if _, err := InsertRows(context.Background(), db, "t", "C", rows); err != nil {
		t.Fatalf("InsertRows() error = %v", err)
	}
	args := db.calls[0].args
	if args[3] != nil || args[7] != nil {
		t.Errorf("expected NULL for non-finite values, got %v and %v", args[3], args[7])
	}
}

func TestInsertRows_Error(t *testing.T) {
	db := &recordingExecer{failAt: 2}

	sent, err := InsertRows(context.Background(), db, "t", "C", makeRows(insertBatchSize*3))
	if err == nil {
		t.Fatal("expected error")
	}
	if sent != insertBatchSize {
		t.Errorf("sent = %d, want %d", sent, insertBatchSize)
	}
	if len(db.calls) != 2 {
		t.Errorf("expected to stop after the failing batch, got %d calls", len(db.calls))
	}
}

func TestInsertRows_Empty(t *testing.T) {
	db := &recordingExecer{}
	sent, err := InsertRows(context.Background(), db, "t", "C", nil)
	if err != nil || sent != 0 || len(db.calls) != 0 {
		t.Errorf("expected no-op, got sent=%d calls=%d err=%v", sent, len(db.calls), err)
	}
}

func TestExecLoadData(t *testing.T) {
	db := &recordingExecer{}
	cfg := testConfig()

	if err := execLoadData(context.Background(), resultExecer{db}, "LOAD DATA FROM S3 'x'", cfg, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("execLoadData() error = %v", err)
	}
	if len(db.calls) != 2 {
		t.Fatalf("expected DDL then load, got %d calls", len(db.calls))
	}
	if !strings.HasPrefix(db.calls[0].query, "CREATE TABLE IF NOT EXISTS") {
		t.Errorf("first statement should be DDL, got %s", db.calls[0].query)
	}
	if db.calls[1].query != "LOAD DATA FROM S3 'x'" {
		t.Errorf("second statement should be the load, got %s", db.calls[1].query)
	}
}

func TestExecLoadData_Error(t *testing.T) {
	db := &recordingExecer{failAt: 2}
	err := execLoadData(context.Background(), resultExecer{db}, "LOAD", testConfig(), zaptest.NewLogger(t))
	if err == nil || !strings.Contains(err.Error(), "LOAD DATA FROM S3 failed") {
		t.Errorf("expected load failure, got %v", err)
	}
}

// resultExecer wraps recordingExecer and returns a usable sql.Result.
type resultExecer struct {
	*recordingExecer
}

type fixedResult int64

func (r fixedResult) LastInsertId() (int64, error) { return 0, nil }
func (r fixedResult) RowsAffected() (int64, error) { return int64(r), nil }

func (r resultExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if _, err := r.recordingExecer.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	return fixedResult(3), nil
}
