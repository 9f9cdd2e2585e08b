// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap/zaptest"

	"github.com/netSkope/prom-range-export/internal/config"
	"github.com/netSkope/prom-range-export/internal/output"
	"github.com/netSkope/prom-range-export/internal/prometheus"
	"github.com/netSkope/prom-range-export/internal/s3"
)

const januaryBody = `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{},"values":[[1704067200,"5"],[1704070800,"7"]]}]}}`

func promServer(t *testing.T, body string, status int, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// loadTestConfig clears the environment the loader reads and builds a config
// against url with output under a temporary directory.
func loadTestConfig(t *testing.T, url string, extra ...string) *config.Config {
	t.Helper()
	for _, key := range []string{"CLIENT", "STEP_HOURS", "OUTPUT_FORMAT", "S3_BUCKET", "EXECUTE_SQL", "LOAD_MODE", "MAX_RETRIES", "RETRY_DELAY", "OUTPUT_DIR", "TIMEZONE"} {
		t.Setenv(key, "")
	}
	args := []string{
		"-prometheus-url", url,
		"-query", "sum(increase(calls_total[1h]))",
		"-start-month", "2024-01",
		"-end-month", "2024-01",
		"-timezone", "UTC",
		"-output-dir", filepath.Join(t.TempDir(), "data"),
		"-retry-delay", "1ms",
		"-config-file", "",
		"-env-file", "",
	}
	cfg, err := config.LoadConfig(append(args, extra...))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	return cfg
}

func TestRun_WritesCSV(t *testing.T) {
	srv := promServer(t, januaryBody, http.StatusOK, nil)
	cfg := loadTestConfig(t, srv.URL)

	result, err := Run(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if filepath.Base(result.OutputPath) != "UNKNOWN_202401_202401.csv" {
		t.Errorf("unexpected output path %s", result.OutputPath)
	}
	if result.Rows != 2 || result.Months != 1 {
		t.Errorf("unexpected counters %+v", result)
	}

	got, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	want := "date,hour,call_count\n2024-01-01,00:00,5.0\n2024-01-01,01:00,7.0\n"
	if string(got) != want {
		t.Errorf("unexpected CSV:\n%s\nwant:\n%s", got, want)
	}

	dates, err := output.ReadCSV(result.OutputPath)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(dates) != 3 || dates[0] != "date" {
		t.Errorf("unexpected first column %v", dates)
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	var calls int32
	srv := promServer(t, `{"status":"error"}`, http.StatusInternalServerError, &calls)
	cfg := loadTestConfig(t, srv.URL, "-start-month", "2024-01", "-end-month", "2024-03")

	result, err := Run(context.Background(), cfg, zaptest.NewLogger(t))
	if !errors.Is(err, prometheus.ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if result != nil {
		t.Errorf("expected no result, got %+v", result)
	}
	// The run stops at the first month.
	if got := atomic.LoadInt32(&calls); got != int32(config.DefaultMaxRetries) {
		t.Errorf("expected %d requests, got %d", config.DefaultMaxRetries, got)
	}
	if _, err := os.Stat(cfg.OutputPath); !os.IsNotExist(err) {
		t.Errorf("no output file should be written, stat err = %v", err)
	}
}

func TestRun_NoData(t *testing.T) {
	srv := promServer(t, `{"status":"success","data":{"resultType":"matrix","result":[]}}`, http.StatusOK, nil)
	cfg := loadTestConfig(t, srv.URL)

	result, err := Run(context.Background(), cfg, zaptest.NewLogger(t))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if result == nil || result.Months != 1 || result.Rows != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	if _, err := os.Stat(cfg.OutputPath); !os.IsNotExist(err) {
		t.Errorf("no output file should be written, stat err = %v", err)
	}
}

func TestRun_Parquet(t *testing.T) {
	srv := promServer(t, januaryBody, http.StatusOK, nil)
	cfg := loadTestConfig(t, srv.URL, "-output-format", "parquet", "-client", "acme corp")

	result, err := Run(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if filepath.Base(result.OutputPath) != "ACME-CORP_202401_202401.parquet" {
		t.Errorf("unexpected output path %s", result.OutputPath)
	}
	if info, err := os.Stat(result.OutputPath); err != nil || info.Size() == 0 {
		t.Errorf("expected a non-empty parquet file, stat err = %v", err)
	}
}

type fakeUploadAPI struct {
	keys   []string
	bodies map[string]string
	fail   bool
}

func (f *fakeUploadAPI) Upload(_ context.Context, input *awss3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.fail {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(input.Key)
	f.keys = append(f.keys, key)
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[key] = string(body)
	return &manager.UploadOutput{Key: input.Key}, nil
}

func TestRun_UploadsToS3(t *testing.T) {
	srv := promServer(t, januaryBody, http.StatusOK, nil)
	cfg := loadTestConfig(t, srv.URL, "-s3-bucket", "exports", "-aws-region", "us-east-1", "-client", "acme")

	api := &fakeUploadAPI{}
	p := New(cfg, zaptest.NewLogger(t))
	p.uploader = s3.NewUploaderWithAPI(api, cfg, zaptest.NewLogger(t))

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantData := "promexport/ACME/ACME_202401_202401.csv"
	wantSQL := "promexport/sql/load-ACME_202401_202401.sql"
	if result.S3Key != wantData || result.SQLKey != wantSQL {
		t.Errorf("unexpected keys data=%s sql=%s", result.S3Key, result.SQLKey)
	}
	if len(api.keys) != 2 || api.keys[0] != wantData || api.keys[1] != wantSQL {
		t.Errorf("unexpected uploads %v", api.keys)
	}
	if api.bodies[wantData] != "date,hour,call_count\n2024-01-01,00:00,5.0\n2024-01-01,01:00,7.0\n" {
		t.Errorf("unexpected uploaded CSV %q", api.bodies[wantData])
	}
}

func TestRun_ParquetSkipsLoadDataFile(t *testing.T) {
	srv := promServer(t, januaryBody, http.StatusOK, nil)
	cfg := loadTestConfig(t, srv.URL, "-s3-bucket", "exports", "-aws-region", "us-east-1", "-output-format", "parquet")

	api := &fakeUploadAPI{}
	p := New(cfg, zaptest.NewLogger(t))
	p.uploader = s3.NewUploaderWithAPI(api, cfg, zaptest.NewLogger(t))

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(api.keys) != 1 || result.SQLKey != "" {
		t.Errorf("expected only the data upload, got %v", api.keys)
	}
}
