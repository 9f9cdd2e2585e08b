// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sqlgen

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/netSkope/prom-range-export/internal/config"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// FileUploader uploads a local file to an object key.
type FileUploader interface {
	UploadFileWithRetry(ctx context.Context, filePath, s3Key string) error
}

// ValidateTable rejects table names that are not plain identifiers.
func ValidateTable(table string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// quote escapes a string literal for single-quoted SQL.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// CreateTableSQL returns the DDL for the hourly table.
// Rows are keyed by client, date and hour so reloads replace or skip duplicates.
func CreateTableSQL(table string) (string, error) {
	if err := ValidateTable(table); err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (\n"+
		"  client VARCHAR(128) NOT NULL,\n"+
		"  date DATE NOT NULL,\n"+
		"  hour CHAR(5) NOT NULL,\n"+
		"  call_count DOUBLE NULL,\n"+
		"  PRIMARY KEY (client, date, hour)\n"+
		");", table), nil
}

// GenerateLoadDataSQL generates the Aurora MySQL LOAD DATA FROM S3 statement
// for an uploaded CSV file.
func GenerateLoadDataSQL(s3Key string, cfg *config.Config) (string, error) {
	if err := ValidateTable(cfg.SQLTable); err != nil {
		return "", err
	}
	s3Path := fmt.Sprintf("s3://%s/%s", cfg.S3Bucket, s3Key)
	// IGNORE skips rows already loaded for the same client, date and hour
	return fmt.Sprintf(`LOAD DATA FROM S3 %s
IGNORE
INTO TABLE %s
FIELDS TERMINATED BY ','
OPTIONALLY ENCLOSED BY '"'
LINES TERMINATED BY '\n'
IGNORE 1 LINES
(date, hour, call_count)
SET client = %s;`,
		quote(s3Path), cfg.SQLTable, quote(cfg.Client)), nil
}

// SQLFileKey returns <prefix>/sql/load-<output file stem>.sql.
func SQLFileKey(cfg *config.Config) string {
	stem := strings.TrimSuffix(cfg.OutputFileName(), path.Ext(cfg.OutputFileName()))
	return path.Join(cfg.S3Prefix, "sql", "load-"+stem+".sql")
}

// GenerateAndUploadSQL generates the load statement for s3Key and uploads it
// next to the data. Returns the statement and the S3 key of the SQL file.
func GenerateAndUploadSQL(ctx context.Context, s3Key string, cfg *config.Config, uploader FileUploader, logger *zap.Logger) (string, string, error) {
	statement, err := GenerateLoadDataSQL(s3Key, cfg)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate SQL: %w", err)
	}

	sqlKey := SQLFileKey(cfg)

	logger.Info("Uploading SQL file to S3",
		zap.String("s3_key", sqlKey),
		zap.String("data_key", s3Key))

	tmpFile, err := os.CreateTemp("", "load-*.sql")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpFilePath := tmpFile.Name()
	defer os.Remove(tmpFilePath)

	if _, err := tmpFile.WriteString(statement + "\n"); err != nil {
		tmpFile.Close()
		return "", "", fmt.Errorf("failed to write SQL to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := uploader.UploadFileWithRetry(ctx, tmpFilePath, sqlKey); err != nil {
		return "", "", fmt.Errorf("failed to upload SQL file to S3: %w", err)
	}

	logger.Info("SQL file uploaded to S3", zap.String("s3_key", sqlKey))

	return statement, sqlKey, nil
}
