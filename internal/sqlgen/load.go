// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sqlgen

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/netSkope/prom-range-export/internal/config"
	"github.com/netSkope/prom-range-export/internal/exporter"
	"github.com/netSkope/prom-range-export/internal/store"
	"github.com/netSkope/prom-range-export/internal/util"
)

const insertBatchSize = 500

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertRows upserts rows for client in batches and returns the number of rows sent.
// Non-finite values are stored as NULL.
func InsertRows(ctx context.Context, db Execer, table, client string, rows []exporter.Row) (int64, error) {
	if err := ValidateTable(table); err != nil {
		return 0, err
	}

	var sent int64
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		batch := rows[start:end]

		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*4)
		for _, row := range batch {
			placeholders = append(placeholders, "(?, ?, ?, ?)")
			var count any = row.CallCount
			if math.IsNaN(row.CallCount) || math.IsInf(row.CallCount, 0) {
				count = nil
			}
			args = append(args, client, row.Date, row.Hour, count)
		}

		query := fmt.Sprintf("INSERT INTO `%s` (client, date, hour, call_count) VALUES %s "+
			"ON DUPLICATE KEY UPDATE call_count = VALUES(call_count)",
			table, strings.Join(placeholders, ", "))

		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return sent, fmt.Errorf("failed to insert rows %d-%d: %w", start+1, end, err)
		}
		sent += int64(len(batch))
	}
	return sent, nil
}

// openClient resolves the password and connects, retrying the ping with backoff.
func openClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.SQLClient, error) {
	pwd, err := util.ResolveDBPassword(ctx, cfg.DBSecret, cfg.DBRegion, util.StaticKeys{
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		SessionToken:    cfg.AWSSessionToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database password: %w", err)
	}

	var lastErr error
	delay := 1 * time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		client, err := store.NewSQLClient(cfg.GetDBHostPort(), cfg.DBUser, pwd, cfg.SQLExecTimeout, cfg.DBDatabase)
		if err == nil {
			logger.Info("Connected to MySQL successfully",
				zap.String("host", cfg.GetDBHostPort()),
				zap.String("database", cfg.DBDatabase))
			return client, nil
		}
		lastErr = err
		if attempt < 3 {
			logger.Warn("MySQL connection failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return nil, fmt.Errorf("failed to connect to MySQL after retries: %w", lastErr)
}

// ExecuteLoadDataSQL runs a LOAD DATA FROM S3 statement on Aurora MySQL.
func ExecuteLoadDataSQL(ctx context.Context, statement string, cfg *config.Config, logger *zap.Logger) error {
	client, err := openClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	return execLoadData(ctx, client.GetDB(), statement, cfg, logger)
}

func execLoadData(ctx context.Context, db Execer, statement string, cfg *config.Config, logger *zap.Logger) error {
	ddl, err := CreateTableSQL(cfg.SQLTable)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.SQLExecTimeout)*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", cfg.SQLTable, err)
	}

	logger.Info("Executing LOAD DATA FROM S3", zap.String("table", cfg.SQLTable))

	startTime := time.Now()
	res, err := db.ExecContext(ctx, statement)
	elapsed := time.Since(startTime)
	if err != nil {
		errorMsg := err.Error()
		if strings.Contains(errorMsg, "aurora_load_from_s3_role") || strings.Contains(errorMsg, "aws_default_s3_role") {
			logger.Error("LOAD DATA FROM S3 execution failed - Aurora MySQL IAM role not configured",
				zap.Duration("elapsed", elapsed),
				zap.String("error", errorMsg),
				zap.String("fix", "Configure aurora_load_from_s3_role or aws_default_s3_role on the Aurora MySQL cluster"))
		}
		return fmt.Errorf("LOAD DATA FROM S3 failed: %w", err)
	}

	affected, _ := res.RowsAffected()
	logger.Info("LOAD DATA FROM S3 completed",
		zap.Int64("rows_affected", affected),
		zap.Duration("elapsed", elapsed))
	return nil
}

// ExecuteInsert creates the table if needed and upserts rows directly.
func ExecuteInsert(ctx context.Context, rows []exporter.Row, cfg *config.Config, logger *zap.Logger) error {
	client, err := openClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	return insertAll(ctx, client.GetDB(), rows, cfg, logger)
}

func insertAll(ctx context.Context, db *sql.DB, rows []exporter.Row, cfg *config.Config, logger *zap.Logger) error {
	ddl, err := CreateTableSQL(cfg.SQLTable)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.SQLExecTimeout)*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", cfg.SQLTable, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	startTime := time.Now()
	sent, err := InsertRows(ctx, tx, cfg.SQLTable, cfg.Client, rows)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger.Info("Rows inserted",
		zap.String("table", cfg.SQLTable),
		zap.Int64("rows", sent),
		zap.Duration("elapsed", time.Since(startTime)))
	return nil
}
