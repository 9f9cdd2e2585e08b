// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"

	"go.uber.org/zap"

	"github.com/netSkope/prom-range-export/internal/config"
	promlog "github.com/netSkope/prom-range-export/internal/log"
	"github.com/netSkope/prom-range-export/internal/pipeline"
	"github.com/netSkope/prom-range-export/internal/prometheus"
	"github.com/netSkope/prom-range-export/internal/sqlgen"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := promlog.NewLogger(cfg.LogDir, "promexport", cfg.Debug, cfg.LogDir == "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting export",
		zap.String("client", cfg.Client),
		zap.String("start_month", cfg.StartMonth),
		zap.String("end_month", cfg.EndMonth),
		zap.Int("step_hours", cfg.StepHours),
		zap.String("timezone", cfg.Location.String()))

	result, err := pipeline.Run(context.Background(), cfg, logger)
	switch {
	case errors.Is(err, prometheus.ErrMaxRetriesExceeded):
		logger.Error("Fatal error during data collection", zap.Error(err))
		return
	case errors.Is(err, pipeline.ErrNoData):
		logger.Warn("No data to write",
			zap.Int("months", result.Months))
		return
	case err != nil:
		logger.Error("Export failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	printSummary(cfg, result)

	logger.Info("Export completed successfully")
}

func printSummary(cfg *config.Config, result *pipeline.Result) {
	fmt.Printf("\n=== Export Summary ===\n")
	fmt.Printf("Client: %s\n", cfg.Client)
	fmt.Printf("Months: %s to %s (%d)\n", cfg.StartMonth, cfg.EndMonth, result.Months)
	fmt.Printf("Rows written: %d\n", result.Rows)
	if result.CoercedValues > 0 {
		fmt.Printf("Non-numeric values written as 0: %d\n", result.CoercedValues)
	}
	fmt.Printf("Output file: %s\n", result.OutputPath)

	if result.S3Key != "" {
		fmt.Printf("S3 object: s3://%s/%s\n", cfg.S3Bucket, result.S3Key)
	}
	if result.SQLKey != "" {
		fmt.Printf("SQL file S3 key: %s\n", result.SQLKey)
	}

	switch {
	case cfg.ExecuteSQL && result.SQLErr != nil:
		fmt.Printf("SQL execution: Failed (%v)\n", result.SQLErr)
	case cfg.ExecuteSQL:
		fmt.Printf("SQL execution: Completed (%s into %s)\n", cfg.LoadMode, cfg.SQLTable)
	default:
		fmt.Printf("SQL execution: Skipped (use -execute-sql to enable)\n")
		if !cfg.Quiet && result.SQLKey != "" {
			printNextSteps(cfg, result)
		}
	}
	fmt.Printf("======================\n")
}

func printNextSteps(cfg *config.Config, result *pipeline.Result) {
	file := path.Base(result.SQLKey)

	fmt.Printf("\n=== Next Steps: Load into Aurora MySQL ===\n")
	fmt.Printf("1. Download SQL file from S3:\n")
	fmt.Printf("   aws s3 cp s3://%s/%s ./%s --region %s\n", cfg.S3Bucket, result.SQLKey, file, cfg.AWSRegion)
	fmt.Printf("\n2. Connect to Aurora MySQL:\n")
	if cfg.DBHost != "" {
		fmt.Printf("   mysql -h %s", cfg.DBHost)
		if cfg.DBPort > 0 && cfg.DBPort != config.DefaultDBPort {
			fmt.Printf(" -P %d", cfg.DBPort)
		}
		fmt.Printf(" -u %s -D %s\n", cfg.DBUser, cfg.DBDatabase)
	} else {
		fmt.Printf("   mysql -h <aurora-host> -u <user> -D %s\n", cfg.DBDatabase)
	}
	fmt.Printf("\n3. Create the table if needed and execute the SQL file:\n")
	if ddl, err := sqlgen.CreateTableSQL(cfg.SQLTable); err == nil {
		fmt.Printf("%s\n", ddl)
	}
	fmt.Printf("   mysql ... < ./%s\n", file)
	fmt.Printf("\nAurora MySQL needs aurora_load_from_s3_role or aws_default_s3_role with read access to %s.\n", cfg.S3Bucket)
}
