// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/netSkope/prom-range-export/internal/util"
)

const (
	DefaultClient       = "UNKNOWN"
	DefaultStepHours    = 1
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultOutputDir    = "data"
	DefaultOutputFormat = FormatCSV
	DefaultS3Prefix     = "promexport"
	DefaultSQLTable     = "prometheus_hourly"
	DefaultDBDatabase   = "metrics"
	DefaultDBPort       = 3306

	FormatCSV     = "csv"
	FormatParquet = "parquet"

	LoadModeS3     = "s3"
	LoadModeInsert = "insert"

	monthLayout = "2006-01"
)

// Config holds all configuration for a single export run.
// It is built once by LoadConfig and not modified afterwards.
type Config struct {
	// Prometheus source
	PrometheusURL string
	Query         string
	Client        string // Normalized: spaces replaced with "-", upper-cased
	StartMonth    string // YYYY-MM
	EndMonth      string // YYYY-MM
	StepHours     int    // Default: 1

	// Retry policy for range queries
	MaxRetries int           // Default: 3
	RetryDelay time.Duration // Default: 2s

	// Output
	OutputDir    string // Default: "data"
	OutputFormat string // csv | parquet
	Timezone     string // IANA name, empty means process local time

	// Derived values
	Step       time.Duration
	Location   *time.Location
	StartDate  time.Time // First day of StartMonth
	EndDate    time.Time // First day of EndMonth
	OutputPath string

	// Logging
	LogDir string // Empty logs to stdout
	Debug  bool

	// S3 Configuration (upload is skipped when S3Bucket is empty)
	S3Bucket           string
	S3Prefix           string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string

	// SQL load
	SQLTable       string
	LoadMode       string // s3 | insert
	ExecuteSQL     bool
	DBHost         string
	DBPort         int
	DBUser         string
	DBDatabase     string
	DBSecret       string // AWS Secrets Manager secret name
	DBRegion       string // AWS region for Secrets Manager
	SQLExecTimeout int    // Seconds. Default: 300

	// Output Control
	Quiet bool
}

// LoadConfig loads configuration from CLI flags, environment variables, a YAML file and .env files.
// Priority: CLI flags > environment variables > YAML file > .env file > defaults
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("promexport", flag.ContinueOnError)

	prometheusURL := fs.String("prometheus-url", "", "Prometheus base URL")
	query := fs.String("query", "", "PromQL query to export")
	client := fs.String("client", "", "Client name used in the output file name (default: UNKNOWN)")
	startMonth := fs.String("start-month", "", "First month to export (YYYY-MM)")
	endMonth := fs.String("end-month", "", "Last month to export, inclusive (YYYY-MM)")
	stepHours := fs.Int("step-hours", 0, "Query step in hours (default: 1)")
	maxRetries := fs.Int("max-retries", 0, "Attempts per month before giving up (default: 3)")
	retryDelay := fs.Duration("retry-delay", 0, "Delay between attempts (default: 2s)")
	timezone := fs.String("timezone", "", "Timezone for month boundaries and row dates (default: local)")
	outputDir := fs.String("output-dir", "", "Output directory (default: data)")
	outputFormat := fs.String("output-format", "", "Output format: csv or parquet (default: csv)")
	logDir := fs.String("log-dir", "", "Write logs to <log-dir>/promexport.log instead of stdout")
	debug := fs.Bool("debug", false, "Enable debug logging")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket to upload the output file to (optional)")
	s3Prefix := fs.String("s3-prefix", "", "S3 key prefix (default: promexport)")
	awsRegion := fs.String("aws-region", "", "AWS region")
	awsAccessKeyID := fs.String("aws-access-key-id", "", "AWS access key ID (optional)")
	awsSecretAccessKey := fs.String("aws-secret-access-key", "", "AWS secret access key (optional)")
	awsSessionToken := fs.String("aws-session-token", "", "AWS session token (optional)")
	sqlTable := fs.String("sql-table", "", "Target table (default: prometheus_hourly)")
	loadMode := fs.String("load-mode", "", "SQL load mode: s3 (LOAD DATA FROM S3) or insert (default: s3)")
	executeSQL := fs.Bool("execute-sql", false, "Load the exported rows into MySQL")
	dbHost := fs.String("db-host", "", "MySQL host")
	dbPort := fs.Int("db-port", 0, "MySQL port (default: 3306)")
	dbUser := fs.String("db-user", "", "MySQL username")
	dbDatabase := fs.String("db-database", "", "MySQL database (default: metrics)")
	dbSecret := fs.String("db-secret", "", "AWS Secrets Manager secret holding the MySQL password")
	dbRegion := fs.String("db-region", "", "AWS region for Secrets Manager")
	sqlExecTimeout := fs.Int("sql-exec-timeout", 0, "SQL execution timeout in seconds (default: 300)")
	quiet := fs.Bool("quiet", false, "Suppress 'Next Steps' instructions")
	configFile := fs.String("config-file", "promexport.yaml", "Config file path")
	envFile := fs.String("env-file", ".env", "dotenv file path")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	loadDotEnv(*envFile)

	cfg := &Config{}

	// Load from YAML file if it exists
	if *configFile != "" {
		if err := loadFromYAML(cfg, *configFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Override with CLI flags (highest priority)
	setString(&cfg.PrometheusURL, *prometheusURL)
	setString(&cfg.Query, *query)
	setString(&cfg.Client, *client)
	setString(&cfg.StartMonth, *startMonth)
	setString(&cfg.EndMonth, *endMonth)
	setInt(&cfg.StepHours, *stepHours)
	setInt(&cfg.MaxRetries, *maxRetries)
	if *retryDelay > 0 {
		cfg.RetryDelay = *retryDelay
	}
	setString(&cfg.Timezone, *timezone)
	setString(&cfg.OutputDir, *outputDir)
	setString(&cfg.OutputFormat, *outputFormat)
	setString(&cfg.LogDir, *logDir)
	if *debug {
		cfg.Debug = true
	}
	setString(&cfg.S3Bucket, *s3Bucket)
	setString(&cfg.S3Prefix, *s3Prefix)
	setString(&cfg.AWSRegion, *awsRegion)
	setString(&cfg.AWSAccessKeyID, *awsAccessKeyID)
	setString(&cfg.AWSSecretAccessKey, *awsSecretAccessKey)
	setString(&cfg.AWSSessionToken, *awsSessionToken)
	setString(&cfg.SQLTable, *sqlTable)
	setString(&cfg.LoadMode, *loadMode)
	if *executeSQL {
		cfg.ExecuteSQL = true
	}
	setString(&cfg.DBHost, *dbHost)
	setInt(&cfg.DBPort, *dbPort)
	setString(&cfg.DBUser, *dbUser)
	setString(&cfg.DBDatabase, *dbDatabase)
	setString(&cfg.DBSecret, *dbSecret)
	setString(&cfg.DBRegion, *dbRegion)
	setInt(&cfg.SQLExecTimeout, *sqlExecTimeout)
	if *quiet {
		cfg.Quiet = true
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.derive(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.PrometheusURL = strings.TrimRight(strings.TrimSpace(c.PrometheusURL), "/")
	if c.Client == "" {
		c.Client = DefaultClient
	}
	c.Client = NormalizeClient(c.Client)
	if c.StepHours == 0 {
		c.StepHours = DefaultStepHours
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	c.OutputFormat = strings.ToLower(c.OutputFormat)
	if c.OutputFormat == "" {
		c.OutputFormat = DefaultOutputFormat
	}
	if c.S3Prefix == "" {
		c.S3Prefix = DefaultS3Prefix
	}
	if c.SQLTable == "" {
		c.SQLTable = DefaultSQLTable
	}
	c.LoadMode = strings.ToLower(c.LoadMode)
	if c.LoadMode == "" {
		c.LoadMode = LoadModeS3
	}
	if c.DBPort == 0 {
		c.DBPort = DefaultDBPort
	}
	if c.DBDatabase == "" {
		c.DBDatabase = DefaultDBDatabase
	}
	if c.SQLExecTimeout == 0 {
		c.SQLExecTimeout = 300
	}
}

// validate checks required fields and cross-field constraints.
func (c *Config) validate() error {
	if c.PrometheusURL == "" {
		return fmt.Errorf("prometheus-url is required (PROMETHEUS_URL)")
	}
	if c.Query == "" {
		return fmt.Errorf("query is required (QUERY)")
	}
	if c.StartMonth == "" {
		return fmt.Errorf("start-month is required (START_MONTH)")
	}
	if c.EndMonth == "" {
		return fmt.Errorf("end-month is required (END_MONTH)")
	}
	if c.StepHours < 1 {
		return fmt.Errorf("step-hours must be at least 1, got %d", c.StepHours)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max-retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry-delay must not be negative, got %s", c.RetryDelay)
	}
	if c.OutputFormat != FormatCSV && c.OutputFormat != FormatParquet {
		return fmt.Errorf("unsupported output-format %q (must be csv or parquet)", c.OutputFormat)
	}
	if c.LoadMode != LoadModeS3 && c.LoadMode != LoadModeInsert {
		return fmt.Errorf("unsupported load-mode %q (must be s3 or insert)", c.LoadMode)
	}

	if c.S3Bucket != "" && c.AWSRegion == "" {
		return fmt.Errorf("aws-region is required when s3-bucket is set")
	}

	// Validate DB connection if execute-sql is set
	if c.ExecuteSQL {
		if c.DBHost == "" {
			return fmt.Errorf("db-host is required when -execute-sql is set")
		}
		if c.DBUser == "" {
			return fmt.Errorf("db-user is required when -execute-sql is set")
		}
		if _, ok := os.LookupEnv(util.SQLPasswordEnv); !ok {
			if c.DBSecret == "" {
				return fmt.Errorf("db-secret is required when -execute-sql is set")
			}
			if c.DBRegion == "" {
				return fmt.Errorf("db-region is required when -execute-sql is set")
			}
		}
		if c.LoadMode == LoadModeS3 {
			if c.S3Bucket == "" {
				return fmt.Errorf("s3-bucket is required for load-mode s3")
			}
			if c.OutputFormat != FormatCSV {
				return fmt.Errorf("load-mode s3 requires output-format csv")
			}
		}
	}
	return nil
}

// derive computes the step, location, month boundaries and output path.
func (c *Config) derive() error {
	c.Location = time.Local
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
		c.Location = loc
	}

	start, err := ParseMonth(c.StartMonth, c.Location)
	if err != nil {
		return fmt.Errorf("invalid start-month: %w", err)
	}
	end, err := ParseMonth(c.EndMonth, c.Location)
	if err != nil {
		return fmt.Errorf("invalid end-month: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("end-month %s is before start-month %s", c.EndMonth, c.StartMonth)
	}

	c.StartDate = start
	c.EndDate = end
	c.Step = time.Duration(c.StepHours) * time.Hour
	c.OutputPath = filepath.Join(c.OutputDir, c.OutputFileName())
	return nil
}

// OutputFileName returns <CLIENT>_<YYYYMM start>_<YYYYMM end>.<format>.
func (c *Config) OutputFileName() string {
	return fmt.Sprintf("%s_%s_%s.%s",
		c.Client, c.StartDate.Format("200601"), c.EndDate.Format("200601"), c.OutputFormat)
}

// NormalizeClient replaces spaces with hyphens and upper-cases the name.
func NormalizeClient(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, " ", "-"))
}

// ParseMonth parses a YYYY-MM string into the first day of that month in loc.
func ParseMonth(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(monthLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM, got %q", value)
	}
	return t, nil
}

// GetDBHostPort returns host or host:port when a non-default port is set.
func (c *Config) GetDBHostPort() string {
	if c.DBPort > 0 && c.DBPort != DefaultDBPort {
		return fmt.Sprintf("%s:%d", c.DBHost, c.DBPort)
	}
	return c.DBHost
}

// loadDotEnv loads a dotenv file if present. Variables already set in the
// environment are left untouched.
func loadDotEnv(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

// loadFromYAML loads configuration from a YAML file.
func loadFromYAML(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}

	var yamlCfg struct {
		PrometheusURL  string `yaml:"prometheus_url"`
		Query          string `yaml:"query"`
		Client         string `yaml:"client"`
		StartMonth     string `yaml:"start_month"`
		EndMonth       string `yaml:"end_month"`
		StepHours      int    `yaml:"step_hours"`
		MaxRetries     int    `yaml:"max_retries"`
		RetryDelay     string `yaml:"retry_delay"`
		Timezone       string `yaml:"timezone"`
		OutputDir      string `yaml:"output_dir"`
		OutputFormat   string `yaml:"output_format"`
		LogDir         string `yaml:"log_dir"`
		Debug          bool   `yaml:"debug"`
		S3Bucket       string `yaml:"s3_bucket"`
		S3Prefix       string `yaml:"s3_prefix"`
		AWSRegion      string `yaml:"aws_region"`
		SQLTable       string `yaml:"sql_table"`
		LoadMode       string `yaml:"load_mode"`
		ExecuteSQL     bool   `yaml:"execute_sql"`
		DBHost         string `yaml:"db_host"`
		DBPort         int    `yaml:"db_port"`
		DBUser         string `yaml:"db_user"`
		DBDatabase     string `yaml:"db_database"`
		DBSecret       string `yaml:"db_secret"`
		DBRegion       string `yaml:"db_region"`
		SQLExecTimeout int    `yaml:"sql_exec_timeout"`
	}

	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return err
	}

	setString(&cfg.PrometheusURL, yamlCfg.PrometheusURL)
	setString(&cfg.Query, yamlCfg.Query)
	setString(&cfg.Client, yamlCfg.Client)
	setString(&cfg.StartMonth, yamlCfg.StartMonth)
	setString(&cfg.EndMonth, yamlCfg.EndMonth)
	setInt(&cfg.StepHours, yamlCfg.StepHours)
	setInt(&cfg.MaxRetries, yamlCfg.MaxRetries)
	if yamlCfg.RetryDelay != "" {
		d, err := parseDuration(yamlCfg.RetryDelay)
		if err != nil {
			return fmt.Errorf("retry_delay: %w", err)
		}
		cfg.RetryDelay = d
	}
	setString(&cfg.Timezone, yamlCfg.Timezone)
	setString(&cfg.OutputDir, yamlCfg.OutputDir)
	setString(&cfg.OutputFormat, yamlCfg.OutputFormat)
	setString(&cfg.LogDir, yamlCfg.LogDir)
	cfg.Debug = yamlCfg.Debug
	setString(&cfg.S3Bucket, yamlCfg.S3Bucket)
	setString(&cfg.S3Prefix, yamlCfg.S3Prefix)
	setString(&cfg.AWSRegion, yamlCfg.AWSRegion)
	setString(&cfg.SQLTable, yamlCfg.SQLTable)
	setString(&cfg.LoadMode, yamlCfg.LoadMode)
	cfg.ExecuteSQL = yamlCfg.ExecuteSQL
	setString(&cfg.DBHost, yamlCfg.DBHost)
	setInt(&cfg.DBPort, yamlCfg.DBPort)
	setString(&cfg.DBUser, yamlCfg.DBUser)
	setString(&cfg.DBDatabase, yamlCfg.DBDatabase)
	setString(&cfg.DBSecret, yamlCfg.DBSecret)
	setString(&cfg.DBRegion, yamlCfg.DBRegion)
	setInt(&cfg.SQLExecTimeout, yamlCfg.SQLExecTimeout)

	return nil
}

// loadFromEnv loads configuration from environment variables.
// Malformed numeric values are reported instead of being silently ignored.
func loadFromEnv(cfg *Config) error {
	setString(&cfg.PrometheusURL, os.Getenv("PROMETHEUS_URL"))
	setString(&cfg.Query, os.Getenv("QUERY"))
	setString(&cfg.Client, os.Getenv("CLIENT"))
	setString(&cfg.StartMonth, os.Getenv("START_MONTH"))
	setString(&cfg.EndMonth, os.Getenv("END_MONTH"))
	if err := setIntEnv(&cfg.StepHours, "STEP_HOURS"); err != nil {
		return err
	}
	if err := setIntEnv(&cfg.MaxRetries, "MAX_RETRIES"); err != nil {
		return err
	}
	if val := os.Getenv("RETRY_DELAY"); val != "" {
		d, err := parseDuration(val)
		if err != nil {
			return fmt.Errorf("RETRY_DELAY: %w", err)
		}
		cfg.RetryDelay = d
	}
	setString(&cfg.Timezone, os.Getenv("TIMEZONE"))
	setString(&cfg.OutputDir, os.Getenv("OUTPUT_DIR"))
	setString(&cfg.OutputFormat, os.Getenv("OUTPUT_FORMAT"))
	setString(&cfg.LogDir, os.Getenv("LOG_DIR"))
	if val := os.Getenv("DEBUG"); val != "" {
		cfg.Debug = (val == "true" || val == "1")
	}
	setString(&cfg.S3Bucket, os.Getenv("S3_BUCKET"))
	setString(&cfg.S3Prefix, os.Getenv("S3_PREFIX"))
	setString(&cfg.AWSRegion, os.Getenv("AWS_REGION"))
	setString(&cfg.SQLTable, os.Getenv("SQL_TABLE"))
	setString(&cfg.LoadMode, os.Getenv("LOAD_MODE"))
	if val := os.Getenv("EXECUTE_SQL"); val != "" {
		cfg.ExecuteSQL = (val == "true" || val == "1")
	}
	setString(&cfg.DBHost, os.Getenv("DB_HOST"))
	if err := setIntEnv(&cfg.DBPort, "DB_PORT"); err != nil {
		return err
	}
	setString(&cfg.DBUser, os.Getenv("DB_USER"))
	setString(&cfg.DBDatabase, os.Getenv("DB_DATABASE"))
	setString(&cfg.DBSecret, os.Getenv("DB_SECRET"))
	setString(&cfg.DBRegion, os.Getenv("DB_REGION"))
	if err := setIntEnv(&cfg.SQLExecTimeout, "SQL_EXEC_TIMEOUT"); err != nil {
		return err
	}
	if val := os.Getenv("QUIET"); val != "" {
		cfg.Quiet = (val == "true" || val == "1")
	}
	return nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func setInt(dst *int, val int) {
	if val > 0 {
		*dst = val
	}
}

func setIntEnv(dst *int, key string) error {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s must be an integer, got %q", key, val)
	}
	*dst = n
	return nil
}

// parseDuration accepts Go durations ("2s", "500ms") or bare seconds ("2").
func parseDuration(val string) (time.Duration, error) {
	if d, err := time.ParseDuration(val); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", val)
}
