// Package config loads cohortingest settings from a YAML file overlaid by
// COHORTINGEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"cohortingest/internal/blob"
	"cohortingest/internal/clinical"
	"cohortingest/internal/core"
	"cohortingest/internal/ingest"
	"cohortingest/internal/observability"
	"cohortingest/pkg/domain"
)

// Config is the full runtime configuration.
type Config struct {
	// Blob is the container holding raw expression matrices.
	Blob blob.Config `yaml:"blob"`
	// ClinicalBlob is the container holding the clinical table.
	ClinicalBlob blob.Config                 `yaml:"clinical_blob"`
	Storage      core.StorageConfig          `yaml:"storage"`
	Ingest       IngestConfig                `yaml:"ingest"`
	Log          LogConfig                   `yaml:"log"`
	Metrics      MetricsConfig               `yaml:"metrics"`
	Tracing      observability.TracingConfig `yaml:"tracing"`
}

// IngestConfig holds the run defaults.
type IngestConfig struct {
	Strategy       string             `yaml:"strategy"`
	ClinicalLayout string             `yaml:"clinical_layout"`
	ClinicalKey    string             `yaml:"clinical_key"`
	Policy         string             `yaml:"policy"`
	Prefix         string             `yaml:"prefix"`
	Retry          ingest.RetryPolicy `yaml:"retry"`
}

// LogConfig selects the logger mode.
type LogConfig struct {
	Mode    string `yaml:"mode"`
	Verbose bool   `yaml:"verbose"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration that runs against local directories and
// an sqlite file.
func Default() *Config {
	return &Config{
		Blob:         blob.Config{Driver: blob.DriverFilesystem, FSRoot: "./data/raw"},
		ClinicalBlob: blob.Config{Driver: blob.DriverFilesystem, FSRoot: "./data/clinical"},
		Storage:      core.StorageConfig{Driver: core.StorageSQLite, Path: "cohortingest.db"},
		Ingest: IngestConfig{
			Strategy:       string(domain.StrategyTruncated),
			ClinicalLayout: string(clinical.LayoutConsolidated),
			ClinicalKey:    ingest.ClinicalObjectKey,
			Policy:         string(ingest.RefreshTwoPhase),
			Retry:          ingest.DefaultRetryPolicy(),
		},
		Log:     LogConfig{Mode: "dev"},
		Tracing: observability.TracingConfig{Exporter: observability.ExporterNone},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path or a missing file yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies COHORTINGEST_* environment variables.
func (c *Config) applyEnvOverrides() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	driver := func(key string, dst *blob.Driver) {
		var v string
		str(key, &v)
		if v != "" {
			*dst = blob.Driver(v)
		}
	}

	driver("COHORTINGEST_BLOB_DRIVER", &c.Blob.Driver)
	str("COHORTINGEST_BLOB_ROOT", &c.Blob.FSRoot)
	str("COHORTINGEST_RAW_BUCKET", &c.Blob.S3.Bucket)
	driver("COHORTINGEST_CLINICAL_BLOB_DRIVER", &c.ClinicalBlob.Driver)
	str("COHORTINGEST_CLINICAL_BLOB_ROOT", &c.ClinicalBlob.FSRoot)
	str("COHORTINGEST_CLINICAL_BUCKET", &c.ClinicalBlob.S3.Bucket)
	// Endpoint and credentials are shared by both containers, as with one
	// MinIO server holding two buckets.
	for _, s3 := range []*blob.S3Config{&c.Blob.S3, &c.ClinicalBlob.S3} {
		str("COHORTINGEST_S3_ENDPOINT", &s3.Endpoint)
		str("COHORTINGEST_S3_REGION", &s3.Region)
		str("COHORTINGEST_S3_ACCESS_KEY", &s3.AccessKeyID)
		str("COHORTINGEST_S3_SECRET_KEY", &s3.SecretAccessKey)
	}
	if v, ok := os.LookupEnv("COHORTINGEST_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COHORTINGEST_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle, c.ClinicalBlob.S3.PathStyle = b, b
	}

	var storage string
	str("COHORTINGEST_STORAGE_DRIVER", &storage)
	if storage != "" {
		c.Storage.Driver = core.StorageDriver(storage)
	}
	str("COHORTINGEST_SQLITE_PATH", &c.Storage.Path)
	str("COHORTINGEST_POSTGRES_DSN", &c.Storage.DSN)

	str("COHORTINGEST_STRATEGY", &c.Ingest.Strategy)
	str("COHORTINGEST_CLINICAL_LAYOUT", &c.Ingest.ClinicalLayout)
	str("COHORTINGEST_CLINICAL_KEY", &c.Ingest.ClinicalKey)
	str("COHORTINGEST_POLICY", &c.Ingest.Policy)
	str("COHORTINGEST_PREFIX", &c.Ingest.Prefix)

	str("COHORTINGEST_LOG_MODE", &c.Log.Mode)
	str("COHORTINGEST_METRICS_ADDR", &c.Metrics.Addr)
	str("COHORTINGEST_TRACE_EXPORTER", &c.Tracing.Exporter)
	str("COHORTINGEST_TRACE_ENDPOINT", &c.Tracing.Endpoint)
	return nil
}

// Validate rejects unknown drivers, strategies, layouts and policies.
func (c *Config) Validate() error {
	for name, b := range map[string]blob.Driver{"blob": c.Blob.Driver, "clinical_blob": c.ClinicalBlob.Driver} {
		switch b {
		case "", blob.DriverFilesystem, blob.DriverS3, blob.DriverMemory:
		default:
			return fmt.Errorf("%s: unknown driver %q", name, b)
		}
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if _, err := domain.ParseStrategy(c.Ingest.Strategy); err != nil {
		return err
	}
	if _, err := clinical.ParseLayout(c.Ingest.ClinicalLayout); err != nil {
		return err
	}
	if _, err := ingest.ParseRefreshPolicy(c.Ingest.Policy); err != nil {
		return err
	}
	return c.Tracing.Validate()
}

// Strategy returns the parsed normalization strategy.
func (c *Config) Strategy() domain.Strategy {
	s, _ := domain.ParseStrategy(c.Ingest.Strategy)
	return s
}

// Policy returns the parsed refresh policy.
func (c *Config) Policy() ingest.RefreshPolicy {
	p, _ := ingest.ParseRefreshPolicy(c.Ingest.Policy)
	return p
}

// ClinicalSource returns the configured clinical source.
func (c *Config) ClinicalSource() ingest.ClinicalSource {
	l, _ := clinical.ParseLayout(c.Ingest.ClinicalLayout)
	return ingest.ClinicalSource{Key: c.Ingest.ClinicalKey, Layout: l}
}
