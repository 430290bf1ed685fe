// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/casgen-dev/casgen/internal/otel"
)

// Server holds every knob the server process reads from the
// environment. Zero values mean "use the computed default".
type Server struct {
	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store: fine for development, loses jobs on restart.
	DatabaseURL string `env:"DATABASE_URL"`

	// CacheURL is the Redis connection URL. Empty selects the in-process cache.
	CacheURL string `env:"CACHE_URL"`

	// OutputRoot is the directory job artifacts are written under.
	OutputRoot string `env:"OUTPUT_ROOT" envDefault:"./output"`

	// WorkerPoolSize is the number of concurrent generation workers.
	// 0 picks min(NumCPU, 4).
	WorkerPoolSize int `env:"WORKER_POOL_SIZE"`

	// BatchSize is how many patients a worker simulates between
	// progress flushes and cancellation checks.
	BatchSize int `env:"BATCH_SIZE" envDefault:"500"`

	// JobTimeoutSeconds bounds a single job's execution.
	JobTimeoutSeconds int `env:"JOB_TIMEOUT_SECONDS" envDefault:"1800"`

	// JobRetentionDays is how long finished jobs keep their artifacts.
	JobRetentionDays int `env:"JOB_RETENTION_DAYS" envDefault:"7"`

	// RetentionSweepMinutes is the pause between retention passes.
	RetentionSweepMinutes int `env:"RETENTION_SWEEP_MINUTES" envDefault:"60"`

	// LegacyAPIKey, when set, is accepted verbatim as an API key with
	// no rate limits. Deployed installations predating key records use it.
	LegacyAPIKey string `env:"LEGACY_API_KEY"`

	// DemoAPIKey, when set, auto-provisions a throttled demo key on
	// first use.
	DemoAPIKey string `env:"DEMO_API_KEY"`

	// MaxTotalPatients caps total_patients on a single request.
	MaxTotalPatients int `env:"MAX_TOTAL_PATIENTS" envDefault:"100000"`

	// OTelMetricsEnabled turns on metric collection and export.
	OTelMetricsEnabled bool `env:"OTEL_METRICS_ENABLED" envDefault:"false"`

	// OTelTracesEnabled turns on request and job span export.
	OTelTracesEnabled bool `env:"OTEL_TRACES_ENABLED" envDefault:"false"`

	// OTelExporter selects the exporter: none, stdout, otlp-grpc, otlp-http.
	OTelExporter string `env:"OTEL_EXPORTER" envDefault:"stdout"`

	// OTelEndpoint is the OTLP collector endpoint, e.g. "localhost:4317".
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	// OTelInsecure disables TLS on OTLP connections.
	OTelInsecure bool `env:"OTEL_INSECURE" envDefault:"false"`
}

// Load reads a .env file when one exists, then parses the environment.
func Load() (*Server, error) {
	_ = godotenv.Load()

	cfg := &Server{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Server) applyDefaults() {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = defaultPoolSize()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.JobTimeoutSeconds <= 0 {
		c.JobTimeoutSeconds = 1800
	}
	if c.JobRetentionDays <= 0 {
		c.JobRetentionDays = 7
	}
	if c.RetentionSweepMinutes <= 0 {
		c.RetentionSweepMinutes = 60
	}
	if c.MaxTotalPatients <= 0 {
		c.MaxTotalPatients = 100000
	}
	if c.OutputRoot == "" {
		c.OutputRoot = "./output"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

func defaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// JobTimeout returns the per-job execution bound as a duration.
func (c *Server) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// SweepInterval returns the retention sweep period as a duration.
func (c *Server) SweepInterval() time.Duration {
	return time.Duration(c.RetentionSweepMinutes) * time.Minute
}

// UseMemoryStore reports whether the process runs without Postgres.
func (c *Server) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}

// MetricsConfig translates the env knobs into the otel metrics setup.
func (c *Server) MetricsConfig(serviceVersion string) *otel.MetricsConfig {
	cfg := otel.DefaultMetricsConfig()
	cfg.Enabled = c.OTelMetricsEnabled
	cfg.ServiceVersion = serviceVersion
	cfg.ExporterType = c.exporterType(c.OTelMetricsEnabled)
	cfg.OTLPEndpoint = c.OTelEndpoint
	cfg.OTLPInsecure = c.OTelInsecure
	return cfg
}

// TracerConfig translates the env knobs into the otel tracer setup.
func (c *Server) TracerConfig(serviceVersion string) *otel.Config {
	cfg := otel.DefaultConfig()
	cfg.Enabled = c.OTelTracesEnabled
	cfg.ServiceVersion = serviceVersion
	cfg.ExporterType = c.exporterType(c.OTelTracesEnabled)
	cfg.OTLPEndpoint = c.OTelEndpoint
	cfg.OTLPInsecure = c.OTelInsecure
	return cfg
}

func (c *Server) exporterType(enabled bool) otel.ExporterType {
	if !enabled {
		return otel.ExporterNone
	}
	switch c.OTelExporter {
	case "otlp-grpc":
		return otel.ExporterOTLPGRPC
	case "otlp-http":
		return otel.ExporterOTLPHTTP
	case "none":
		return otel.ExporterNone
	default:
		return otel.ExporterStdout
	}
}
