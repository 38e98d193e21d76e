package config

import (
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
)

// Decision source kinds for the checkpoint gate.
const (
	DecisionStatic = "static"
	DecisionAuto   = "auto"
	DecisionFile   = "file"
	DecisionHTTP   = "http"
)

// RunConfig is the immutable configuration of one pipeline run. It is
// created once at run start and passed by reference; nothing mutates it
// after validation.
type RunConfig struct {
	// RunID identifies the run. Defaults to a v4 UUID when empty.
	RunID string `json:"run_id" mapstructure:"run_id"`
	// Source is the location of the raw extracts (directory or DSN).
	Source string `json:"source" mapstructure:"source" validate:"required"`
	// Output is the root of the artifact tree written by the run.
	Output string `json:"output" mapstructure:"output" validate:"required"`
	// Domains restricts the run to a subset of discovered domains.
	// Empty means all.
	Domains []string `json:"domains" mapstructure:"domains"`
	// Concurrency caps fanned stage parallelism.
	Concurrency int `json:"concurrency" mapstructure:"concurrency" validate:"min=1,max=64"`

	Checkpoint CheckpointConfig `json:"checkpoint" mapstructure:"checkpoint"`
	AI         AIConfig         `json:"ai" mapstructure:"ai"`
	GraphStore GraphStoreConfig `json:"graph_store" mapstructure:"graph_store"`
	Upload     UploadConfig     `json:"upload" mapstructure:"upload"`
	Postgres   PostgresConfig   `json:"postgres" mapstructure:"postgres"`
	Logging    logger.Config    `json:"logging" mapstructure:"logging"`
	Telemetry  TelemetryConfig  `json:"telemetry" mapstructure:"telemetry"`
}

// CheckpointConfig configures the human-approval gate.
type CheckpointConfig struct {
	// Enabled false skips the gate stage outright: no record is created.
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Source selects the decision source kind.
	Source string `json:"source" mapstructure:"source" validate:"omitempty,oneof=static auto file http"`
	// Decision is the pre-supplied value for the static source.
	Decision string `json:"decision" mapstructure:"decision" validate:"omitempty,oneof=approved rejected"`
	// Timeout bounds the wait for a decision; zero means wait forever.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// StateDir is where the pending run document is persisted for resume.
	StateDir string `json:"state_dir" mapstructure:"state_dir"`
	// Listen is the host:port of the HTTP decision source.
	Listen string `json:"listen" mapstructure:"listen"`
	// JWTSecret verifies reviewer bearer tokens on the HTTP source.
	JWTSecret string `json:"-" yaml:"-" mapstructure:"jwt_secret"`
	// ReviewerTokenHash is a bcrypt hash accepted as a static reviewer token.
	ReviewerTokenHash string `json:"-" yaml:"-" mapstructure:"reviewer_token_hash"`
}

// AIConfig configures the mapping-suggestion service client.
type AIConfig struct {
	// Enabled false selects the deterministic heuristic generator.
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	BaseURL string `json:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	APIKey  string `json:"-" yaml:"-" mapstructure:"api_key"`
	Model   string `json:"model" mapstructure:"model"`
	// Timeout bounds one suggestion call.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// MaxAttempts caps retries on retryable generation failures.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
}

// GraphStoreConfig configures the lineage load.
type GraphStoreConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	URI      string `json:"uri" mapstructure:"uri"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" yaml:"-" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// UploadConfig configures the object-storage upload.
type UploadConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"-" yaml:"-" mapstructure:"access_key"`
	SecretKey string `json:"-" yaml:"-" mapstructure:"secret_key"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Prefix    string `json:"prefix" mapstructure:"prefix"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
}

// PostgresConfig configures the staging-table ingestor. Only used when
// Source is a postgres:// DSN.
type PostgresConfig struct {
	MaxConns    int           `json:"max_conns" mapstructure:"max_conns"`
	PingTimeout time.Duration `json:"ping_timeout" mapstructure:"ping_timeout"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"`
	Insecure    bool    `json:"insecure" mapstructure:"insecure"`
	SampleRate  float64 `json:"sample_rate" mapstructure:"sample_rate"`
	Environment string  `json:"environment" mapstructure:"environment"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *RunConfig) ApplyDefaults() {
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.Checkpoint.Source == "" {
		c.Checkpoint.Source = DecisionAuto
	}
	if c.Checkpoint.StateDir == "" {
		c.Checkpoint.StateDir = c.Output + "/checkpoint"
	}
	if c.Checkpoint.Listen == "" {
		c.Checkpoint.Listen = "0.0.0.0:8741"
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 60 * time.Second
	}
	if c.AI.MaxAttempts == 0 {
		c.AI.MaxAttempts = 3
	}
	if c.AI.Model == "" {
		c.AI.Model = "mapping-suggest-1"
	}
	if c.GraphStore.Database == "" {
		c.GraphStore.Database = "neo4j"
	}
	if c.Upload.Bucket == "" {
		c.Upload.Bucket = "sdtm-runs"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 4
	}
	if c.Postgres.PingTimeout == 0 {
		c.Postgres.PingTimeout = 2 * time.Second
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4318"
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = "development"
	}
	c.Logging.ApplyDefaults()
}

// Validate checks cross-field constraints the struct tags cannot express.
func (c *RunConfig) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return errors.InvalidConfig(err.Error())
	}
	if c.Checkpoint.Enabled {
		switch c.Checkpoint.Source {
		case DecisionStatic:
			if c.Checkpoint.Decision == "" {
				return errors.InvalidConfig("checkpoint.decision is required for the static source")
			}
		case DecisionHTTP:
			if c.Checkpoint.JWTSecret == "" && c.Checkpoint.ReviewerTokenHash == "" {
				return errors.InvalidConfig("checkpoint.jwt_secret or checkpoint.reviewer_token_hash is required for the http source")
			}
		}
	}
	if c.AI.Enabled && c.AI.BaseURL == "" {
		return errors.InvalidConfig("ai.base_url is required when ai.enabled")
	}
	if c.GraphStore.Enabled && c.GraphStore.URI == "" {
		return errors.InvalidConfig("graph_store.uri is required when graph_store.enabled")
	}
	if c.Upload.Enabled && c.Upload.Endpoint == "" {
		return errors.InvalidConfig("upload.endpoint is required when upload.enabled")
	}
	return nil
}
