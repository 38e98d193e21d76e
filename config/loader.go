package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoaderConfig holds optional file overrides for Load.
type LoaderConfig struct {
	ConfigFile string
	EnvFile    string
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// Load builds a RunConfig from, in increasing precedence: a YAML config
// file, a .env file, and process environment variables (prefixed SDTMFORGE_,
// nested keys joined with underscores, e.g. SDTMFORGE_CHECKPOINT_TIMEOUT).
// CLI flags override the result after Load returns.
func Load(opts ...LoaderOption) (*RunConfig, error) {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}

	if lc.EnvFile == "" {
		lc.EnvFile = findFirst(".env.sdtmforge", ".env")
	}
	if lc.EnvFile != "" {
		if err := godotenv.Load(lc.EnvFile); err != nil {
			fmt.Fprintf(os.Stderr, "[config] warning: failed to load .env file %s: %v\n", lc.EnvFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("SDTMFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if lc.ConfigFile == "" {
		lc.ConfigFile = findFirst("sdtmforge.yml", "config/sdtmforge.yml", "config.yml")
	}
	if lc.ConfigFile != "" {
		v.SetConfigFile(lc.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", lc.ConfigFile, err)
		}
	}

	bindKeys(v)

	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindKeys registers every config key with viper so AutomaticEnv can see
// keys that are absent from the YAML file.
func bindKeys(v *viper.Viper) {
	keys := []string{
		"run_id", "source", "output", "concurrency",
		"checkpoint.enabled", "checkpoint.source", "checkpoint.decision",
		"checkpoint.timeout", "checkpoint.state_dir", "checkpoint.listen",
		"checkpoint.jwt_secret", "checkpoint.reviewer_token_hash",
		"ai.enabled", "ai.base_url", "ai.api_key", "ai.model",
		"ai.timeout", "ai.max_attempts",
		"graph_store.enabled", "graph_store.uri", "graph_store.username",
		"graph_store.password", "graph_store.database",
		"upload.enabled", "upload.endpoint", "upload.access_key",
		"upload.secret_key", "upload.bucket", "upload.prefix", "upload.use_ssl",
		"postgres.max_conns", "postgres.ping_timeout",
		"logging.level", "logging.format", "logging.output", "logging.no_color",
		"telemetry.enabled", "telemetry.endpoint", "telemetry.insecure",
		"telemetry.sample_rate", "telemetry.environment",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

func findFirst(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
