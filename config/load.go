package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/taku247/long-trader-sub006/errors"
)

// Load reads configuration from long-trader.toml in the working directory,
// falling back to defaults when the file is absent. Environment variables
// prefixed LONGTRADER_ override file values (LONGTRADER_EXECUTOR_WORKERS, …).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("long-trader")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	SetDefaults(v)

	v.SetEnvPrefix("LONGTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine - defaults apply. Anything else is a real error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", configPath)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would misbehave silently.
func (c *Config) Validate() error {
	switch c.Policy.Aggregation {
	case AggregationLenient, AggregationStrict:
	default:
		return errors.NewValidationError("policy.aggregation must be %q or %q, got %q",
			AggregationLenient, AggregationStrict, c.Policy.Aggregation)
	}

	switch c.Policy.OrphanRemediation {
	case RemediationDelete, RemediationSentinel:
	default:
		return errors.NewValidationError("policy.orphan_remediation must be %q or %q, got %q",
			RemediationDelete, RemediationSentinel, c.Policy.OrphanRemediation)
	}

	if c.Executor.MaxRetries < 0 {
		return errors.NewValidationError("executor.max_retries cannot be negative")
	}
	if c.Store.RunsPath == c.Store.TasksPath {
		return errors.NewValidationError("store.runs_path and store.tasks_path must be separate files")
	}
	return nil
}
