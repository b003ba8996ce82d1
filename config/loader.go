// Package config loads the engine configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("planweave.yaml").
//	    WithEnvPrefix("PLANWEAVE").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/planweave/planweave/internal/telemetry"
	"github.com/planweave/planweave/llm"
	"github.com/planweave/planweave/llm/providers"
	"github.com/planweave/planweave/mcpclient"
	"github.com/planweave/planweave/resultsink"
)

// Config is the complete engine configuration.
type Config struct {
	// LLM selects and configures the text-generation provider.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// MCP locates the tool-invocation endpoint.
	MCP MCPConfig `yaml:"mcp" env:"MCP"`

	// Sink configures result persistence.
	Sink SinkConfig `yaml:"sink" env:"SINK"`

	// Engine holds the run-level knobs.
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OTLP trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// LLMConfig configures the provider. It mirrors providers.Config field for
// field so the env override machinery can reach every knob.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"PROVIDER"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Model       string        `yaml:"model" env:"MODEL"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`

	MaxRetries        int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

// MCPConfig locates the MCP server.
type MCPConfig struct {
	Command string   `yaml:"command" env:"COMMAND"`
	Args    []string `yaml:"args" env:"ARGS"`
	Env     []string `yaml:"env" env:"-"`
	URL     string   `yaml:"url" env:"URL"`
}

// SinkConfig configures result persistence.
type SinkConfig struct {
	Type      string `yaml:"type" env:"TYPE"` // memory, file, sqlite, redis
	FileDir   string `yaml:"file_dir" env:"FILE_DIR"`
	SQLite    string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPass string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB   int    `yaml:"redis_db" env:"REDIS_DB"`
}

// EngineConfig holds run-level knobs.
type EngineConfig struct {
	// MaxAttempts is the run-wide failure budget.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// MaxLoops bounds the tool iterations inside one agent step.
	MaxLoops int `yaml:"max_loops" env:"MAX_LOOPS"`
	// EmptyResultSuccess makes an empty but error-free step result count
	// as success instead of failure.
	EmptyResultSuccess bool `yaml:"empty_result_success" env:"EMPTY_RESULT_SUCCESS"`
	// Interactive enables the operator failure menu.
	Interactive bool `yaml:"interactive" env:"INTERACTIVE"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, console
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// ProviderConfig converts to the providers package config.
func (c *Config) ProviderConfig() providers.Config {
	return providers.Config{
		Provider:    c.LLM.Provider,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Temperature: float32(c.LLM.Temperature),
		MaxTokens:   c.LLM.MaxTokens,
		Timeout:     c.LLM.Timeout,
		Retry: llm.RetryConfig{
			MaxRetries:        c.LLM.MaxRetries,
			InitialDelay:      c.LLM.RetryInitialDelay,
			MaxDelay:          c.LLM.RetryMaxDelay,
			BackoffFactor:     2.0,
			RequestsPerMinute: c.LLM.RequestsPerMinute,
		},
	}
}

// ServerConfig converts to the MCP client config.
func (c *Config) ServerConfig() mcpclient.ServerConfig {
	return mcpclient.ServerConfig{
		Command: c.MCP.Command,
		Args:    c.MCP.Args,
		Env:     c.MCP.Env,
		URL:     c.MCP.URL,
	}
}

// TelemetrySetup converts to the telemetry package config.
func (c *Config) TelemetrySetup() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Telemetry.Enabled,
		ServiceName:  c.Telemetry.ServiceName,
		OTLPEndpoint: c.Telemetry.OTLPEndpoint,
		SampleRate:   c.Telemetry.SampleRate,
	}
}

// SinkFactoryConfig converts to the result sink config.
func (c *Config) SinkFactoryConfig() resultsink.Config {
	return resultsink.Config{
		Type:   resultsink.SinkType(c.Sink.Type),
		File:   resultsink.FileConfig{Dir: c.Sink.FileDir},
		SQLite: resultsink.SQLiteConfig{Path: c.Sink.SQLite},
		Redis: resultsink.RedisConfig{
			Addr:     c.Sink.RedisAddr,
			Password: c.Sink.RedisPass,
			DB:       c.Sink.RedisDB,
		},
	}
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "PLANWEAVE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation function run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then YAML file,
// then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv walks the struct and applies PREFIX_FIELD overrides.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration or panics. Initialization use only.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Engine.MaxAttempts <= 0 {
		errs = append(errs, "max_attempts must be positive")
	}
	if c.Engine.MaxLoops <= 0 {
		errs = append(errs, "max_loops must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	switch c.Sink.Type {
	case "", "memory", "file", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown sink type %q", c.Sink.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
