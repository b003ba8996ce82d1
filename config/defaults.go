package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM:       DefaultLLMConfig(),
		MCP:       MCPConfig{},
		Sink:      DefaultSinkConfig(),
		Engine:    DefaultEngineConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultLLMConfig returns the default provider configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:          "openai",
		Temperature:       0.2,
		MaxTokens:         4096,
		Timeout:           120 * time.Second,
		MaxRetries:        3,
		RetryInitialDelay: time.Second,
		RetryMaxDelay:     30 * time.Second,
	}
}

// DefaultSinkConfig returns the default sink configuration.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		Type:    "memory",
		FileDir: "results",
	}
}

// DefaultEngineConfig returns the default run-level knobs.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxAttempts: 3,
		MaxLoops:    5,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
// Export is off; the orchestrator's spans stay noop.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		ServiceName:  "planweave",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
	}
}

// DefaultLogConfig returns the default logger configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "console",
	}
}
