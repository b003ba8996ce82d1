package providers

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/planweave/planweave/llm"
)

// Config selects and configures a provider.
type Config struct {
	Provider    string        `yaml:"provider" json:"provider"` // openai, gemini, llama
	APIKey      string        `yaml:"api_key" json:"api_key"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	Model       string        `yaml:"model" json:"model"`
	Temperature float32       `yaml:"temperature" json:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`

	Retry llm.RetryConfig `yaml:"retry" json:"retry"`
}

// New creates one backend session for the configured provider.
func New(cfg Config, logger *zap.Logger) (llm.Backend, error) {
	var backend llm.Backend
	switch cfg.Provider {
	case "openai", "":
		backend = NewOpenAIBackend(cfg, logger)
	case "gemini":
		backend = NewGeminiBackend(cfg, logger)
	case "llama":
		backend = NewLlamaBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	return llm.NewRetryableBackend(backend, cfg.Retry, logger), nil
}

// NewFactory returns a factory producing fresh sessions for the configured
// provider, one per step execution.
func NewFactory(cfg Config, logger *zap.Logger) llm.BackendFactory {
	return func() (llm.Backend, error) {
		return New(cfg, logger)
	}
}

// NewOpenAIBackend creates an OpenAI chat-completions session.
func NewOpenAIBackend(cfg Config, logger *zap.Logger) *CompatBackend {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	return NewCompatBackend(CompatConfig{
		ProviderName: "openai",
		APIKey:       cfg.APIKey,
		BaseURL:      base,
		Model:        model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Timeout:      cfg.Timeout,
	}, logger)
}

// NewGeminiBackend creates a Gemini session through Google's OpenAI
// compatibility endpoint. Gemini rejects hyphens and spaces in function
// names, so tool-name sanitizing is enabled here and only here.
func NewGeminiBackend(cfg Config, logger *zap.Logger) *CompatBackend {
	base := cfg.BaseURL
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-pro"
	}
	return NewCompatBackend(CompatConfig{
		ProviderName:      "gemini",
		APIKey:            cfg.APIKey,
		BaseURL:           base,
		Model:             model,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Timeout:           cfg.Timeout,
		EndpointPath:      "/v1beta/openai/chat/completions",
		SanitizeToolNames: true,
	}, logger)
}

// NewLlamaBackend creates a session against a local llama.cpp-style server.
// No API key is required; an empty Authorization header upsets some
// servers, so headers are built explicitly.
func NewLlamaBackend(cfg Config, logger *zap.Logger) *CompatBackend {
	base := cfg.BaseURL
	if base == "" {
		base = "http://127.0.0.1:8080"
	}
	model := cfg.Model
	if model == "" {
		model = "llama"
	}
	return NewCompatBackend(CompatConfig{
		ProviderName: "llama",
		APIKey:       cfg.APIKey,
		BaseURL:      base,
		Model:        model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Timeout:      cfg.Timeout,
		BuildHeaders: func(req *http.Request, apiKey string) {
			if apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+apiKey)
			}
			req.Header.Set("Content-Type", "application/json")
		},
	}, logger)
}
