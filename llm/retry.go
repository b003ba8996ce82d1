package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryConfig holds retry and throttling settings for a backend wrapper.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`       // default 3
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`   // default 1s
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`           // default 30s
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"` // default 2.0
	// RequestsPerMinute throttles Generate calls; 0 disables throttling.
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if d > c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// RetryableBackend wraps a Backend with exponential-backoff retry for
// transient upstream failures and an optional request rate limit.
type RetryableBackend struct {
	inner   Backend
	config  RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRetryableBackend creates a retrying wrapper around the given backend.
func NewRetryableBackend(inner Backend, config RetryConfig, logger *zap.Logger) *RetryableBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), 1)
	}
	return &RetryableBackend{
		inner:   inner,
		config:  config,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "retry_backend"), zap.String("provider", inner.Name())),
	}
}

func (b *RetryableBackend) Initialize(ctx context.Context, tools []ToolSchema) error {
	return b.inner.Initialize(ctx, tools)
}

func (b *RetryableBackend) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	var lastErr error
	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if attempt > 0 {
			delay := b.config.backoff(attempt - 1)
			b.logger.Warn("retrying generation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := b.inner.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var typed *Error
		if !errors.As(err, &typed) || !typed.Retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (b *RetryableBackend) Usage() Usage { return b.inner.Usage() }

func (b *RetryableBackend) Name() string { return b.inner.Name() }
