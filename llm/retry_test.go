package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend fails a scripted number of times before succeeding.
type flakyBackend struct {
	failures int
	err      error
	calls    int
}

func (b *flakyBackend) Initialize(context.Context, []ToolSchema) error { return nil }

func (b *flakyBackend) Generate(context.Context, *GenerateRequest) (*GenerateResult, error) {
	b.calls++
	if b.calls <= b.failures {
		return nil, b.err
	}
	return &GenerateResult{Text: "ok"}, nil
}

func (b *flakyBackend) Usage() Usage { return Usage{} }
func (b *flakyBackend) Name() string { return "flaky" }

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryableBackend_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyBackend{
		failures: 2,
		err:      &Error{Code: ErrUpstreamError, Message: "503", Retryable: true},
	}
	b := NewRetryableBackend(inner, fastRetry(3), nil)

	res, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryableBackend_NonRetryableFailsImmediately(t *testing.T) {
	inner := &flakyBackend{
		failures: 10,
		err:      &Error{Code: ErrUnauthorized, Message: "401", Retryable: false},
	}
	b := NewRetryableBackend(inner, fastRetry(3), nil)

	_, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryableBackend_UntypedErrorNotRetried(t *testing.T) {
	inner := &flakyBackend{failures: 10, err: errors.New("plain failure")}
	b := NewRetryableBackend(inner, fastRetry(3), nil)

	_, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryableBackend_ExhaustsBudget(t *testing.T) {
	inner := &flakyBackend{
		failures: 10,
		err:      &Error{Code: ErrRateLimited, Message: "429", Retryable: true},
	}
	b := NewRetryableBackend(inner, fastRetry(2), nil)

	_, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "q"})
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, ErrRateLimited, typed.Code)
	assert.Equal(t, 3, inner.calls) // initial call plus 2 retries
}

func TestRetryableBackend_ContextCancelsBackoff(t *testing.T) {
	inner := &flakyBackend{
		failures: 10,
		err:      &Error{Code: ErrUpstreamError, Message: "503", Retryable: true},
	}
	cfg := fastRetry(3)
	cfg.InitialDelay = time.Minute
	b := NewRetryableBackend(inner, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Generate(ctx, &GenerateRequest{Prompt: "q"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}
	assert.Equal(t, time.Second, cfg.backoff(0))
	assert.Equal(t, 2*time.Second, cfg.backoff(1))
	assert.Equal(t, 4*time.Second, cfg.backoff(2))
	assert.Equal(t, 5*time.Second, cfg.backoff(3)) // capped
}
