// Package testutil provides shared helpers and fixtures for the test suites.
package testutil

import (
	"context"
	"testing"
	"time"
)

// TestContext returns a context with a generous test timeout, cancelled on
// cleanup.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
