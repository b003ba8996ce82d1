package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/planweave/planweave/engine"
	"github.com/planweave/planweave/mcpclient"
	"github.com/planweave/planweave/plan"
)

// ToolRunner executes tool-kind steps: one direct tool invocation with the
// step's declared arguments, no model in the loop.
type ToolRunner struct {
	client mcpclient.Client
	logger *zap.Logger
}

// NewToolRunner creates the tool-kind runner.
func NewToolRunner(client mcpclient.Client, logger *zap.Logger) *ToolRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolRunner{
		client: client,
		logger: logger.With(zap.String("component", "tool_runner")),
	}
}

// Run invokes the step's tool and maps the normalized result onto the step
// outcome: a failed classification becomes the step error.
func (r *ToolRunner) Run(ctx context.Context, step *plan.Step, _ *engine.Context) (string, map[string]any, error) {
	name := step.Spec.Tool
	meta := map[string]any{"runner": "tool"}
	if name == "" {
		return "", meta, fmt.Errorf("tool step %q names no tool", step.Name())
	}
	meta["tool"] = name

	start := time.Now()
	result, err := r.client.CallTool(ctx, name, step.Spec.Args)
	meta["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		return "", meta, fmt.Errorf("call tool %q: %w", name, err)
	}

	r.logger.Debug("tool step finished",
		zap.String("tool", name),
		zap.Bool("is_error", result.IsError),
	)
	if result.IsError {
		msg := result.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("tool %q reported failure", name)
		}
		return result.Content, meta, fmt.Errorf("%s", msg)
	}
	return result.Content, meta, nil
}
