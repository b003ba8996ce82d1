package ui

import "go.uber.org/zap"

// Auto is the headless front end: events go to the log and every failure
// decision defers to the recovery advisor.
type Auto struct {
	logger *zap.Logger
}

// NewAuto creates a headless front end.
func NewAuto(logger *zap.Logger) *Auto {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auto{logger: logger.With(zap.String("component", "ui"))}
}

func (a *Auto) OnStepStart(name, description string, _ map[string]any) {
	a.logger.Info("step started", zap.String("step", name), zap.String("description", description))
}

func (a *Auto) OnStepFinish(name, _ string, errMsg string, _ map[string]any) {
	if errMsg != "" {
		a.logger.Warn("step failed", zap.String("step", name), zap.String("error", errMsg))
		return
	}
	a.logger.Info("step finished", zap.String("step", name))
}

func (a *Auto) OnWorkflowComplete(status string) {
	a.logger.Info("workflow finished", zap.String("status", status))
}

func (a *Auto) Log(message string) {
	a.logger.Info(message)
}

func (a *Auto) AskDecision(failedStep, _ string) Decision {
	a.logger.Info("delegating failure to advisor", zap.String("step", failedStep))
	return Decision{Action: ActionAuto}
}

var _ Interface = (*Auto)(nil)
