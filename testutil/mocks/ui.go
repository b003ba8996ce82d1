package mocks

import (
	"sync"

	"github.com/planweave/planweave/ui"
)

// MockUI records lifecycle events and answers failure menus from a scripted
// queue; an empty queue defers to the advisor.
type MockUI struct {
	mu sync.Mutex

	decisions []ui.Decision

	Started  []string
	Finished []string
	Logs     []string
	Statuses []string
	Asked    []string
}

// NewMockUI creates an empty front-end double.
func NewMockUI() *MockUI {
	return &MockUI{}
}

// QueueDecision scripts the next failure-menu answer.
func (m *MockUI) QueueDecision(d ui.Decision) *MockUI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return m
}

func (m *MockUI) OnStepStart(name, _ string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, name)
}

func (m *MockUI) OnStepFinish(name, _, _ string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finished = append(m.Finished, name)
}

func (m *MockUI) OnWorkflowComplete(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses = append(m.Statuses, status)
}

func (m *MockUI) Log(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, message)
}

func (m *MockUI) AskDecision(failedStep, _ string) ui.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Asked = append(m.Asked, failedStep)
	if len(m.decisions) == 0 {
		return ui.Decision{Action: ui.ActionAuto}
	}
	d := m.decisions[0]
	m.decisions = m.decisions[1:]
	return d
}

var _ ui.Interface = (*MockUI)(nil)
