package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// CLI renders run progress to a terminal and collects failure decisions from
// stdin. It is deliberately plain: no cursor control, safe to pipe.
type CLI struct {
	in  *bufio.Reader
	out io.Writer
}

// NewCLI creates a terminal front end on the given streams.
func NewCLI(in io.Reader, out io.Writer) *CLI {
	return &CLI{in: bufio.NewReader(in), out: out}
}

func (c *CLI) OnStepStart(name, description string, inputs map[string]any) {
	fmt.Fprintf(c.out, "\n▶ %s — %s\n", name, description)
}

func (c *CLI) OnStepFinish(name, result, errMsg string, metadata map[string]any) {
	if errMsg != "" {
		fmt.Fprintf(c.out, "✗ %s: %s\n", name, errMsg)
		return
	}
	summary := result
	if len(summary) > 200 {
		summary = summary[:200] + "…"
	}
	fmt.Fprintf(c.out, "✓ %s: %s\n", name, summary)
}

func (c *CLI) OnWorkflowComplete(status string) {
	fmt.Fprintf(c.out, "\nWorkflow finished: %s\n", status)
}

func (c *CLI) Log(message string) {
	fmt.Fprintf(c.out, "  %s\n", message)
}

// AskDecision prompts until the operator picks a valid action.
func (c *CLI) AskDecision(failedStep, errMsg string) Decision {
	fmt.Fprintf(c.out, "\nStep %q failed:\n%s\n", failedStep, errMsg)
	for {
		fmt.Fprint(c.out, "[r]etry / [a]ssist / a[u]to / [q]uit > ")
		line, err := c.in.ReadString('\n')
		if err != nil {
			// Closed stdin means nobody is answering; fall back to the
			// advisor rather than spinning.
			return Decision{Action: ActionAuto}
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "retry":
			return Decision{Action: ActionRetry}
		case "a", "assist":
			fmt.Fprint(c.out, "hint > ")
			hint, _ := c.in.ReadString('\n')
			return Decision{Action: ActionAssist, Hint: strings.TrimSpace(hint)}
		case "u", "auto":
			return Decision{Action: ActionAuto}
		case "q", "quit":
			return Decision{Action: ActionQuit}
		}
		fmt.Fprintln(c.out, "unrecognized choice")
	}
}

var _ Interface = (*CLI)(nil)
