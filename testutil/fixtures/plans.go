// Package fixtures holds canned plan documents shared by the test suites.
package fixtures

// LinearPlan is a three-step plan relying entirely on injected default
// transitions.
const LinearPlan = `
name: linear
description: three agent steps with default transitions
inputs:
  project: demo
steps:
  - name: gather
    prompt: gather_prompt
    description: Collect the source material
  - name: build
    prompt: build_prompt
    description: Produce the artifact
  - name: verify
    prompt: verify_prompt
    description: Check the artifact
`

// EchoPlan is a single tool step calling an echo tool.
const EchoPlan = `
name: echo
steps:
  - name: say
    type: tool
    tool: echo
    args:
      text: hello
`

// BranchingPlan declares explicit transitions, including a failure branch
// that lands on a cleanup step instead of the failed terminal.
const BranchingPlan = `
name: branching
steps:
  - name: attempt
    prompt: attempt_prompt
    transitions:
      success: publish
      failure: cleanup
  - name: cleanup
    type: tool
    tool: cleanup
    transitions:
      success: failed
      failure: failed
  - name: publish
    prompt: publish_prompt
`
