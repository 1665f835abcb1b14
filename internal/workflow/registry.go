// Package workflow implements the durable state machine that advances an
// event through its lifecycle: preroll -> deploy -> live wait -> destroy ->
// postroll, with time-based suspension persisted in the execution row rather
// than held in process memory.
//
// Workflows are named definitions registered up front. Sub-workflow
// composition is resolved at construction time: Call elements are inlined
// into a flat step table with qualified names, so the running engine never
// resolves workflow references dynamically. The composition graph is acyclic
// by construction and validated during compilation.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StepResult tells the engine what to do after a step completes.
type StepResult struct {
	// Next jumps to the qualified step name instead of the sequentially
	// following step. Used by branch steps.
	Next string
	// SleepUntil suspends the execution durably until the given time.
	SleepUntil time.Time
	// Repeat re-runs the same step on wake instead of advancing. Used by
	// polling steps; requires SleepUntil.
	Repeat bool
	// Done finishes the execution successfully regardless of position.
	Done bool
}

// StepContext is the per-execution context handed to every step.
type StepContext struct {
	// ExecutionID is the execution's idempotency key (the event id).
	ExecutionID string
	// Input is the serialized message the execution was started with.
	Input json.RawMessage

	state json.RawMessage
}

// LoadState unmarshals the execution's persisted scratch state into v.
// An execution that has not stored state yet leaves v untouched.
func (sc *StepContext) LoadState(v any) error {
	if len(sc.state) == 0 || string(sc.state) == "{}" {
		return nil
	}
	if err := json.Unmarshal(sc.state, v); err != nil {
		return fmt.Errorf("workflow: failed to decode execution state: %w", err)
	}
	return nil
}

// SaveState marshals v as the scratch state to persist with the next cursor
// advance.
func (sc *StepContext) SaveState(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("workflow: failed to encode execution state: %w", err)
	}
	sc.state = encoded
	return nil
}

// StepFunc is one unit of workflow progress. It must be idempotent: the
// engine guarantees at-most-one concurrent run per execution but a crash
// between the step and its cursor advance re-runs the step.
type StepFunc func(ctx context.Context, sc *StepContext) (StepResult, error)

// Element is one entry in a workflow definition: either an owned step or an
// inlined reference to another registered workflow.
type Element struct {
	step     string
	run      StepFunc
	call     string
	callNext string
}

// Run defines an owned step.
func Run(name string, fn StepFunc) Element {
	return Element{step: name, run: fn}
}

// Call inlines the named workflow; its final step continues to the element
// following the Call.
func Call(workflow string) Element {
	return Element{call: workflow}
}

// CallThen inlines the named workflow with an explicit continuation: its
// final step continues at the qualified step name next. Used where several
// branches converge.
func CallThen(workflow, next string) Element {
	return Element{call: workflow, callNext: next}
}

// Definition is a named workflow: an ordered list of elements.
type Definition struct {
	Name     string
	Elements []Element
}

// compiledStep is one entry in a flattened workflow.
type compiledStep struct {
	run  StepFunc
	next string // qualified name of the following step; "" ends the workflow
}

// Workflow is a compiled, flattened workflow ready to execute.
type Workflow struct {
	name  string
	entry string
	steps map[string]compiledStep
}

// Entry returns the qualified name of the workflow's first step.
func (w *Workflow) Entry() string {
	return w.entry
}

// Registry holds the compiled workflows. Construction resolves the full
// composition graph; lookup at runtime is a map access.
type Registry struct {
	workflows map[string]*Workflow
}

// NewRegistry compiles the given definitions. Every Call/CallThen reference
// must name another supplied definition; cycles and duplicate step names are
// construction errors.
func NewRegistry(defs ...Definition) (*Registry, error) {
	byName := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if _, dup := byName[def.Name]; dup {
			return nil, fmt.Errorf("workflow: duplicate definition %q", def.Name)
		}
		byName[def.Name] = def
	}

	r := &Registry{workflows: make(map[string]*Workflow, len(defs))}
	for _, def := range defs {
		w := &Workflow{name: def.Name, steps: make(map[string]compiledStep)}
		visiting := map[string]bool{}
		entry, err := flatten(byName, def, "", w, visiting)
		if err != nil {
			return nil, err
		}
		if entry == "" {
			return nil, fmt.Errorf("workflow: definition %q has no steps", def.Name)
		}
		w.entry = entry
		for name, step := range w.steps {
			if step.next != "" {
				if _, ok := w.steps[step.next]; !ok {
					return nil, fmt.Errorf("workflow: %q links step %q to unknown step %q", def.Name, name, step.next)
				}
			}
		}
		r.workflows[def.Name] = w
	}

	return r, nil
}

// Lookup returns the compiled workflow by name.
func (r *Registry) Lookup(name string) (*Workflow, bool) {
	w, ok := r.workflows[name]
	return w, ok
}

// flatten inlines def's elements into w. continueAt is the qualified step the
// expansion's final step should link to ("" ends the workflow). It returns
// the qualified name of the expansion's first step.
func flatten(byName map[string]Definition, def Definition, continueAt string, w *Workflow, visiting map[string]bool) (string, error) {
	if visiting[def.Name] {
		return "", fmt.Errorf("workflow: cyclic composition through %q", def.Name)
	}
	visiting[def.Name] = true
	defer delete(visiting, def.Name)

	// Resolve each element's entry point, walking backwards so every
	// element knows where its successor begins.
	entries := make([]string, len(def.Elements))
	next := continueAt
	for i := len(def.Elements) - 1; i >= 0; i-- {
		el := def.Elements[i]
		switch {
		case el.run != nil:
			qualified := def.Name + "/" + el.step
			if _, dup := w.steps[qualified]; dup {
				return "", fmt.Errorf("workflow: duplicate step %q", qualified)
			}
			w.steps[qualified] = compiledStep{run: el.run, next: next}
			entries[i] = qualified
			next = qualified
		case el.call != "":
			sub, ok := byName[el.call]
			if !ok {
				return "", fmt.Errorf("workflow: %q references unknown workflow %q", def.Name, el.call)
			}
			cont := next
			if el.callNext != "" {
				cont = el.callNext
			}
			entry, err := flatten(byName, sub, cont, w, visiting)
			if err != nil {
				return "", err
			}
			if entry == "" {
				return "", fmt.Errorf("workflow: %q inlines empty workflow %q", def.Name, el.call)
			}
			entries[i] = entry
			next = entry
		default:
			return "", fmt.Errorf("workflow: %q contains an empty element", def.Name)
		}
	}

	if len(entries) == 0 {
		return "", nil
	}
	return entries[0], nil
}
