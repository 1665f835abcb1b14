package workflow

import (
	"context"
	"testing"
)

func noopStep(_ context.Context, _ *StepContext) (StepResult, error) {
	return StepResult{}, nil
}

func TestNewRegistry_FlattensComposition(t *testing.T) {
	defs := []Definition{
		{
			Name: "main",
			Elements: []Element{
				Call("first"),
				Run("middle", noopStep),
				Call("last"),
			},
		},
		{Name: "first", Elements: []Element{Run("a", noopStep), Run("b", noopStep)}},
		{Name: "last", Elements: []Element{Run("z", noopStep)}},
	}

	r, err := NewRegistry(defs...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, ok := r.Lookup("main")
	if !ok {
		t.Fatal("main workflow not registered")
	}
	if w.Entry() != "first/a" {
		t.Errorf("entry = %q, want first/a", w.Entry())
	}

	// Inlined steps keep their own qualification and chain across the
	// sub-workflow boundary.
	wantChain := map[string]string{
		"first/a":     "first/b",
		"first/b":     "main/middle",
		"main/middle": "last/z",
		"last/z":      "",
	}
	for name, next := range wantChain {
		step, ok := w.steps[name]
		if !ok {
			t.Fatalf("step %q missing from compiled workflow", name)
		}
		if step.next != next {
			t.Errorf("step %q links to %q, want %q", name, step.next, next)
		}
	}
}

func TestNewRegistry_CallThenOverridesContinuation(t *testing.T) {
	defs := []Definition{
		{
			Name: "main",
			Elements: []Element{
				Run("route", noopStep),
				CallThen("branch-a", "tail/end"),
				CallThen("branch-b", "tail/end"),
				Call("tail"),
			},
		},
		{Name: "branch-a", Elements: []Element{Run("go", noopStep)}},
		{Name: "branch-b", Elements: []Element{Run("go", noopStep)}},
		{Name: "tail", Elements: []Element{Run("end", noopStep)}},
	}

	r, err := NewRegistry(defs...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := r.Lookup("main")
	for _, name := range []string{"branch-a/go", "branch-b/go"} {
		if got := w.steps[name].next; got != "tail/end" {
			t.Errorf("%s links to %q, want tail/end (both branches converge)", name, got)
		}
	}
}

func TestNewRegistry_UnknownReference(t *testing.T) {
	_, err := NewRegistry(Definition{
		Name:     "main",
		Elements: []Element{Call("missing")},
	})
	if err == nil {
		t.Fatal("expected an error for a dangling workflow reference")
	}
}

func TestNewRegistry_CyclicComposition(t *testing.T) {
	_, err := NewRegistry(
		Definition{Name: "a", Elements: []Element{Call("b")}},
		Definition{Name: "b", Elements: []Element{Call("a")}},
	)
	if err == nil {
		t.Fatal("expected an error for a compositional cycle")
	}
}

func TestNewRegistry_DanglingContinuation(t *testing.T) {
	_, err := NewRegistry(
		Definition{
			Name:     "main",
			Elements: []Element{CallThen("sub", "main/nowhere")},
		},
		Definition{Name: "sub", Elements: []Element{Run("s", noopStep)}},
	)
	if err == nil {
		t.Fatal("expected an error for a continuation naming an unknown step")
	}
}

func TestNewRegistry_EmptyAndDuplicate(t *testing.T) {
	if _, err := NewRegistry(Definition{Name: "empty"}); err == nil {
		t.Error("expected an error for a definition with no steps")
	}

	if _, err := NewRegistry(
		Definition{Name: "dup", Elements: []Element{Run("x", noopStep)}},
		Definition{Name: "dup", Elements: []Element{Run("y", noopStep)}},
	); err == nil {
		t.Error("expected an error for duplicate definition names")
	}

	if _, err := NewRegistry(Definition{
		Name:     "main",
		Elements: []Element{Run("x", noopStep), Run("x", noopStep)},
	}); err == nil {
		t.Error("expected an error for duplicate step names")
	}
}

func TestLifecycleDefinitionsCompile(t *testing.T) {
	lc := &Lifecycle{}
	r, err := NewRegistry(lc.Definitions()...)
	if err != nil {
		t.Fatalf("lifecycle definitions must compile: %v", err)
	}

	w, ok := r.Lookup(MainWorkflow)
	if !ok {
		t.Fatal("main lifecycle workflow not registered")
	}
	if w.Entry() != "preroll/mark-deploy" {
		t.Errorf("entry = %q, want preroll/mark-deploy", w.Entry())
	}

	// Both deploy branches converge on the scaled transition and both
	// destroy branches converge on postroll.
	for step, want := range map[string]string{
		"deploy-automation/poll":  MainWorkflow + "/mark-scaled",
		"deploy-catalog/poll":     MainWorkflow + "/mark-scaled",
		"destroy-automation/poll": "postroll/mark-ended",
		"destroy-catalog/poll":    "postroll/mark-ended",
		"postroll/mark-ended":     "",
	} {
		if got := w.steps[step].next; got != want {
			t.Errorf("step %q links to %q, want %q", step, got, want)
		}
	}
}
