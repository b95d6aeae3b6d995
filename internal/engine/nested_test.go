package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shaiso/autonet/internal/domain"
)

// nestedGraphs — outer: Start -> B -> End, где B — Graph Job над inner: Start -> X -> End.
func nestedGraphs(t *testing.T) (outer, inner *domain.Graph) {
	t.Helper()
	inner = newTestGraph(t, "inner", domain.RunMethodWorkflowTargets, "X")
	mustEdge(t, inner, domain.OutcomeSuccess, domain.StartJobName, "X")
	mustEdge(t, inner, domain.OutcomeSuccess, "X", domain.EndJobName)

	outer = newTestGraph(t, "outer", domain.RunMethodWorkflowTargets)
	if err := outer.AddJob(domain.NewWorkflowJob("B", inner)); err != nil {
		t.Fatal(err)
	}
	mustEdge(t, outer, domain.OutcomeSuccess, domain.StartJobName, "B")
	mustEdge(t, outer, domain.OutcomeSuccess, "B", domain.EndJobName)
	return outer, inner
}

func TestExecute_NestedGraphSucceeds(t *testing.T) {
	outer, _ := nestedGraphs(t)

	runner := newFakeRunner()
	var xParent *Run
	runner.behave["X"] = func(inv *Invocation) *domain.Result {
		xParent = inv.Run.Parent
		return succeed(inv)
	}
	e := New(Config{Runner: runner})

	run := NewRun(devices("d1", "d2"))
	res, err := e.Execute(context.Background(), run, outer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || !equalNames(res.Summary.Success, []string{"d1", "d2"}) {
		t.Errorf("unexpected result: %+v", res)
	}

	b, ok := run.Result("B")
	if !ok || !b.Success {
		t.Fatalf("B should succeed, got %+v", b)
	}
	if !equalNames(b.Summary.Success, []string{"d1", "d2"}) || len(b.Summary.Failure) != 0 {
		t.Errorf("B should carry the nested summary, got %+v", b.Summary)
	}
	if xParent != run {
		t.Error("nested run should reference the parent run")
	}

	// Результаты вложенного графа доступны по пути
	if _, ok := run.JobResults()["outer/inner/X"]; !ok {
		t.Errorf("expected outer/inner/X in journal, got %v", run.JobResults())
	}
}

func TestExecute_NestedGraphPartialFailure(t *testing.T) {
	outer, _ := nestedGraphs(t)

	runner := newFakeRunner()
	runner.behave["X"] = func(*Invocation) *domain.Result {
		return &domain.Result{Success: false, Summary: &domain.Summary{
			Success: []string{"d1"},
			Failure: []string{"d2"},
		}}
	}
	e := New(Config{Runner: runner})

	res, err := e.Execute(context.Background(), NewRun(devices("d1", "d2")), outer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("d2 failed in the nested graph, run should fail")
	}
	if !equalNames(res.Summary.Success, []string{"d1"}) || !equalNames(res.Summary.Failure, []string{"d2"}) {
		t.Errorf("unexpected summary: %+v", res.Summary)
	}
}

func TestExecute_NestedStopSharedWithParent(t *testing.T) {
	outer, _ := nestedGraphs(t)

	runner := newFakeRunner()
	runner.behave["X"] = func(inv *Invocation) *domain.Result {
		inv.Run.Stop()
		return succeed(inv)
	}
	e := New(Config{Runner: runner})

	run := NewRun(devices("d1"))
	res, err := e.Execute(context.Background(), run, outer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsAborted() {
		t.Errorf("expected Aborted, got %+v", res)
	}
	if !run.Stopped() {
		t.Error("stop in nested run should be visible to the parent")
	}
}

func TestExecute_NestedEffortNotCounted(t *testing.T) {
	outer, inner := nestedGraphs(t)
	inner.EffortMinutes = 100

	run := NewRun(devices("d1"))
	if _, err := New(Config{Runner: newFakeRunner()}).Execute(context.Background(), run, outer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.EffortMinutes() != 0 {
		t.Errorf("only the top-level graph accounts effort, got %d", run.EffortMinutes())
	}
}

func TestExecute_MaxDepth(t *testing.T) {
	g3 := newTestGraph(t, "g3", domain.RunMethodServiceTargets)
	mustEdge(t, g3, domain.OutcomeSuccess, domain.StartJobName, domain.EndJobName)

	g2 := newTestGraph(t, "g2", domain.RunMethodServiceTargets)
	g2.AddJob(domain.NewWorkflowJob("to-g3", g3))
	mustEdge(t, g2, domain.OutcomeSuccess, domain.StartJobName, "to-g3")
	mustEdge(t, g2, domain.OutcomeSuccess, "to-g3", domain.EndJobName)

	g1 := newTestGraph(t, "g1", domain.RunMethodServiceTargets)
	g1.AddJob(domain.NewWorkflowJob("to-g2", g2))
	mustEdge(t, g1, domain.OutcomeSuccess, domain.StartJobName, "to-g2")
	mustEdge(t, g1, domain.OutcomeSuccess, "to-g2", domain.EndJobName)

	_, err := New(Config{Runner: newFakeRunner(), MaxDepth: 1}).Execute(context.Background(), NewRun(nil), g1)
	if !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("expected ErrMaxDepthExceeded, got %v", err)
	}

	res, err := New(Config{Runner: newFakeRunner(), MaxDepth: 2}).Execute(context.Background(), NewRun(nil), g1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("expected success with enough depth")
	}
}

func TestExecute_SelfReferenceRejected(t *testing.T) {
	g := newTestGraph(t, "loop", domain.RunMethodServiceTargets)
	g.AddJob(domain.NewWorkflowJob("self", g))

	_, err := New(Config{Runner: newFakeRunner()}).Execute(context.Background(), NewRun(nil), g)
	if !errors.Is(err, ErrRecursiveWorkflow) {
		t.Errorf("expected ErrRecursiveWorkflow, got %v", err)
	}
}

func TestExecute_Placeholder(t *testing.T) {
	wrapped := newTestGraph(t, "wrapped", domain.RunMethodServiceTargets, "W")
	mustEdge(t, wrapped, domain.OutcomeSuccess, domain.StartJobName, "W")
	mustEdge(t, wrapped, domain.OutcomeSuccess, "W", domain.EndJobName)

	super := newTestGraph(t, "super", domain.RunMethodServiceTargets, domain.PlaceholderJobName)
	mustEdge(t, super, domain.OutcomeSuccess, domain.StartJobName, domain.PlaceholderJobName)
	mustEdge(t, super, domain.OutcomeSuccess, domain.PlaceholderJobName, domain.EndJobName)

	runner := newFakeRunner()
	run := NewRun(nil)
	run.Placeholder = wrapped

	res, err := New(Config{Runner: runner}).Execute(context.Background(), run, super)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if got := runner.order(); !equalNames(got, []string{"W"}) {
		t.Errorf("placeholder should run the wrapped graph, calls: %v", got)
	}
}
