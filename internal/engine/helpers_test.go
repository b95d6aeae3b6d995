package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/autonet/internal/domain"
)

// fakeRunner — LeafRunner, поведение которого задаётся по имени job.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	behave map[string]func(inv *Invocation) *domain.Result
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{behave: make(map[string]func(inv *Invocation) *domain.Result)}
}

func (f *fakeRunner) RunJob(_ context.Context, inv *Invocation) *domain.Result {
	f.mu.Lock()
	f.calls = append(f.calls, inv.Job.Name)
	fn := f.behave[inv.Job.Name]
	f.mu.Unlock()

	if fn == nil {
		return succeed(inv)
	}
	return fn(inv)
}

func (f *fakeRunner) count(job string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == job {
			n++
		}
	}
	return n
}

func (f *fakeRunner) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// succeed — job успешен для всех дошедших устройств.
func succeed(inv *Invocation) *domain.Result {
	res := &domain.Result{Success: true}
	if inv.Tracking {
		res.Summary = &domain.Summary{Success: domain.DeviceNames(inv.Targets), Failure: []string{}}
	}
	return res
}

// fail — job упал для всех дошедших устройств.
func fail(inv *Invocation) *domain.Result {
	res := &domain.Result{Success: false, Result: "failed"}
	if inv.Tracking {
		res.Summary = &domain.Summary{Success: []string{}, Failure: domain.DeviceNames(inv.Targets)}
	}
	return res
}

// memorySink — ProgressSink для тестов.
type memorySink struct {
	mu     sync.Mutex
	values map[string]any
}

func newMemorySink() *memorySink {
	return &memorySink{values: make(map[string]any)}
}

func (m *memorySink) WriteProgress(_ uuid.UUID, path string, value any, mode ProgressMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode == ProgressIncrement {
		prev, _ := m.values[path].(int)
		m.values[path] = prev + value.(int)
		return
	}
	m.values[path] = value
}

func (m *memorySink) get(path string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[path]
}

func newTestGraph(t *testing.T, name string, method domain.RunMethod, jobs ...string) *domain.Graph {
	t.Helper()
	g := domain.NewGraph(name)
	g.RunMethod = method
	for _, j := range jobs {
		if err := g.AddJob(domain.NewJob(j, "noop")); err != nil {
			t.Fatalf("add job %s: %v", j, err)
		}
	}
	return g
}

func mustEdge(t *testing.T, g *domain.Graph, subtype domain.Outcome, src, dst string) *domain.Edge {
	t.Helper()
	e, err := g.AddEdge(subtype, src, dst)
	if err != nil {
		t.Fatalf("add edge %s -> %s: %v", src, dst, err)
	}
	return e
}

func mustJob(t *testing.T, g *domain.Graph, name string) *domain.Job {
	t.Helper()
	j, ok := g.Job(name)
	if !ok {
		t.Fatalf("job %s not found", name)
	}
	return j
}

func devices(names ...string) []*domain.Device {
	out := make([]*domain.Device, 0, len(names))
	for _, n := range names {
		out = append(out, &domain.Device{Name: n})
	}
	return out
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// singleJobGraph — Start -success-> A -success-> End, A -failure-> End.
func singleJobGraph(t *testing.T, method domain.RunMethod) *domain.Graph {
	t.Helper()
	g := newTestGraph(t, "single", method, "A")
	mustEdge(t, g, domain.OutcomeSuccess, domain.StartJobName, "A")
	mustEdge(t, g, domain.OutcomeSuccess, "A", domain.EndJobName)
	mustEdge(t, g, domain.OutcomeFailure, "A", domain.EndJobName)
	return g
}
