package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
	"github.com/shaiso/autonet/internal/mq"
	"github.com/shaiso/autonet/internal/progress"
	"github.com/shaiso/autonet/internal/repo"
	"github.com/shaiso/autonet/internal/runner"
)

const testDefinition = `
devices:
  - name: r1
    ip_address: 10.0.0.1
  - name: r2
    ip_address: 10.0.0.2

graphs:
  - name: backup
    run_method: per_service_with_workflow_targets
    targets: [r1, r2]
    effort_minutes: 5
    jobs:
      - name: collect
        type: transform
        config:
          path: "/backups/{{ .Device.Name }}"
    edges:
      - {subtype: success, source: Start, destination: collect}
      - {subtype: success, source: collect, destination: End}

  - name: slow
    jobs:
      - name: wait
        type: block
      - name: after
        type: noop
    edges:
      - {subtype: success, source: Start, destination: wait}
      - {subtype: success, source: wait, destination: after}
      - {subtype: success, source: after, destination: End}
`

// --- fakes ---

type fakeRuns struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]domain.Run
	claimErr error
}

func newFakeRuns(runs ...*domain.Run) *fakeRuns {
	f := &fakeRuns{runs: make(map[uuid.UUID]domain.Run)}
	for _, r := range runs {
		f.runs[r.ID] = *r
	}
	return f
}

func (f *fakeRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRuns) ListPending(_ context.Context, limit int) ([]domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Run
	for _, r := range f.runs {
		if r.Status == domain.RunStatusPending && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuns) Claim(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.claimErr
	}
	if f.runs[run.ID].Status != domain.RunStatusPending {
		return repo.ErrInvalidState
	}
	run.MarkRunning()
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRuns) Update(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRuns) get(id uuid.UUID) domain.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

type fakeGraphs struct {
	versions map[string]*domain.GraphVersion
}

func newFakeGraphs(t *testing.T) *fakeGraphs {
	t.Helper()
	def, err := engine.ParseDefinition([]byte(testDefinition), engine.FormatYAML)
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	f := &fakeGraphs{versions: make(map[string]*domain.GraphVersion)}
	for _, g := range def.Graphs {
		f.versions[g.Name] = &domain.GraphVersion{GraphName: g.Name, Version: 3, Definition: *def}
	}
	return f
}

func (f *fakeGraphs) GetVersion(_ context.Context, name string, version int) (*domain.GraphVersion, error) {
	v, ok := f.versions[name]
	if !ok || (version > 0 && version != v.Version) {
		return nil, repo.ErrNotFound
	}
	return v, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	completed []domain.Run
}

func (f *fakePublisher) PublishRunCompleted(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, *run)
	return nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []uuid.UUID
}

func (f *fakeRecorder) RecordRun(run *domain.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run.ID)
}

// blockingExecutor ждёт release, сообщив о старте в entered.
type blockingExecutor struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, _ *runner.Task) (*runner.ExecutionResult, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &runner.ExecutionResult{}, nil
}

type fixture struct {
	orch      *Orchestrator
	runs      *fakeRuns
	publisher *fakePublisher
	recorder  *fakeRecorder
	progress  *progress.Memory
	block     *blockingExecutor
}

func newFixture(t *testing.T, runs ...*domain.Run) *fixture {
	t.Helper()

	block := &blockingExecutor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	registry := runner.NewRegistry()
	registry.Register("block", block)

	f := &fixture{
		runs:      newFakeRuns(runs...),
		publisher: &fakePublisher{},
		recorder:  &fakeRecorder{},
		progress:  progress.NewMemory(),
		block:     block,
	}
	f.orch = New(Config{
		RunRepo:           f.runs,
		GraphRepo:         newFakeGraphs(t),
		Publisher:         f.publisher,
		Registry:          registry,
		Progress:          f.progress,
		Recorder:          f.recorder,
		MaxConcurrentRuns: 2,
	})
	return f
}

func pendingRun(graph string) *domain.Run {
	return &domain.Run{
		ID:        uuid.New(),
		GraphName: graph,
		Status:    domain.RunStatusPending,
		CreatedAt: time.Now(),
	}
}

// start занимает слот и запускает run так же, как это делают consumer и poll.
func (f *fixture) start(t *testing.T, id uuid.UUID) error {
	t.Helper()
	if !f.orch.slots.TryAcquire(1) {
		t.Fatal("no free slots")
	}
	err := f.orch.startRun(t.Context(), id)
	if err != nil {
		f.orch.slots.Release(1)
	}
	return err
}

// --- tests ---

func TestOrchestrator_RunSucceeds(t *testing.T) {
	run := pendingRun("backup")
	f := newFixture(t, run)

	if err := f.start(t, run.ID); err != nil {
		t.Fatalf("startRun: %v", err)
	}
	f.orch.runs.Wait()

	got := f.runs.get(run.ID)
	if got.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, error = %q", got.Status, got.Error)
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want resolved latest 3", got.Version)
	}
	if got.EffortMinutes != 5 {
		t.Errorf("effort = %d, want 5", got.EffortMinutes)
	}
	if got.Result.Summary == nil || len(got.Result.Summary.Success) != 2 {
		t.Errorf("summary = %+v", got.Result.Summary)
	}
	if _, ok := got.JobResults["backup/collect"]; !ok {
		t.Errorf("job results = %v", got.JobResults)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps must be set")
	}

	if len(f.publisher.completed) != 1 || f.publisher.completed[0].ID != run.ID {
		t.Errorf("completed events = %v", f.publisher.completed)
	}
	if len(f.recorder.runs) != 1 {
		t.Errorf("recorded runs = %v", f.recorder.runs)
	}
	if f.orch.ActiveRunsCount() != 0 {
		t.Errorf("active runs = %d", f.orch.ActiveRunsCount())
	}
	// Прогресс в памяти очищается после завершения
	if snap := f.progress.Snapshot(run.ID); len(snap) != 0 {
		t.Errorf("progress not forgotten: %v", snap)
	}
}

func TestOrchestrator_RunTargetsOverride(t *testing.T) {
	run := pendingRun("backup")
	run.Targets = []string{"r2"}
	f := newFixture(t, run)

	if err := f.start(t, run.ID); err != nil {
		t.Fatalf("startRun: %v", err)
	}
	f.orch.runs.Wait()

	got := f.runs.get(run.ID)
	if s := got.Result.Summary; s == nil || len(s.Success) != 1 || s.Success[0] != "r2" {
		t.Errorf("summary = %+v", got.Result.Summary)
	}
}

func TestOrchestrator_UnknownGraphFails(t *testing.T) {
	run := pendingRun("missing")
	f := newFixture(t, run)

	if err := f.start(t, run.ID); err != nil {
		t.Fatalf("startRun: %v", err)
	}
	f.orch.runs.Wait()

	got := f.runs.get(run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Errorf("status = %s", got.Status)
	}
	if got.Error == "" {
		t.Error("error must be recorded")
	}
	if len(f.publisher.completed) != 1 {
		t.Error("failed run must still be published")
	}
}

func TestOrchestrator_NotPending(t *testing.T) {
	run := pendingRun("backup")
	run.Status = domain.RunStatusSucceeded
	f := newFixture(t, run)

	err := f.start(t, run.ID)
	if !errors.Is(err, ErrRunNotPending) {
		t.Errorf("err = %v, want ErrRunNotPending", err)
	}
}

func TestOrchestrator_ClaimedElsewhere(t *testing.T) {
	run := pendingRun("backup")
	f := newFixture(t, run)
	f.runs.claimErr = repo.ErrInvalidState

	err := f.start(t, run.ID)
	if !errors.Is(err, ErrRunNotPending) {
		t.Errorf("err = %v, want ErrRunNotPending", err)
	}
	if f.orch.ActiveRunsCount() != 0 {
		t.Error("run must not stay active after failed claim")
	}
}

func TestOrchestrator_RunNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.start(t, uuid.New())
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestOrchestrator_Cancel(t *testing.T) {
	run := pendingRun("slow")
	f := newFixture(t, run)

	if err := f.start(t, run.ID); err != nil {
		t.Fatalf("startRun: %v", err)
	}

	// Ждём, пока job wait начнёт выполняться
	select {
	case <-f.block.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	stats, ok := f.orch.GetActiveRunStats(run.ID)
	if !ok || stats.GraphName != "slow" {
		t.Errorf("stats = %+v, ok = %v", stats, ok)
	}

	if err := f.orch.CancelRun(run.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	close(f.block.release)
	f.orch.runs.Wait()

	got := f.runs.get(run.ID)
	if got.Status != domain.RunStatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
	if !got.Result.IsAborted() {
		t.Errorf("result = %+v, want Aborted", got.Result)
	}
	// Job после остановки не выполнялся
	if _, ok := got.JobResults["slow/after"]; ok {
		t.Error("job after stop must not run")
	}
}

func TestOrchestrator_CancelNotActive(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.CancelRun(uuid.New()); !errors.Is(err, ErrRunNotActive) {
		t.Errorf("err = %v, want ErrRunNotActive", err)
	}
}

func TestOrchestrator_HandleRunCancel(t *testing.T) {
	f := newFixture(t)
	state := NewRunState(pendingRun("slow"))
	if err := f.orch.addActiveRun(state); err != nil {
		t.Fatal(err)
	}

	msg := mq.NewMessage(mq.MessageTypeRunCancel, mq.RunPayload{RunID: state.RunID()})
	if err := f.orch.handleRunCancel(t.Context(), &mq.Delivery{Message: *msg}); err != nil {
		t.Fatalf("handleRunCancel: %v", err)
	}
	if !state.Stopping() {
		t.Error("run must be stopping")
	}

	// Отмена до Attach применяется к обходу при подключении
	walk := engine.NewRun(nil)
	state.Attach(walk)
	if !walk.Stopped() {
		t.Error("walk must be stopped on attach")
	}
}

func TestRunState_VersionVisibleToStats(t *testing.T) {
	state := NewRunState(pendingRun("backup"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		state.SetVersion(3)
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			_ = state.Stats()
		}
	}()
	wg.Wait()

	if got := state.Stats().Version; got != 3 {
		t.Errorf("Version = %d, want 3", got)
	}
}

func TestOrchestrator_HandleRunRequested(t *testing.T) {
	run := pendingRun("backup")
	f := newFixture(t, run)

	msg := mq.NewMessage(mq.MessageTypeRunRequested, mq.RunPayload{RunID: run.ID})
	if err := f.orch.handleRunRequested(t.Context(), &mq.Delivery{Message: *msg}); err != nil {
		t.Fatalf("handleRunRequested: %v", err)
	}
	f.orch.runs.Wait()

	if got := f.runs.get(run.ID); got.Status != domain.RunStatusSucceeded {
		t.Errorf("status = %s", got.Status)
	}

	// Повторная доставка того же сообщения — не ошибка
	if err := f.orch.handleRunRequested(t.Context(), &mq.Delivery{Message: *msg}); err != nil {
		t.Errorf("redelivery: %v", err)
	}
}

func TestOrchestrator_Poll(t *testing.T) {
	a, b := pendingRun("backup"), pendingRun("backup")
	f := newFixture(t, a, b)

	f.orch.poll(t.Context())
	f.orch.runs.Wait()

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		if got := f.runs.get(id); got.Status != domain.RunStatusSucceeded {
			t.Errorf("run %s status = %s", id, got.Status)
		}
	}
}

func TestOrchestrator_PollRespectsSlots(t *testing.T) {
	a, b := pendingRun("backup"), pendingRun("backup")
	f := newFixture(t, a, b)

	// Оба слота заняты
	if !f.orch.slots.TryAcquire(2) {
		t.Fatal("acquire slots")
	}
	f.orch.poll(t.Context())
	f.orch.slots.Release(2)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		if got := f.runs.get(id); got.Status != domain.RunStatusPending {
			t.Errorf("run %s status = %s, want PENDING", id, got.Status)
		}
	}
}

func TestOrchestrator_RestartFrom(t *testing.T) {
	prev := pendingRun("backup")
	prev.Status = domain.RunStatusFailed
	prev.JobResults = map[string]*domain.Result{"backup/collect": {Success: true}}

	run := pendingRun("backup")
	run.RestartFrom = &prev.ID
	f := newFixture(t, prev, run)

	got, err := f.orch.restartResults(t.Context(), run)
	if err != nil {
		t.Fatalf("restartResults: %v", err)
	}
	if res := got["backup/collect"]; res == nil || !res.Success {
		t.Errorf("restart results = %v", got)
	}

	missing := uuid.New()
	run.RestartFrom = &missing
	if _, err := f.orch.restartResults(t.Context(), run); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}
