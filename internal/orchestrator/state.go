package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
)

// RunState — run, выполняющийся на этом экземпляре.
//
// Создаётся при захвате run и удаляется после сохранения результата.
// Отмена может прийти раньше, чем движок создаст engine.Run:
// в этом случае она применяется в момент Attach.
type RunState struct {
	// Run — данные run из БД.
	Run *domain.Run

	mu        sync.Mutex
	walk      *engine.Run
	stopping  bool
	startedAt time.Time
}

// NewRunState создаёт RunState.
func NewRunState(run *domain.Run) *RunState {
	return &RunState{Run: run, startedAt: time.Now()}
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// Attach связывает состояние с обходом движка.
func (s *RunState) Attach(walk *engine.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.walk = walk
	if s.stopping {
		walk.Stop()
	}
}

// Stop запрашивает остановку run.
func (s *RunState) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopping = true
	if s.walk != nil {
		s.walk.Stop()
	}
}

// SetVersion фиксирует версию графа, выбранную для run
// (0 в запросе означает последнюю).
func (s *RunState) SetVersion(version int) {
	s.mu.Lock()
	s.Run.Version = version
	s.mu.Unlock()
}

// Stopping сообщает, запрошена ли остановка.
func (s *RunState) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Stats возвращает снимок выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := RunStats{
		RunID:     s.Run.ID,
		GraphName: s.Run.GraphName,
		Version:   s.Run.Version,
		Elapsed:   time.Since(s.startedAt),
		Stopping:  s.stopping,
	}
	if s.walk != nil {
		stats.JobsFinished = len(s.walk.JobResults())
		stats.EffortMinutes = s.walk.EffortMinutes()
	}
	return stats
}

// RunStats — статистика выполняющегося run.
type RunStats struct {
	RunID         uuid.UUID     `json:"run_id"`
	GraphName     string        `json:"graph_name"`
	Version       int           `json:"version"`
	Elapsed       time.Duration `json:"elapsed"`
	JobsFinished  int           `json:"jobs_finished"`
	EffortMinutes int           `json:"effort_minutes"`
	Stopping      bool          `json:"stopping"`
}
