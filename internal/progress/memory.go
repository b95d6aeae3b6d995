package progress

import (
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/engine"
)

// Memory хранит прогресс run'ов в памяти.
//
// Безопасен для одновременной записи из разных run'ов.
type Memory struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]map[string]any
}

// NewMemory создаёт пустой Memory.
func NewMemory() *Memory {
	return &Memory{runs: make(map[uuid.UUID]map[string]any)}
}

// WriteProgress реализует engine.ProgressSink.
func (m *Memory) WriteProgress(runID uuid.UUID, path string, value any, mode engine.ProgressMode) {
	m.update(runID, path, value, mode)
}

// update применяет запись и возвращает новое значение пути.
func (m *Memory) update(runID uuid.UUID, path string, value any, mode engine.ProgressMode) any {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, ok := m.runs[runID]
	if !ok {
		values = make(map[string]any)
		m.runs[runID] = values
	}

	if mode == engine.ProgressIncrement {
		if delta, ok := toInt(value); ok {
			current, _ := toInt(values[path])
			values[path] = current + delta
			return values[path]
		}
	}
	values[path] = value
	return value
}

// Snapshot возвращает копию прогресса run.
func (m *Memory) Snapshot(runID uuid.UUID) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.runs[runID])
}

// Get возвращает значение пути.
func (m *Memory) Get(runID uuid.UUID, path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.runs[runID][path]
	return v, ok
}

// Forget удаляет прогресс завершённого run.
func (m *Memory) Forget(runID uuid.UUID) {
	m.mu.Lock()
	delete(m.runs, runID)
	m.mu.Unlock()
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
