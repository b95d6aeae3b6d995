package progress

import (
	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/engine"
)

// Multi пишет прогресс во все приёмники по порядку.
type Multi []engine.ProgressSink

// WriteProgress реализует engine.ProgressSink.
func (m Multi) WriteProgress(runID uuid.UUID, path string, value any, mode engine.ProgressMode) {
	for _, sink := range m {
		if sink != nil {
			sink.WriteProgress(runID, path, value, mode)
		}
	}
}
