package runner

import (
	"context"
	"time"
)

// DelayExecutor — executor для job'а типа "delay".
//
// Ожидает указанное количество секунд, например пока устройство
// перезагружается. Поддерживает отмену через context.
//
// Config:
//   - duration_sec (number): длительность задержки в секундах (default: 1)
type DelayExecutor struct{}

// Execute выполняет задержку.
func (e *DelayExecutor) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	durationSec, ok := getNumber(task.Payload, "duration_sec")
	if !ok || durationSec <= 0 {
		durationSec = 1
	}

	timer := time.NewTimer(time.Duration(durationSec * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return &ExecutionResult{
			Outputs: map[string]any{"delayed_sec": durationSec},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
