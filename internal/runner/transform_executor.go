package runner

import (
	"context"
	"maps"
)

// TransformExecutor — executor для job'а типа "transform".
//
// Раннер уже отрендерил config шаблонами (устройство, payload run'а,
// результаты предыдущих job'ов), поэтому transform просто возвращает
// его как outputs. Так данные перекладываются между job'ами графа.
type TransformExecutor struct{}

// Execute возвращает payload как outputs.
func (e *TransformExecutor) Execute(_ context.Context, task *Task) (*ExecutionResult, error) {
	outputs := maps.Clone(task.Payload)
	if outputs == nil {
		outputs = make(map[string]any)
	}
	if name := task.DeviceName(); name != "" {
		outputs["device"] = name
	}

	return &ExecutionResult{Outputs: outputs}, nil
}
