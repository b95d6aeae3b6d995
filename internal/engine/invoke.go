package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/autonet/internal/domain"
)

// ErrNoRunner — листовой job встретился, а раннер не настроен.
var ErrNoRunner = errors.New("no leaf runner configured")

// leafInvoker вызывает LeafRunner.
type leafInvoker struct {
	runner LeafRunner
}

// Invoke выполняет листовой job. Паника раннера превращается в failure.
func (l *leafInvoker) Invoke(ctx context.Context, inv *Invocation) (res *domain.Result, err error) {
	if l.runner == nil {
		return nil, fmt.Errorf("%w: job %s", ErrNoRunner, inv.Job.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			res = &domain.Result{Success: false, Result: fmt.Sprintf("panic: %v", p)}
			err = nil
		}
	}()

	return l.runner.RunJob(ctx, inv), nil
}

// subgraphInvoker синхронно обходит вложенный граф Graph Job'а.
//
// Вложенный run делит флаг остановки с родителем, поэтому Stop
// корневого run'а останавливает и все вложенные обходы.
type subgraphInvoker struct {
	engine *Engine
}

// Invoke обходит вложенный граф и возвращает его агрегированный результат.
func (s *subgraphInvoker) Invoke(ctx context.Context, inv *Invocation) (*domain.Result, error) {
	nested := inv.Job.Workflow

	var targets []*domain.Device
	switch {
	case inv.Tracking:
		targets = inv.Targets
	case len(inv.Job.Targets) > 0:
		targets = s.engine.resolve(inv.Job.Targets)
	case len(nested.Targets) > 0:
		targets = s.engine.resolve(nested.Targets)
	}

	child := inv.Run.Child(nested, targets, inv.Device)
	if nested == inv.Run.Placeholder {
		child.Placeholder = nil
	}

	return s.engine.execute(ctx, child, nested)
}

// substitute подставляет граф run'а вместо job'а Placeholder.
func substitute(run *Run, job *domain.Job) *domain.Job {
	if job.Name != domain.PlaceholderJobName || run.Placeholder == nil {
		return job
	}
	p := job.Clone()
	p.Type = domain.JobTypeWorkflow
	p.Workflow = run.Placeholder
	return p
}
